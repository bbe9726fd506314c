package engine

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/errors"
)

const wasiModuleName = "wasi_snapshot_preview1"

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// CloseOnContextDone stops running guest code when the call context is
	// cancelled.
	CloseOnContextDone bool

	// WASI links wasi_snapshot_preview1 for guests built against it.
	WASI bool

	// Stdout and Stderr receive WASI output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// WazeroEngine compiles guests and instantiates them, one wazero runtime
// per guest.
type WazeroEngine struct {
	cfg    Config
	cache  wazero.CompilationCache
	logger *zap.Logger
}

// NewWazeroEngine creates an engine with its own compilation cache.
func NewWazeroEngine(cfg Config) *WazeroEngine {
	return &WazeroEngine{
		cfg:    cfg,
		cache:  wazero.NewCompilationCache(),
		logger: Logger(),
	}
}

func (e *WazeroEngine) runtimeConfig() wazero.RuntimeConfig {
	rc := wazero.NewRuntimeConfig().
		WithCompilationCache(e.cache).
		WithCloseOnContextDone(e.cfg.CloseOnContextDone)
	if e.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	return rc
}

// Close releases the compilation cache.
func (e *WazeroEngine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}

// importSig is the signature of one function the guest imports.
type importSig struct {
	module, name    string
	params, results []api.ValueType
}

// WazeroModule is a validated guest binary.
type WazeroModule struct {
	engine  *WazeroEngine
	bin     []byte
	imports []importSig
	exports []string
}

// Compile validates wasmBytes and warms the compilation cache.
func (e *WazeroEngine) Compile(ctx context.Context, wasmBytes []byte) (*WazeroModule, error) {
	r := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig())
	defer r.Close(ctx) //nolint:errcheck

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile failed", err)
	}
	m := &WazeroModule{engine: e, bin: wasmBytes}
	for _, fn := range compiled.ImportedFunctions() {
		mod, name, _ := fn.Import()
		m.imports = append(m.imports, importSig{
			module:  mod,
			name:    name,
			params:  fn.ParamTypes(),
			results: fn.ResultTypes(),
		})
	}
	for name := range compiled.ExportedFunctions() {
		m.exports = append(m.exports, name)
	}
	sort.Strings(m.exports)
	if _, ok := compiled.ExportedMemories()["memory"]; !ok {
		return nil, errors.Load("guest does not export memory", nil)
	}
	e.logger.Debug("module compiled",
		zap.Int("size", len(wasmBytes)),
		zap.Int("imports", len(m.imports)),
		zap.Int("exports", len(m.exports)))
	return m, nil
}

// Exports lists the exported function names.
func (m *WazeroModule) Exports() []string { return m.exports }

// checkImports reports imports the host cannot satisfy.
func (m *WazeroModule) checkImports(funcs []bridge.HostFunc) error {
	provided := make(map[string]bridge.HostFunc, len(funcs))
	for _, f := range funcs {
		provided[f.Name] = f
	}
	var missing []string
	for _, imp := range m.imports {
		switch imp.module {
		case bridge.ModuleName:
			f, ok := provided[imp.name]
			if !ok {
				missing = append(missing, imp.module+"#"+imp.name)
				continue
			}
			if !slices.Equal(f.Params, imp.params) || !slices.Equal(f.Results, imp.results) {
				return errors.New(errors.PhaseLinking, errors.KindTypeMismatch).
					Op(imp.name).
					Detail("guest imports %s -> %s, host provides %s -> %s",
						typeNames(imp.params), typeNames(imp.results),
						typeNames(f.Params), typeNames(f.Results)).
					Build()
			}
		case wasiModuleName:
			if !m.engine.cfg.WASI {
				missing = append(missing, imp.module+"#"+imp.name)
			}
		default:
			missing = append(missing, imp.module+"#"+imp.name)
		}
	}
	if len(missing) > 0 {
		return errors.NewMissingImportsError(missing)
	}
	return nil
}

func typeNames(types []api.ValueType) string {
	out := "("
	for i, t := range types {
		if i > 0 {
			out += ", "
		}
		out += api.ValueTypeName(t)
	}
	return out + ")"
}

// Instantiate links funcs as the bridge host module and instantiates the
// guest in a fresh runtime.
func (m *WazeroModule) Instantiate(ctx context.Context, funcs []bridge.HostFunc) (*WazeroGuest, error) {
	if err := m.checkImports(funcs); err != nil {
		return nil, err
	}
	e := m.engine
	r := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig())
	guest, err := m.instantiate(ctx, r, funcs)
	if err != nil {
		r.Close(ctx) //nolint:errcheck
		return nil, err
	}
	return guest, nil
}

func (m *WazeroModule) instantiate(ctx context.Context, r wazero.Runtime, funcs []bridge.HostFunc) (*WazeroGuest, error) {
	e := m.engine
	if e.cfg.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
			return nil, errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err, "instantiate WASI")
		}
	}

	builder := r.NewHostModuleBuilder(bridge.ModuleName)
	for _, f := range funcs {
		fn := f.Fn
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, _ api.Module, stack []uint64) {
				fn(ctx, stack)
			}), f.Params, f.Results).
			WithName(f.Name).
			Export(f.Name)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return nil, errors.Wrap(errors.PhaseLinking, errors.KindInstantiation, err, "instantiate host module")
	}

	compiled, err := r.CompileModule(ctx, m.bin)
	if err != nil {
		return nil, errors.Load("compile failed", err)
	}
	modCfg := wazero.NewModuleConfig().
		WithName("guest").
		WithStartFunctions()
	if e.cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(e.cfg.Stdout)
	}
	if e.cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(e.cfg.Stderr)
	}
	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	if mod.Memory() == nil {
		return nil, errors.Load("guest does not export memory", nil)
	}
	e.logger.Debug("guest instantiated", zap.Int("host_funcs", len(funcs)))
	return &WazeroGuest{
		runtime: r,
		mod:     mod,
		defs:    mod.ExportedFunctionDefinitions(),
		idle:    make(map[string][]api.Function),
	}, nil
}

// WazeroGuest is an instantiated guest. It satisfies wasmbridge.Guest.
type WazeroGuest struct {
	runtime wazero.Runtime
	mod     api.Module
	defs    map[string]api.FunctionDefinition

	// idle holds functions not currently in a call. An api.Function runs one
	// call at a time, so nested calls from host functions take their own.
	mu   sync.Mutex
	idle map[string][]api.Function
}

func (g *WazeroGuest) acquire(name string) api.Function {
	g.mu.Lock()
	defer g.mu.Unlock()
	if fns := g.idle[name]; len(fns) > 0 {
		fn := fns[len(fns)-1]
		g.idle[name] = fns[:len(fns)-1]
		return fn
	}
	return g.mod.ExportedFunction(name)
}

func (g *WazeroGuest) release(name string, fn api.Function) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idle[name] = append(g.idle[name], fn)
}

// idleCount returns the number of pooled functions for name.
func (g *WazeroGuest) idleCount(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.idle[name])
}

// Memory returns the exported linear memory.
func (g *WazeroGuest) Memory() wasmbridge.Memory { return g.mod.Memory() }

// Exports reports whether the guest exports function name.
func (g *WazeroGuest) Exports(name string) bool {
	_, ok := g.defs[name]
	return ok
}

// Call invokes an exported function.
func (g *WazeroGuest) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if !g.Exports(name) {
		return nil, errors.NotFound(errors.PhaseCall, "export", name)
	}
	fn := g.acquire(name)
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	// Results alias the function's stack, so copy them before reuse.
	res = slices.Clone(res)
	g.release(name, fn)
	return res, nil
}

var _ wasmbridge.Guest = (*WazeroGuest)(nil)

// Close closes the guest's runtime.
func (g *WazeroGuest) Close(ctx context.Context) error {
	return g.runtime.Close(ctx)
}
