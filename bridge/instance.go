package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/abi"
	"github.com/wippyai/wasm-bridge/closure"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/fetch"
	"github.com/wippyai/wasm-bridge/heap"
	"github.com/wippyai/wasm-bridge/memory"
	"github.com/wippyai/wasm-bridge/value"
)

// ModuleName is the import module the guest links host functions from.
const ModuleName = "bridge"

// Guest exports called by the instance.
const (
	ExportStart          = "__wbindgen_start"
	ExportEntry          = "entry"
	ExportHandler        = "handler"
	ExportSetEnvs        = "set_envs"
	ExportClosureDestroy = "__bridge_closure_destroy"
)

// MaxClosureArgs is the largest argument count with an invoke shim.
const MaxClosureArgs = 2

// ExportClosureInvoke returns the invoke shim export for n arguments.
func ExportClosureInvoke(n int) string {
	return fmt.Sprintf("__bridge_closure_invoke_%d", n)
}

// Instance is the host side of one guest.
type Instance struct {
	loop     *eventloop.Loop
	heap     *heap.Table
	closures *closure.Registry
	logger   *zap.Logger
	guestLog *zap.Logger

	guest wasmbridge.Guest
	views *memory.Views
	abi   *abi.Marshaler
	stack abi.Stack

	imports []HostFunc

	entered    bool
	envsSet    bool
	envsWarned bool
	lastExn    value.Value
	exceptions uint64
}

// Option configures an Instance.
type Option func(*instanceConfig)

type instanceConfig struct {
	logger   *zap.Logger
	heapOpts []heap.Option
}

// WithLogger sets the instance logger. Guest console output goes to its
// "guest" child.
func WithLogger(l *zap.Logger) Option {
	return func(c *instanceConfig) { c.logger = l }
}

// WithHeapOptions passes options to the handle table.
func WithHeapOptions(opts ...heap.Option) Option {
	return func(c *instanceConfig) { c.heapOpts = append(c.heapOpts, opts...) }
}

// New creates an instance bound to loop. Its imports are available right
// away; the guest is attached once instantiated.
func New(loop *eventloop.Loop, opts ...Option) *Instance {
	cfg := instanceConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = Logger()
	}
	in := &Instance{
		loop:     loop,
		heap:     heap.New(cfg.heapOpts...),
		logger:   cfg.logger,
		guestLog: cfg.logger.Named("guest"),
	}
	in.closures = closure.NewRegistry(trampoline{in}, cfg.logger)
	in.heap.Subscribe(heap.ObserverFunc(in.trackGuestObjects))
	in.imports = in.buildImports()
	return in
}

// Loop returns the event loop the instance runs on.
func (in *Instance) Loop() *eventloop.Loop { return in.loop }

// Heap returns the handle table.
func (in *Instance) Heap() *heap.Table { return in.heap }

// Closures returns the closure registry.
func (in *Instance) Closures() *closure.Registry { return in.closures }

// Imports returns the host functions of the bridge module.
func (in *Instance) Imports() []HostFunc { return in.imports }

// Attach binds the instantiated guest and runs its start export if present.
func (in *Instance) Attach(ctx context.Context, g wasmbridge.Guest) error {
	if in.guest != nil {
		return errors.InvalidState(errors.PhaseLoad, "attach", "guest already attached")
	}
	in.guest = g
	in.views = memory.New(g.Memory())
	in.abi = abi.New(in.views, abi.NewGuestAllocator(g))
	in.stack = abi.Stack{Guest: g}
	if g.Exports(ExportStart) {
		if _, err := in.call(ctx, ExportStart); err != nil {
			return err
		}
	}
	return nil
}

// Entry calls the guest entry export. Only the first call reaches the guest.
func (in *Instance) Entry(ctx context.Context) error {
	if in.entered {
		return nil
	}
	in.entered = true
	_, err := in.call(ctx, ExportEntry)
	return err
}

// SetEnvs hands the environment to the guest as an object with sorted keys.
func (in *Instance) SetEnvs(ctx context.Context, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := in.alloc(value.ObjectFromMap(keys, env))
	if _, err := in.call(ctx, ExportSetEnvs, uint64(h)); err != nil {
		return err
	}
	in.envsSet = true
	return nil
}

// Handler passes req to the guest handler and returns the promise it
// produced. A non-promise result is wrapped in a fulfilled promise.
func (in *Instance) Handler(ctx context.Context, req *fetch.Request) (*eventloop.Promise, error) {
	if !in.envsSet && !in.envsWarned {
		in.envsWarned = true
		in.logger.Warn("handler called before set_envs")
	}
	h := in.alloc(req)
	res, err := in.call(ctx, ExportHandler, uint64(h))
	if err != nil {
		return nil, err
	}
	return in.takePromise(res)
}

// LastException returns the most recent value stored through
// __wbindgen_exn_store, or nil.
func (in *Instance) LastException() value.Value { return in.lastExn }

// Stats summarises the instance state.
type Stats struct {
	Heap       heap.Stats
	Closures   closure.Stats
	Exceptions uint64
}

// Stats returns a snapshot of heap and closure counters.
func (in *Instance) Stats() Stats {
	return Stats{
		Heap:       in.heap.Stats(),
		Closures:   in.closures.Stats(),
		Exceptions: in.exceptions,
	}
}

// Close frees guest objects still referenced by the handle table.
func (in *Instance) Close() error {
	return in.heap.Close()
}

// call invokes a guest export and normalizes traps.
func (in *Instance) call(ctx context.Context, name string, params ...uint64) (res []uint64, err error) {
	if in.guest == nil {
		return nil, errors.NotInitialized(errors.PhaseCall, "guest")
	}
	defer func() {
		if r := recover(); r != nil {
			err = trapError(name, r)
		}
	}()
	res, err = in.guest.Call(ctx, name, params...)
	if err != nil {
		return nil, trapError(name, err)
	}
	return res, nil
}

// trapError keeps bridge errors raised by imports and wraps everything else
// as a guest panic.
func trapError(op string, r any) error {
	err, ok := r.(error)
	if !ok {
		return errors.GuestPanic(op, fmt.Sprint(r), nil)
	}
	var be *errors.Error
	if stderrors.As(err, &be) {
		return be
	}
	return errors.GuestPanic(op, err.Error(), err)
}

// alloc returns the sentinel handle for undefined, null and booleans and
// allocates a slot for everything else.
func (in *Instance) alloc(v value.Value) heap.Handle {
	switch x := value.Or(v).(type) {
	case value.Bool:
		if x {
			return heap.True
		}
		return heap.False
	default:
		switch x.Kind() {
		case value.KindUndefined:
			return heap.Undefined
		case value.KindNull:
			return heap.Null
		}
	}
	return in.heap.Alloc(v)
}

func (in *Instance) get(h uint32) (value.Value, error) {
	return in.heap.Get(heap.Handle(h))
}

func (in *Instance) take(h uint32) (value.Value, error) {
	return in.heap.Take(heap.Handle(h))
}

// takePromise takes the handle in res[0] as a promise.
func (in *Instance) takePromise(res []uint64) (*eventloop.Promise, error) {
	if len(res) == 0 {
		return in.loop.Resolved(value.Undefined), nil
	}
	v, err := in.take(uint32(res[0]))
	if err != nil {
		return nil, err
	}
	if p, ok := v.(*eventloop.Promise); ok {
		return p, nil
	}
	return in.loop.Resolved(v), nil
}

// storeException hands err to the guest as a host value.
func (in *Instance) storeException(ctx context.Context, op string, err error) {
	v := value.FromError(err)
	in.lastExn = v
	in.exceptions++
	in.logger.Debug("import raised",
		zap.String("import", op),
		zap.Error(err))
	h := in.alloc(v)
	if _, cerr := in.call(ctx, abi.ExportExnStore, uint64(h)); cerr != nil {
		in.logger.Error("exception store failed",
			zap.String("import", op),
			zap.Error(cerr))
	}
}

// trampoline crosses into guest closures for the registry.
type trampoline struct{ in *Instance }

func (t trampoline) Invoke(ctx context.Context, env closure.Env, args []value.Value) error {
	in := t.in
	if len(args) > MaxClosureArgs {
		return errors.New(errors.PhaseClosure, errors.KindInvalidInput).
			Op("invoke").
			Detail("%d arguments, guest shims take at most %d", len(args), MaxClosureArgs).
			Build()
	}
	params := make([]uint64, 0, 3+len(args))
	params = append(params, uint64(env.Invoke), uint64(env.A), uint64(env.B))
	if env.Mode == closure.Borrowed {
		mark := in.heap.Mark()
		defer in.heap.Restore(mark)
		for _, a := range args {
			h, err := in.heap.Borrow(a)
			if err != nil {
				return err
			}
			params = append(params, uint64(h))
		}
		_, err := in.call(ctx, ExportClosureInvoke(len(args)), params...)
		return err
	}

	owned := make([]heap.Handle, len(args))
	for i, a := range args {
		owned[i] = in.alloc(a)
		params = append(params, uint64(owned[i]))
	}
	_, err := in.call(ctx, ExportClosureInvoke(len(args)), params...)
	if err != nil {
		// A failed call leaves its argument handles with the host.
		for _, h := range owned {
			_ = in.heap.Release(h)
		}
	}
	return err
}

func (t trampoline) Destroy(ctx context.Context, dtor, a, b uint32) error {
	_, err := t.in.call(ctx, ExportClosureDestroy, uint64(dtor), uint64(a), uint64(b))
	return err
}
