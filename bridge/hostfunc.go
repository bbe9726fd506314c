package bridge

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
)

// HostFunc is one import of the bridge module. Fn follows the wazero stack
// convention: parameters are read from stack and results written back from
// index 0.
type HostFunc struct {
	Name     string
	Params   []api.ValueType
	Results  []api.ValueType
	Catching bool
	Fn       func(ctx context.Context, stack []uint64)
}

// StackSize returns the stack length Fn expects.
func (f HostFunc) StackSize() int {
	return max(len(f.Params), len(f.Results))
}

type importFn func(ctx context.Context, stack []uint64) error

// importSet collects host functions for one import group.
type importSet struct {
	in    *Instance
	funcs []HostFunc
}

// plain registers an import whose errors trap the guest.
func (s *importSet) plain(name string, params, results []api.ValueType, fn importFn) {
	s.funcs = append(s.funcs, HostFunc{
		Name:    name,
		Params:  params,
		Results: results,
		Fn: func(ctx context.Context, stack []uint64) {
			if err := fn(ctx, stack); err != nil {
				panic(err)
			}
		},
	})
}

// catching registers an import whose errors are stored as guest exceptions.
func (s *importSet) catching(name string, params, results []api.ValueType, fn importFn) {
	in := s.in
	n := len(results)
	s.funcs = append(s.funcs, HostFunc{
		Name:     name,
		Params:   params,
		Results:  results,
		Catching: true,
		Fn: func(ctx context.Context, stack []uint64) {
			if err := fn(ctx, stack); err != nil {
				in.storeException(ctx, name, err)
				for i := 0; i < n; i++ {
					stack[i] = 0
				}
			}
		},
	})
}

func (in *Instance) buildImports() []HostFunc {
	s := &importSet{in: in}
	in.valueImports(s)
	in.objectImports(s)
	in.functionImports(s)
	in.promiseImports(s)
	in.streamImports(s)
	in.adapterImports(s)
	in.fetchImports(s)
	in.consoleImports(s)
	return s.funcs
}

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

// i32s returns n i32 value types.
func i32s(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

func u32(v uint64) uint32 { return uint32(v) }

func boolResult(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// getAs resolves h and asserts its type.
func getAs[T value.Value](in *Instance, op string, h uint64) (T, error) {
	var zero T
	v, err := in.get(u32(h))
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.TypeMismatch(errors.PhaseHost, op, fmt.Sprintf("%T", zero), describe(v))
	}
	return t, nil
}

// callable resolves h as a function.
func (in *Instance) callable(op string, h uint64) (value.Callable, error) {
	v, err := in.get(u32(h))
	if err != nil {
		return nil, err
	}
	c, ok := v.(value.Callable)
	if !ok {
		return nil, errors.TypeMismatch(errors.PhaseHost, op, "function", describe(v))
	}
	return c, nil
}

func describe(v value.Value) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return value.TypeOf(v)
}

// readString decodes a guest (ptr, len) string.
func (in *Instance) readString(ptr, n uint64) (string, error) {
	return in.abi.ReadString(u32(ptr), u32(n))
}
