package bridge

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/heap"
	"github.com/wippyai/wasm-bridge/memory"
	"github.com/wippyai/wasm-bridge/value"
)

// GuestMemory is the host value handed out by the memory import.
type GuestMemory struct {
	views *memory.Views
}

func (*GuestMemory) Kind() value.Kind { return value.KindHost }

func (m *GuestMemory) String() string {
	return fmt.Sprintf("WebAssembly.Memory(%d)", m.views.Memory().Size())
}

// Buffer returns the current memory contents. The slice goes stale on growth.
func (m *GuestMemory) Buffer() []byte { return m.views.Bytes() }

func (in *Instance) valueImports(s *importSet) {
	s.plain("object_drop_ref", i32s(1), nil, func(_ context.Context, st []uint64) error {
		return in.heap.Release(heap.Handle(st[0]))
	})
	s.plain("object_clone_ref", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		h, err := in.heap.Clone(heap.Handle(st[0]))
		st[0] = uint64(h)
		return err
	})
	// Decode failures are stored as exceptions.
	s.catching("string_new", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		str, err := in.readString(st[0], st[1])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(value.String(str)))
		return nil
	})
	s.plain("string_get", i32s(2), nil, func(ctx context.Context, st []uint64) error {
		v, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		str, ok := v.(value.String)
		return in.abi.PutOptionString(ctx, u32(st[0]), string(str), ok)
	})
	s.plain("number_new", []api.ValueType{f64}, i32s(1), func(_ context.Context, st []uint64) error {
		st[0] = uint64(in.alloc(value.Number(api.DecodeF64(st[0]))))
		return nil
	})
	s.plain("number_get", i32s(2), nil, func(_ context.Context, st []uint64) error {
		v, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		n, ok := v.(value.Number)
		return in.abi.PutOptionF64(u32(st[0]), float64(n), ok)
	})
	// 0 false, 1 true, 2 not a boolean.
	s.plain("boolean_get", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		v, err := in.get(u32(st[0]))
		if err != nil {
			return err
		}
		b, ok := v.(value.Bool)
		switch {
		case !ok:
			st[0] = 2
		default:
			st[0] = boolResult(bool(b))
		}
		return nil
	})

	predicates := []struct {
		name string
		fn   func(value.Value) bool
	}{
		{"is_undefined", func(v value.Value) bool { return v.Kind() == value.KindUndefined }},
		{"is_null", func(v value.Value) bool { return v.Kind() == value.KindNull }},
		{"is_object", value.IsObject},
		{"is_string", func(v value.Value) bool { return v.Kind() == value.KindString }},
		{"is_function", func(v value.Value) bool { return value.TypeOf(v) == "function" }},
	}
	for _, p := range predicates {
		fn := p.fn
		s.plain(p.name, i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
			v, err := in.get(u32(st[0]))
			if err != nil {
				return err
			}
			st[0] = boolResult(fn(v))
			return nil
		})
	}

	s.plain("jsval_loose_eq", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		a, err := in.get(u32(st[0]))
		if err != nil {
			return err
		}
		b, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		st[0] = boolResult(value.LooseEqual(a, b))
		return nil
	})
	s.plain("typeof", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		v, err := in.get(u32(st[0]))
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(value.String(value.TypeOf(v))))
		return nil
	})
	s.plain("debug_string", i32s(2), nil, func(ctx context.Context, st []uint64) error {
		v, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		return in.abi.PutStringRet(ctx, u32(st[0]), value.DebugString(v))
	})
	s.plain("to_string", i32s(2), nil, func(ctx context.Context, st []uint64) error {
		v, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		return in.abi.PutStringRet(ctx, u32(st[0]), value.ToString(v))
	})
	s.catching("error_new", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		msg, err := in.readString(st[0], st[1])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(value.NewError(msg)))
		return nil
	})
	s.plain("error_stack", i32s(2), nil, func(ctx context.Context, st []uint64) error {
		v, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		var stack string
		if e, ok := v.(*value.Error); ok {
			stack = e.Stack
		}
		return in.abi.PutStringRet(ctx, u32(st[0]), stack)
	})
	s.plain("throw", i32s(2), nil, func(_ context.Context, st []uint64) error {
		msg, err := in.readString(st[0], st[1])
		if err != nil {
			return err
		}
		return errors.GuestPanic("throw", msg, nil)
	})
	s.plain("rethrow", i32s(1), nil, func(_ context.Context, st []uint64) error {
		v, err := in.take(u32(st[0]))
		if err != nil {
			return err
		}
		return errors.HostException(errors.PhaseHost, v, value.ToString(v))
	})
	s.plain("memory", nil, i32s(1), func(_ context.Context, st []uint64) error {
		st[0] = uint64(in.alloc(&GuestMemory{views: in.views}))
		return nil
	})
}
