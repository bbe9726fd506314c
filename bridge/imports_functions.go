package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/closure"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/value"
)

func (in *Instance) functionImports(s *importSet) {
	// closure_new(a, b, invoke, dtor, mode) wraps a guest closure.
	s.plain("closure_new", i32s(5), i32s(1), func(_ context.Context, st []uint64) error {
		mode := closure.Owned
		if u32(st[4]) != 0 {
			mode = closure.Borrowed
		}
		c := in.closures.Wrap(closure.Env{
			A:      u32(st[0]),
			B:      u32(st[1]),
			Invoke: u32(st[2]),
			Dtor:   u32(st[3]),
			Mode:   mode,
		})
		st[0] = uint64(in.alloc(c))
		return nil
	})
	// cb_drop takes the handle and reports whether the destructor ran.
	s.plain("cb_drop", i32s(1), i32s(1), func(ctx context.Context, st []uint64) error {
		v, err := in.take(u32(st[0]))
		if err != nil {
			return err
		}
		c, ok := v.(*closure.Closure)
		if !ok {
			return errors.TypeMismatch(errors.PhaseClosure, "cb_drop", "closure", describe(v))
		}
		st[0] = boolResult(c.Drop(ctx))
		return nil
	})

	for n := 0; n <= 2; n++ {
		argc := n
		s.catching(functionCallName(argc), i32s(2+argc), i32s(1), func(ctx context.Context, st []uint64) error {
			fn, err := in.callable("function_call", st[0])
			if err != nil {
				return err
			}
			this, err := in.get(u32(st[1]))
			if err != nil {
				return err
			}
			args := make([]value.Value, argc)
			for i := range args {
				if args[i], err = in.get(u32(st[2+i])); err != nil {
					return err
				}
			}
			res, err := fn.Call(ctx, this, args...)
			if err != nil {
				return err
			}
			st[0] = uint64(in.alloc(res))
			return nil
		})
	}
}

func functionCallName(n int) string {
	return [...]string{"function_call0", "function_call1", "function_call2"}[n]
}

func (in *Instance) promiseImports(s *importSet) {
	// promise_new(a, b, invoke) runs the guest executor once with owned
	// resolve and reject handles. The executor environment is only valid
	// for the duration of this call.
	s.plain("promise_new", i32s(3), i32s(1), func(ctx context.Context, st []uint64) error {
		a, b, invoke := u32(st[0]), u32(st[1]), u32(st[2])
		p, resolve, reject := in.loop.NewPromise()
		rh := in.alloc(settleFunc(resolve))
		jh := in.alloc(settleFunc(reject))
		if _, err := in.call(ctx, ExportClosureInvoke(2), uint64(invoke), uint64(a), uint64(b), uint64(rh), uint64(jh)); err != nil {
			reject(value.FromError(err))
		}
		st[0] = uint64(in.alloc(p))
		return nil
	})
	s.plain("promise_resolve", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		v, err := in.get(u32(st[0]))
		if err != nil {
			return err
		}
		p, resolve, _ := in.loop.NewPromise()
		resolve(v)
		st[0] = uint64(in.alloc(p))
		return nil
	})
	s.plain("promise_reject", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		v, err := in.get(u32(st[0]))
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(in.loop.Rejected(v)))
		return nil
	})
	s.catching("promise_then", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		p, err := getAs[*eventloop.Promise](in, "promise_then", st[0])
		if err != nil {
			return err
		}
		onFulfilled, err := in.callable("promise_then", st[1])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(p.Then(in.reaction(onFulfilled), nil)))
		return nil
	})
	s.catching("promise_then2", i32s(3), i32s(1), func(_ context.Context, st []uint64) error {
		p, err := getAs[*eventloop.Promise](in, "promise_then2", st[0])
		if err != nil {
			return err
		}
		onFulfilled, err := in.callable("promise_then2", st[1])
		if err != nil {
			return err
		}
		onRejected, err := in.callable("promise_then2", st[2])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(p.Then(in.reaction(onFulfilled), in.reaction(onRejected))))
		return nil
	})
	s.catching("promise_catch", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		p, err := getAs[*eventloop.Promise](in, "promise_catch", st[0])
		if err != nil {
			return err
		}
		onRejected, err := in.callable("promise_catch", st[1])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(p.Catch(in.reaction(onRejected))))
		return nil
	})
	s.catching("queue_microtask", i32s(1), nil, func(_ context.Context, st []uint64) error {
		fn, err := in.callable("queue_microtask", st[0])
		if err != nil {
			return err
		}
		in.loop.Microtask(func() {
			if _, err := fn.Call(in.loop.Context(), value.Undefined); err != nil {
				in.logger.Warn("microtask failed", zap.Error(err))
			}
		})
		return nil
	})
}

// reaction adapts a guest callable to a promise handler.
func (in *Instance) reaction(fn value.Callable) eventloop.Handler {
	return func(v value.Value) (value.Value, error) {
		return fn.Call(in.loop.Context(), value.Undefined, v)
	}
}

func settleFunc(settle func(value.Value)) value.Func {
	return func(_ context.Context, _ value.Value, args ...value.Value) (value.Value, error) {
		settle(value.Arg(args, 0))
		return value.Undefined, nil
	}
}
