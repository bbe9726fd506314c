package bridge

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-bridge/stream"
	"github.com/wippyai/wasm-bridge/value"
)

// PipeOptions is a read-only view over guest pipe options.
type PipeOptions struct {
	guestObject
}

func (*PipeOptions) Kind() value.Kind { return value.KindHost }

func (*PipeOptions) String() string { return "PipeOptions" }

func (o *PipeOptions) flag(ctx context.Context, name string) (bool, error) {
	ptr, err := o.live(name)
	if err != nil {
		return false, err
	}
	res, err := o.in.call(ctx, o.export(name), uint64(ptr))
	if err != nil {
		return false, err
	}
	return len(res) > 0 && u32(res[0]) != 0, nil
}

func (o *PipeOptions) PreventClose(ctx context.Context) (bool, error) {
	return o.flag(ctx, "preventClose")
}

func (o *PipeOptions) PreventCancel(ctx context.Context) (bool, error) {
	return o.flag(ctx, "preventCancel")
}

func (o *PipeOptions) PreventAbort(ctx context.Context) (bool, error) {
	return o.flag(ctx, "preventAbort")
}

// Signal takes the signal handle returned by the guest.
func (o *PipeOptions) Signal(ctx context.Context) (value.Value, error) {
	ptr, err := o.live("signal")
	if err != nil {
		return nil, err
	}
	res, err := o.in.call(ctx, o.export("signal"), uint64(ptr))
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return value.Undefined, nil
	}
	return o.in.take(u32(res[0]))
}

// Resolve reads every option into a stream.PipeOptions.
func (o *PipeOptions) Resolve(ctx context.Context) (stream.PipeOptions, error) {
	var opts stream.PipeOptions
	var err error
	if opts.PreventClose, err = o.PreventClose(ctx); err != nil {
		return opts, err
	}
	if opts.PreventCancel, err = o.PreventCancel(ctx); err != nil {
		return opts, err
	}
	if opts.PreventAbort, err = o.PreventAbort(ctx); err != nil {
		return opts, err
	}
	sig, err := o.Signal(ctx)
	if err != nil {
		return opts, err
	}
	opts.Signal, _ = sig.(*stream.AbortSignal)
	return opts, nil
}

// QueuingStrategy is a read-only view over a guest queuing strategy.
type QueuingStrategy struct {
	guestObject
}

func (*QueuingStrategy) Kind() value.Kind { return value.KindHost }

func (*QueuingStrategy) String() string { return "QueuingStrategy" }

func (q *QueuingStrategy) HighWaterMark(ctx context.Context) (float64, error) {
	ptr, err := q.live("highWaterMark")
	if err != nil {
		return 0, err
	}
	res, err := q.in.call(ctx, q.export("highWaterMark"), uint64(ptr))
	if err != nil || len(res) == 0 {
		return 0, err
	}
	return api.DecodeF64(res[0]), nil
}

// GetReaderOptions is a read-only view over guest reader options.
type GetReaderOptions struct {
	guestObject
}

func (*GetReaderOptions) Kind() value.Kind { return value.KindHost }

func (*GetReaderOptions) String() string { return "ReadableStreamGetReaderOptions" }

// Mode returns the requested reader mode, "" when unset.
func (g *GetReaderOptions) Mode(ctx context.Context) (string, error) {
	ptr, err := g.live("mode")
	if err != nil {
		return "", err
	}
	res, err := g.in.call(ctx, g.export("mode"), uint64(ptr))
	if err != nil || len(res) == 0 {
		return "", err
	}
	v, err := g.in.take(u32(res[0]))
	if err != nil {
		return "", err
	}
	s, _ := v.(value.String)
	return string(s), nil
}

func newOptionsObject(in *Instance, class string, ptr uint32) guestObject {
	return guestObject{in: in, class: class, ptr: ptr, freeOnRelease: true}
}

func (in *Instance) adapterImports(s *importSet) {
	ctors := []struct {
		class string
		make  func(ptr uint32) value.Value
	}{
		{classByteSource, func(ptr uint32) value.Value { return newByteSource(in, ptr) }},
		{classSource, func(ptr uint32) value.Value { return newSource(in, ptr) }},
		{classSink, func(ptr uint32) value.Value { return newSink(in, ptr) }},
		{classPipeOptions, func(ptr uint32) value.Value {
			return &PipeOptions{newOptionsObject(in, classPipeOptions, ptr)}
		}},
		{classQueuingStrategy, func(ptr uint32) value.Value {
			return &QueuingStrategy{newOptionsObject(in, classQueuingStrategy, ptr)}
		}},
		{classGetReaderOptions, func(ptr uint32) value.Value {
			return &GetReaderOptions{newOptionsObject(in, classGetReaderOptions, ptr)}
		}},
	}
	for _, c := range ctors {
		mk := c.make
		s.plain(c.class+"_new", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
			st[0] = uint64(in.alloc(mk(u32(st[0]))))
			return nil
		})
	}
}
