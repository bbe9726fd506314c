package bridge

import (
	"context"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/stream"
	"github.com/wippyai/wasm-bridge/value"
)

const defaultWritableHighWaterMark = 1

// readableOptions derives stream options from the source and an optional
// queuing strategy. Default streams get a high water mark of one chunk,
// byte streams zero bytes.
func (in *Instance) readableOptions(ctx context.Context, src stream.Source, strategy value.Value) (stream.Options, error) {
	var opts stream.Options
	if bs, ok := src.(*ByteSource); ok {
		typ, err := bs.Type(ctx)
		if err != nil {
			return opts, err
		}
		if typ != string(stream.TypeBytes) {
			return opts, value.NewTypeError("unsupported source type " + typ)
		}
		opts.Type = stream.TypeBytes
		n, err := bs.AutoAllocateChunkSize(ctx)
		if err != nil {
			return opts, err
		}
		opts.AutoAllocateChunkSize = int(n)
	} else {
		opts.HighWaterMark = 1
	}
	if qs, ok := strategy.(*QueuingStrategy); ok {
		hwm, err := qs.HighWaterMark(ctx)
		if err != nil {
			return opts, err
		}
		opts.HighWaterMark = hwm
	}
	return opts, nil
}

func (in *Instance) streamImports(s *importSet) {
	// readable_stream_new(source, strategy); both handles are borrowed.
	s.catching("readable_stream_new", i32s(2), i32s(1), func(ctx context.Context, st []uint64) error {
		v, err := in.get(u32(st[0]))
		if err != nil {
			return err
		}
		src, ok := v.(stream.Source)
		if !ok {
			return errors.TypeMismatch(errors.PhaseStream, "readable_stream_new", "underlying source", describe(v))
		}
		strategy, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		opts, err := in.readableOptions(ctx, src, strategy)
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(stream.NewReadableStream(in.loop, src, opts)))
		return nil
	})
	s.plain("instanceof_readable_stream", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		v, err := in.get(u32(st[0]))
		if err != nil {
			return err
		}
		_, ok := v.(*stream.ReadableStream)
		st[0] = boolResult(ok)
		return nil
	})
	s.catching("readable_stream_get_reader", i32s(2), i32s(1), func(ctx context.Context, st []uint64) error {
		rs, err := getAs[*stream.ReadableStream](in, "readable_stream_get_reader", st[0])
		if err != nil {
			return err
		}
		optsVal, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		mode := ""
		if o, ok := optsVal.(*GetReaderOptions); ok {
			if mode, err = o.Mode(ctx); err != nil {
				return err
			}
		}
		var r *stream.Reader
		switch mode {
		case "":
			r, err = rs.GetReader()
		case "byob":
			r, err = rs.GetBYOBReader()
		default:
			return value.NewTypeError("invalid reader mode " + mode)
		}
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(r))
		return nil
	})
	s.catching("readable_stream_locked", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		rs, err := getAs[*stream.ReadableStream](in, "readable_stream_locked", st[0])
		if err != nil {
			return err
		}
		st[0] = boolResult(rs.Locked())
		return nil
	})
	s.catching("readable_stream_cancel", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		rs, err := getAs[*stream.ReadableStream](in, "readable_stream_cancel", st[0])
		if err != nil {
			return err
		}
		reason, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(rs.Cancel(reason)))
		return nil
	})
	s.catching("readable_stream_pipe_to", i32s(3), i32s(1), func(ctx context.Context, st []uint64) error {
		src, err := getAs[*stream.ReadableStream](in, "readable_stream_pipe_to", st[0])
		if err != nil {
			return err
		}
		dst, err := getAs[*stream.WritableStream](in, "readable_stream_pipe_to", st[1])
		if err != nil {
			return err
		}
		optsVal, err := in.get(u32(st[2]))
		if err != nil {
			return err
		}
		var opts stream.PipeOptions
		if o, ok := optsVal.(*PipeOptions); ok {
			if opts, err = o.Resolve(ctx); err != nil {
				return err
			}
		}
		st[0] = uint64(in.alloc(stream.PipeTo(src, dst, opts)))
		return nil
	})

	s.catching("reader_read", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		r, err := getAs[*stream.Reader](in, "reader_read", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(r.Read()))
		return nil
	})
	s.catching("reader_read_into", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		r, err := getAs[*stream.Reader](in, "reader_read_into", st[0])
		if err != nil {
			return err
		}
		view, err := getAs[*value.Uint8Array](in, "reader_read_into", st[1])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(r.ReadInto(view)))
		return nil
	})
	s.catching("reader_cancel", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		r, err := getAs[*stream.Reader](in, "reader_cancel", st[0])
		if err != nil {
			return err
		}
		reason, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(r.Cancel(reason)))
		return nil
	})
	s.catching("reader_release_lock", i32s(1), nil, func(_ context.Context, st []uint64) error {
		r, err := getAs[*stream.Reader](in, "reader_release_lock", st[0])
		if err != nil {
			return err
		}
		r.ReleaseLock()
		return nil
	})
	s.plain("read_result_done", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		res, err := getAs[*stream.ReadResult](in, "read_result_done", st[0])
		if err != nil {
			return err
		}
		st[0] = boolResult(res.Done)
		return nil
	})
	s.plain("read_result_value", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		res, err := getAs[*stream.ReadResult](in, "read_result_value", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(res.Value))
		return nil
	})

	s.catching("controller_enqueue", i32s(2), nil, func(_ context.Context, st []uint64) error {
		c, err := getAs[*stream.Controller](in, "controller_enqueue", st[0])
		if err != nil {
			return err
		}
		chunk, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		return c.Enqueue(chunk)
	})
	s.catching("controller_close", i32s(1), nil, func(_ context.Context, st []uint64) error {
		c, err := getAs[*stream.Controller](in, "controller_close", st[0])
		if err != nil {
			return err
		}
		return c.Close()
	})
	s.catching("controller_error", i32s(2), nil, func(_ context.Context, st []uint64) error {
		c, err := getAs[*stream.Controller](in, "controller_error", st[0])
		if err != nil {
			return err
		}
		reason, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		c.Error(reason)
		return nil
	})
	s.plain("controller_desired_size", i32s(2), nil, func(_ context.Context, st []uint64) error {
		c, err := getAs[*stream.Controller](in, "controller_desired_size", st[1])
		if err != nil {
			return err
		}
		size, ok := c.DesiredSize()
		return in.abi.PutOptionF64(u32(st[0]), size, ok)
	})
	s.catching("controller_byob_request", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		c, err := getAs[*stream.Controller](in, "controller_byob_request", st[0])
		if err != nil {
			return err
		}
		var req value.Value = value.Null
		if r := c.BYOBRequest(); r != nil {
			req = r
		}
		st[0] = uint64(in.alloc(req))
		return nil
	})
	s.catching("byob_request_view", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		r, err := getAs[*stream.BYOBRequest](in, "byob_request_view", st[0])
		if err != nil {
			return err
		}
		var view value.Value = value.Null
		if v := r.View(); v != nil {
			view = v
		}
		st[0] = uint64(in.alloc(view))
		return nil
	})
	s.catching("byob_request_respond", i32s(2), nil, func(_ context.Context, st []uint64) error {
		r, err := getAs[*stream.BYOBRequest](in, "byob_request_respond", st[0])
		if err != nil {
			return err
		}
		return r.Respond(int(u32(st[1])))
	})

	s.catching("writable_stream_new", i32s(2), i32s(1), func(ctx context.Context, st []uint64) error {
		v, err := in.get(u32(st[0]))
		if err != nil {
			return err
		}
		sink, ok := v.(stream.Sink)
		if !ok {
			return errors.TypeMismatch(errors.PhaseStream, "writable_stream_new", "underlying sink", describe(v))
		}
		strategy, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		hwm := float64(defaultWritableHighWaterMark)
		if qs, ok := strategy.(*QueuingStrategy); ok {
			if hwm, err = qs.HighWaterMark(ctx); err != nil {
				return err
			}
		}
		st[0] = uint64(in.alloc(stream.NewWritableStream(in.loop, sink, hwm)))
		return nil
	})
	s.catching("writable_stream_get_writer", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		ws, err := getAs[*stream.WritableStream](in, "writable_stream_get_writer", st[0])
		if err != nil {
			return err
		}
		w, err := ws.GetWriter()
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(w))
		return nil
	})
	s.catching("writer_write", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		w, err := getAs[*stream.Writer](in, "writer_write", st[0])
		if err != nil {
			return err
		}
		chunk, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(w.Write(chunk)))
		return nil
	})
	s.catching("writer_close", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		w, err := getAs[*stream.Writer](in, "writer_close", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(w.Close()))
		return nil
	})
	s.catching("writer_abort", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		w, err := getAs[*stream.Writer](in, "writer_abort", st[0])
		if err != nil {
			return err
		}
		reason, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(w.Abort(reason)))
		return nil
	})
	s.catching("writer_ready", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		w, err := getAs[*stream.Writer](in, "writer_ready", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(w.Ready()))
		return nil
	})
	s.catching("writer_release_lock", i32s(1), nil, func(_ context.Context, st []uint64) error {
		w, err := getAs[*stream.Writer](in, "writer_release_lock", st[0])
		if err != nil {
			return err
		}
		w.ReleaseLock()
		return nil
	})

	s.plain("abort_controller_new", nil, i32s(1), func(_ context.Context, st []uint64) error {
		st[0] = uint64(in.alloc(stream.NewAbortController()))
		return nil
	})
	s.plain("abort_controller_signal", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		c, err := getAs[*stream.AbortController](in, "abort_controller_signal", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(c.Signal()))
		return nil
	})
	s.plain("abort_controller_abort", i32s(2), nil, func(_ context.Context, st []uint64) error {
		c, err := getAs[*stream.AbortController](in, "abort_controller_abort", st[0])
		if err != nil {
			return err
		}
		reason, err := in.get(u32(st[1]))
		if err != nil {
			return err
		}
		c.Abort(reason)
		return nil
	})
	s.plain("abort_signal_aborted", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		sig, err := getAs[*stream.AbortSignal](in, "abort_signal_aborted", st[0])
		if err != nil {
			return err
		}
		st[0] = boolResult(sig.Aborted())
		return nil
	})
}
