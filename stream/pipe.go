package stream

import (
	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/value"
)

// PipeOptions controls PipeTo.
type PipeOptions struct {
	PreventClose  bool
	PreventAbort  bool
	PreventCancel bool
	Signal        *AbortSignal
}

type pipe struct {
	loop    *eventloop.Loop
	reader  *Reader
	writer  *Writer
	opts    PipeOptions
	done    bool
	unsub   func()
	resolve func(value.Value)
	reject  func(value.Value)
}

// PipeTo reads every chunk of src and writes it to dst. Each chunk is
// written and acknowledged before the next read. The returned promise
// fulfills once dst is closed (or src ends with PreventClose) and rejects
// with the first error or abort reason.
func PipeTo(src *ReadableStream, dst *WritableStream, opts PipeOptions) *eventloop.Promise {
	l := src.loop
	if src.Locked() || dst.Locked() {
		return l.Rejected(value.NewTypeError("cannot pipe a locked stream"))
	}
	reader, _ := src.GetReader()
	writer, _ := dst.GetWriter()
	p, resolve, reject := l.NewPromise()
	pp := &pipe{
		loop:    l,
		reader:  reader,
		writer:  writer,
		opts:    opts,
		resolve: resolve,
		reject:  reject,
	}

	if sig := opts.Signal; sig != nil {
		if sig.Aborted() {
			pp.abort(sig.Reason())
			return p
		}
		pp.unsub = sig.OnAbort(pp.abort)
	}

	switch {
	case src.state == stateErrored:
		pp.sourceErrored(src.storedError)
	case dst.state == writeErrored:
		pp.destErrored(dst.storedError)
	case dst.state == writeClosed || dst.closeRequested:
		err := value.NewTypeError("destination is closed")
		if !opts.PreventCancel {
			reader.Cancel(err)
		}
		pp.finish(err)
	default:
		pp.step()
	}
	return p
}

func (pp *pipe) step() {
	if pp.done {
		return
	}
	pp.writer.Ready().Then(func(value.Value) (value.Value, error) {
		if pp.done {
			return nil, nil
		}
		pp.reader.Read().Then(pp.onRead, func(reason value.Value) (value.Value, error) {
			pp.sourceErrored(reason)
			return nil, nil
		})
		return nil, nil
	}, func(reason value.Value) (value.Value, error) {
		pp.destErrored(reason)
		return nil, nil
	})
}

func (pp *pipe) onRead(v value.Value) (value.Value, error) {
	if pp.done {
		return nil, nil
	}
	res := v.(*ReadResult)
	if res.Done {
		if pp.opts.PreventClose {
			pp.finish(nil)
			return nil, nil
		}
		pp.writer.Close().Then(func(value.Value) (value.Value, error) {
			pp.finish(nil)
			return nil, nil
		}, func(reason value.Value) (value.Value, error) {
			pp.finish(reason)
			return nil, nil
		})
		return nil, nil
	}
	pp.writer.Write(res.Value).Then(func(value.Value) (value.Value, error) {
		pp.step()
		return nil, nil
	}, func(reason value.Value) (value.Value, error) {
		pp.destErrored(reason)
		return nil, nil
	})
	return nil, nil
}

func (pp *pipe) sourceErrored(reason value.Value) {
	if pp.done {
		return
	}
	if !pp.opts.PreventAbort {
		pp.writer.Abort(reason)
	}
	pp.finish(reason)
}

func (pp *pipe) destErrored(reason value.Value) {
	if pp.done {
		return
	}
	if !pp.opts.PreventCancel {
		pp.reader.Cancel(reason)
	}
	pp.finish(reason)
}

func (pp *pipe) abort(reason value.Value) {
	if pp.done {
		return
	}
	if !pp.opts.PreventAbort {
		pp.writer.Abort(reason)
	}
	if !pp.opts.PreventCancel {
		pp.reader.Cancel(reason)
	}
	pp.finish(reason)
}

// finish releases both locks and settles the pipe. A nil reason fulfills.
func (pp *pipe) finish(reason value.Value) {
	if pp.done {
		return
	}
	pp.done = true
	if pp.unsub != nil {
		pp.unsub()
	}
	pp.reader.ReleaseLock()
	pp.writer.ReleaseLock()
	if reason == nil {
		pp.resolve(value.Undefined)
		return
	}
	pp.reject(reason)
}
