package stream

import (
	"fmt"

	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/value"
)

// Sink consumes data written to a WritableStream. Write is never called
// again before the previous write settles. Nil promises count as fulfilled.
type Sink interface {
	Start(c *WritableController) error
	Write(chunk value.Value, c *WritableController) *eventloop.Promise
	Close() *eventloop.Promise
	Abort(reason value.Value) *eventloop.Promise
}

type writeState uint8

const (
	writeWritable writeState = iota
	writeClosed
	writeErrored
)

func (s writeState) String() string {
	switch s {
	case writeClosed:
		return "closed"
	case writeErrored:
		return "errored"
	}
	return "writable"
}

type writeRequest struct {
	chunk   value.Value
	resolve func(value.Value)
	reject  func(value.Value)
}

type pendingAbort struct {
	reason  value.Value
	resolve func(value.Value)
}

// WritableStream is a host writable stream with a chunk-counting queue.
type WritableStream struct {
	loop        *eventloop.Loop
	sink        Sink
	ctrl        *WritableController
	hwm         float64
	state       writeState
	storedError value.Value
	writer      *Writer
	started     bool

	queue    []writeRequest
	inFlight bool

	closeRequested bool
	closeResolve   func(value.Value)
	closeReject    func(value.Value)
	closePromise   *eventloop.Promise

	abort *pendingAbort

	backpressure bool
}

// WritableController is handed to the Sink.
type WritableController struct {
	stream *WritableStream
}

func (*WritableController) Kind() value.Kind { return value.KindHost }

func (*WritableController) String() string { return "WritableStreamDefaultController" }

// Error errors the stream. Queued writes are rejected with e.
func (c *WritableController) Error(e value.Value) {
	c.stream.fail(value.Or(e))
}

// NewWritableStream creates a stream over sink and runs sink.Start.
func NewWritableStream(loop *eventloop.Loop, sink Sink, highWaterMark float64) *WritableStream {
	s := &WritableStream{loop: loop, sink: sink, hwm: highWaterMark}
	s.ctrl = &WritableController{stream: s}
	s.backpressure = s.desiredSize() <= 0
	if err := sink.Start(s.ctrl); err != nil {
		s.fail(value.FromError(err))
		return s
	}
	loop.Microtask(func() {
		s.started = true
		s.advance()
	})
	return s
}

func (*WritableStream) Kind() value.Kind { return value.KindHost }

func (s *WritableStream) String() string {
	return fmt.Sprintf("WritableStream { state: %s, locked: %v }", s.state, s.Locked())
}

// Locked reports whether a writer holds the stream.
func (s *WritableStream) Locked() bool { return s.writer != nil }

// Closed reports whether the sink closed successfully.
func (s *WritableStream) Closed() bool { return s.state == writeClosed }

// Err returns the stored error of an errored stream.
func (s *WritableStream) Err() value.Value {
	if s.state != writeErrored {
		return nil
	}
	return s.storedError
}

// GetWriter locks the stream to a new writer.
func (s *WritableStream) GetWriter() (*Writer, error) {
	if s.Locked() {
		return nil, value.NewTypeError("stream is already locked to a writer")
	}
	w := &Writer{loop: s.loop, stream: s}
	w.resetReady()
	if !s.backpressure || s.state != writeWritable {
		w.readyResolve(value.Undefined)
	}
	s.writer = w
	return w, nil
}

// Abort aborts an unlocked stream.
func (s *WritableStream) Abort(reason value.Value) *eventloop.Promise {
	if s.Locked() {
		return s.loop.Rejected(value.NewTypeError("cannot abort a locked stream"))
	}
	return s.abortWith(reason)
}

func (s *WritableStream) desiredSize() float64 {
	n := float64(len(s.queue))
	if s.inFlight {
		n++
	}
	return s.hwm - n
}

func (s *WritableStream) write(chunk value.Value) *eventloop.Promise {
	switch {
	case s.state == writeErrored:
		return s.loop.Rejected(s.storedError)
	case s.state == writeClosed || s.closeRequested:
		return s.loop.Rejected(value.NewTypeError("cannot write to a closing stream"))
	case s.abort != nil:
		return s.loop.Rejected(s.abort.reason)
	}
	p, resolve, reject := s.loop.NewPromise()
	s.queue = append(s.queue, writeRequest{chunk: value.Or(chunk), resolve: resolve, reject: reject})
	s.updateBackpressure()
	s.advance()
	return p
}

func (s *WritableStream) close() *eventloop.Promise {
	switch {
	case s.state == writeErrored:
		return s.loop.Rejected(s.storedError)
	case s.state == writeClosed || s.closeRequested:
		return s.loop.Rejected(value.NewTypeError("stream is already closing or closed"))
	}
	p, resolve, reject := s.loop.NewPromise()
	s.closeRequested = true
	s.closeResolve = resolve
	s.closeReject = reject
	s.closePromise = p
	if s.writer != nil && s.backpressure {
		s.writer.readyResolve(value.Undefined)
	}
	s.advance()
	return p
}

// abortWith errors the stream with reason. An abort that arrives while a
// write is in flight is deferred until that write settles.
func (s *WritableStream) abortWith(reason value.Value) *eventloop.Promise {
	if s.state != writeWritable {
		return s.loop.Resolved(value.Undefined)
	}
	reason = value.Or(reason)
	if s.abort != nil {
		p, resolve, _ := s.loop.NewPromise()
		prev := s.abort.resolve
		s.abort.resolve = func(v value.Value) {
			prev(v)
			resolve(v)
		}
		return p
	}
	p, resolve, _ := s.loop.NewPromise()
	s.abort = &pendingAbort{reason: reason, resolve: resolve}
	if !s.inFlight {
		s.finishAbort()
	}
	return p
}

func (s *WritableStream) finishAbort() {
	a := s.abort
	s.abort = nil
	s.fail(a.reason)
	res := s.sink.Abort(a.reason)
	if res == nil {
		a.resolve(value.Undefined)
		return
	}
	res.Then(func(value.Value) (value.Value, error) {
		a.resolve(value.Undefined)
		return nil, nil
	}, func(value.Value) (value.Value, error) {
		a.resolve(value.Undefined)
		return nil, nil
	})
}

func (s *WritableStream) advance() {
	if !s.started || s.inFlight || s.state != writeWritable {
		return
	}
	if s.abort != nil {
		s.finishAbort()
		return
	}
	if len(s.queue) > 0 {
		req := s.queue[0]
		s.queue[0] = writeRequest{}
		s.queue = s.queue[1:]
		s.inFlight = true
		res := s.sink.Write(req.chunk, s.ctrl)
		if res == nil {
			res = s.loop.Resolved(value.Undefined)
		}
		res.Then(func(value.Value) (value.Value, error) {
			s.inFlight = false
			req.resolve(value.Undefined)
			s.updateBackpressure()
			s.advance()
			return nil, nil
		}, func(reason value.Value) (value.Value, error) {
			s.inFlight = false
			req.reject(reason)
			a := s.abort
			s.abort = nil
			s.fail(reason)
			if a != nil {
				a.resolve(value.Undefined)
			}
			return nil, nil
		})
		return
	}
	if s.closeRequested {
		s.inFlight = true
		res := s.sink.Close()
		if res == nil {
			res = s.loop.Resolved(value.Undefined)
		}
		res.Then(func(value.Value) (value.Value, error) {
			s.inFlight = false
			if s.state != writeWritable {
				return nil, nil
			}
			s.state = writeClosed
			s.closeResolve(value.Undefined)
			if w := s.writer; w != nil {
				w.closedResolve()
			}
			return nil, nil
		}, func(reason value.Value) (value.Value, error) {
			s.inFlight = false
			s.fail(reason)
			return nil, nil
		})
	}
}

// fail moves the stream to the errored state and rejects everything queued.
func (s *WritableStream) fail(reason value.Value) {
	if s.state != writeWritable {
		return
	}
	s.state = writeErrored
	s.storedError = value.Or(reason)
	queue := s.queue
	s.queue = nil
	for _, req := range queue {
		req.reject(s.storedError)
	}
	if s.closeRequested && s.closeReject != nil {
		s.closeReject(s.storedError)
	}
	if w := s.writer; w != nil {
		w.readyReject(s.storedError)
	}
}

func (s *WritableStream) updateBackpressure() {
	if s.state != writeWritable || s.closeRequested {
		return
	}
	bp := s.desiredSize() <= 0
	if bp == s.backpressure {
		return
	}
	s.backpressure = bp
	w := s.writer
	if w == nil {
		return
	}
	if bp {
		w.resetReady()
	} else {
		w.readyResolve(value.Undefined)
	}
}

// Writer writes to a locked WritableStream.
type Writer struct {
	loop         *eventloop.Loop
	stream       *WritableStream
	ready        *eventloop.Promise
	readyResolve func(value.Value)
	readyReject  func(value.Value)
	closed       bool
}

func (*Writer) Kind() value.Kind { return value.KindHost }

func (*Writer) String() string { return "WritableStreamDefaultWriter" }

func (w *Writer) resetReady() {
	w.ready, w.readyResolve, w.readyReject = w.loop.NewPromise()
}

func (w *Writer) closedResolve() { w.closed = true }

func (w *Writer) released() *eventloop.Promise {
	return w.loop.Rejected(value.NewTypeError("writer was released"))
}

// Write queues chunk. The promise settles when the sink has consumed it.
func (w *Writer) Write(chunk value.Value) *eventloop.Promise {
	if w.stream == nil {
		return w.released()
	}
	return w.stream.write(chunk)
}

// Close closes the stream after queued writes finish.
func (w *Writer) Close() *eventloop.Promise {
	if w.stream == nil {
		return w.released()
	}
	return w.stream.close()
}

// Abort aborts the stream.
func (w *Writer) Abort(reason value.Value) *eventloop.Promise {
	if w.stream == nil {
		return w.released()
	}
	return w.stream.abortWith(reason)
}

// Ready resolves when the stream has no backpressure.
func (w *Writer) Ready() *eventloop.Promise { return w.ready }

// Closed reports whether the stream was closed through this writer.
func (w *Writer) Closed() bool { return w.closed }

// DesiredSize returns the room left in the queue. ok is false when the
// stream has errored or the writer was released.
func (w *Writer) DesiredSize() (size float64, ok bool) {
	s := w.stream
	if s == nil || s.state == writeErrored {
		return 0, false
	}
	if s.state == writeClosed {
		return 0, true
	}
	return s.desiredSize(), true
}

// ReleaseLock unlocks the stream.
func (w *Writer) ReleaseLock() {
	s := w.stream
	if s == nil {
		return
	}
	w.readyReject(value.NewTypeError("writer was released"))
	s.writer = nil
	w.stream = nil
}
