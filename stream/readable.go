package stream

import (
	"fmt"

	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/value"
)

// Type selects the controller flavour of a readable stream.
type Type string

const (
	TypeDefault Type = ""
	TypeBytes   Type = "bytes"
)

// Source produces data for a ReadableStream.
//
// Start runs once, synchronously, when the stream is created. Pull is called
// whenever the stream wants more data and is never called again until the
// returned promise settles. A nil promise counts as already fulfilled.
type Source interface {
	Start(c *Controller) error
	Pull(c *Controller) *eventloop.Promise
	Cancel(reason value.Value) *eventloop.Promise
}

// Options configures a ReadableStream.
type Options struct {
	Type Type
	// HighWaterMark is counted in chunks for default streams and in bytes
	// for byte streams. It is used as given.
	HighWaterMark float64
	// AutoAllocateChunkSize makes default reads on a byte stream create a
	// pull-into buffer of this size, exposed to the source as a BYOB request.
	AutoAllocateChunkSize int
}

type state uint8

const (
	stateReadable state = iota
	stateClosed
	stateErrored
)

func (s state) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateErrored:
		return "errored"
	}
	return "readable"
}

// ReadableStream is a host readable stream.
type ReadableStream struct {
	loop        *eventloop.Loop
	src         Source
	ctrl        *Controller
	state       state
	storedError value.Value
	reader      *Reader
	disturbed   bool
}

// NewReadableStream creates a stream over src and runs src.Start.
func NewReadableStream(loop *eventloop.Loop, src Source, opts Options) *ReadableStream {
	s := &ReadableStream{loop: loop, src: src}
	s.ctrl = &Controller{
		stream:    s,
		bytes:     opts.Type == TypeBytes,
		hwm:       opts.HighWaterMark,
		autoAlloc: opts.AutoAllocateChunkSize,
	}
	if err := src.Start(s.ctrl); err != nil {
		s.error(value.FromError(err))
		return s
	}
	loop.Microtask(func() {
		s.ctrl.started = true
		s.ctrl.pullIfNeeded()
	})
	return s
}

func (*ReadableStream) Kind() value.Kind { return value.KindHost }

func (s *ReadableStream) String() string {
	return fmt.Sprintf("ReadableStream { state: %s, locked: %v }", s.state, s.Locked())
}

// Controller returns the stream's controller.
func (s *ReadableStream) Controller() *Controller { return s.ctrl }

// IsBytes reports whether the stream is a byte stream.
func (s *ReadableStream) IsBytes() bool { return s.ctrl.bytes }

// Locked reports whether a reader holds the stream.
func (s *ReadableStream) Locked() bool { return s.reader != nil }

// Disturbed reports whether the stream has been read from or cancelled.
func (s *ReadableStream) Disturbed() bool { return s.disturbed }

// Closed reports whether the stream has closed normally.
func (s *ReadableStream) Closed() bool { return s.state == stateClosed }

// Err returns the stored error of an errored stream.
func (s *ReadableStream) Err() value.Value {
	if s.state != stateErrored {
		return nil
	}
	return s.storedError
}

// GetReader locks the stream to a default reader.
func (s *ReadableStream) GetReader() (*Reader, error) {
	if s.Locked() {
		return nil, value.NewTypeError("stream is already locked to a reader")
	}
	r := &Reader{loop: s.loop, stream: s}
	s.reader = r
	return r, nil
}

// GetBYOBReader locks a byte stream to a BYOB reader.
func (s *ReadableStream) GetBYOBReader() (*Reader, error) {
	if !s.ctrl.bytes {
		return nil, value.NewTypeError("BYOB readers require a byte stream")
	}
	r, err := s.GetReader()
	if err != nil {
		return nil, err
	}
	r.byob = true
	return r, nil
}

// Cancel cancels an unlocked stream.
func (s *ReadableStream) Cancel(reason value.Value) *eventloop.Promise {
	if s.Locked() {
		return s.loop.Rejected(value.NewTypeError("cannot cancel a locked stream"))
	}
	return s.cancel(reason)
}

func (s *ReadableStream) cancel(reason value.Value) *eventloop.Promise {
	s.disturbed = true
	switch s.state {
	case stateClosed:
		return s.loop.Resolved(value.Undefined)
	case stateErrored:
		return s.loop.Rejected(s.storedError)
	}
	s.close()
	c := s.ctrl
	c.queue = nil
	c.queueSize = 0
	p := s.src.Cancel(value.Or(reason))
	if p == nil {
		return s.loop.Resolved(value.Undefined)
	}
	return p.Then(func(value.Value) (value.Value, error) {
		return value.Undefined, nil
	}, nil)
}

func (s *ReadableStream) close() {
	if s.state != stateReadable {
		return
	}
	s.state = stateClosed
	c := s.ctrl
	// A request handed out before close can still be answered with Respond(0).
	c.byobRequest = nil
	pending := c.pullIntos
	c.pullIntos = nil
	if r := s.reader; r != nil {
		reads := r.reads
		r.reads = nil
		for i, req := range reads {
			res := &ReadResult{Value: value.Undefined, Done: true}
			if r.byob && i < len(pending) {
				pi := pending[i]
				res.Value = value.View(pi.buf, pi.offset, pi.filled)
			}
			req.resolve(res)
		}
	}
}

func (s *ReadableStream) error(e value.Value) {
	if s.state != stateReadable {
		return
	}
	s.state = stateErrored
	s.storedError = value.Or(e)
	c := s.ctrl
	c.queue = nil
	c.queueSize = 0
	c.pullIntos = nil
	c.invalidateBYOBRequest()
	if r := s.reader; r != nil {
		reads := r.reads
		r.reads = nil
		for _, req := range reads {
			req.reject(s.storedError)
		}
	}
}

type chunk struct {
	v    value.Value
	size float64
}

// Controller is handed to the Source to feed the stream.
type Controller struct {
	stream         *ReadableStream
	bytes          bool
	queue          []chunk
	queueSize      float64
	hwm            float64
	autoAlloc      int
	started        bool
	pulling        bool
	pullAgain      bool
	closeRequested bool
	pullIntos      []*pullInto
	byobRequest    *BYOBRequest
}

func (*Controller) Kind() value.Kind { return value.KindHost }

func (c *Controller) String() string {
	if c.bytes {
		return "ReadableByteStreamController"
	}
	return "ReadableStreamDefaultController"
}

// Stream returns the controlled stream.
func (c *Controller) Stream() *ReadableStream { return c.stream }

// IsBytes reports whether this is a byte stream controller.
func (c *Controller) IsBytes() bool { return c.bytes }

// Closed reports whether close was requested or the stream is no longer readable.
func (c *Controller) Closed() bool {
	return c.closeRequested || c.stream.state != stateReadable
}

// DesiredSize returns how much the stream wants to reach its high water
// mark. ok is false for an errored stream.
func (c *Controller) DesiredSize() (size float64, ok bool) {
	switch c.stream.state {
	case stateErrored:
		return 0, false
	case stateClosed:
		return 0, true
	}
	return c.hwm - c.queueSize, true
}

// Enqueue adds a chunk. Byte streams require a non-empty Uint8Array, which
// is copied.
func (c *Controller) Enqueue(v value.Value) error {
	s := c.stream
	if c.closeRequested {
		return value.NewTypeError("cannot enqueue after close")
	}
	if s.state != stateReadable {
		return value.NewTypeError("stream is not readable")
	}
	v = value.Or(v)
	r := s.reader

	if !c.bytes {
		if r != nil && len(r.reads) > 0 {
			r.fulfill(&ReadResult{Value: v})
		} else {
			c.push(v, 1)
		}
		c.pullIfNeeded()
		return nil
	}

	u, ok := v.(*value.Uint8Array)
	if !ok {
		return value.NewTypeError("chunk must be a Uint8Array")
	}
	if u.Length == 0 {
		return value.NewTypeError("chunk must not be empty")
	}
	u = value.NewUint8Array(u.Bytes())
	c.invalidateBYOBRequest()

	switch {
	case r != nil && len(r.reads) > 0 && !r.byob:
		if len(c.pullIntos) > 0 {
			c.pullIntos = c.pullIntos[1:]
		}
		r.fulfill(&ReadResult{Value: u})
	case r != nil && r.byob:
		c.push(u, float64(u.Length))
		c.fillPullIntos()
	default:
		c.push(u, float64(u.Length))
	}
	c.pullIfNeeded()
	return nil
}

// Close closes the stream once queued chunks are consumed.
func (c *Controller) Close() error {
	s := c.stream
	if c.closeRequested || s.state != stateReadable {
		return value.NewTypeError("stream is already closing or closed")
	}
	if c.bytes && len(c.pullIntos) > 0 && c.pullIntos[0].filled > 0 {
		err := value.NewTypeError("insufficient bytes to fill elements in the given buffer")
		s.error(err)
		return err
	}
	if len(c.queue) > 0 {
		c.closeRequested = true
		return nil
	}
	c.closeRequested = true
	s.close()
	return nil
}

// Error errors the stream with e.
func (c *Controller) Error(e value.Value) {
	c.stream.error(e)
}

// BYOBRequest returns the pending pull-into request of a byte stream, or nil.
func (c *Controller) BYOBRequest() *BYOBRequest {
	if !c.bytes || len(c.pullIntos) == 0 || c.stream.state != stateReadable {
		return nil
	}
	if c.byobRequest == nil {
		pi := c.pullIntos[0]
		c.byobRequest = &BYOBRequest{
			ctrl: c,
			pi:   pi,
			view: value.View(pi.buf, pi.offset+pi.filled, pi.length-pi.filled),
		}
	}
	return c.byobRequest
}

func (c *Controller) invalidateBYOBRequest() {
	if c.byobRequest != nil {
		c.byobRequest.ctrl = nil
		c.byobRequest.view = nil
		c.byobRequest = nil
	}
}

func (c *Controller) push(v value.Value, size float64) {
	c.queue = append(c.queue, chunk{v: v, size: size})
	c.queueSize += size
}

func (c *Controller) dequeue() value.Value {
	ch := c.queue[0]
	c.queue[0] = chunk{}
	c.queue = c.queue[1:]
	c.queueSize -= ch.size
	if len(c.queue) == 0 {
		c.queueSize = 0
	}
	return ch.v
}

// fillFromQueue copies queued bytes into dst and returns how many were copied.
func (c *Controller) fillFromQueue(dst []byte) int {
	n := 0
	for n < len(dst) && len(c.queue) > 0 {
		head := c.queue[0].v.(*value.Uint8Array)
		k := copy(dst[n:], head.Bytes())
		n += k
		if k == head.Length {
			c.dequeue()
			continue
		}
		c.queue[0] = chunk{v: head.Subarray(k, head.Length), size: float64(head.Length - k)}
		c.queueSize -= float64(k)
	}
	return n
}

func (c *Controller) fillPullIntos() {
	r := c.stream.reader
	for len(c.pullIntos) > 0 && c.queueSize > 0 && r != nil && len(r.reads) > 0 {
		pi := c.pullIntos[0]
		dst := pi.buf.Data[pi.offset+pi.filled : pi.offset+pi.length]
		pi.filled += c.fillFromQueue(dst)
		c.pullIntos = c.pullIntos[1:]
		r.fulfill(&ReadResult{Value: value.View(pi.buf, pi.offset, pi.filled)})
	}
	if c.closeRequested && len(c.queue) == 0 {
		c.stream.close()
	}
}

func (c *Controller) shouldPull() bool {
	s := c.stream
	if s.state != stateReadable || c.closeRequested || !c.started {
		return false
	}
	if r := s.reader; r != nil && len(r.reads) > 0 {
		return true
	}
	d, _ := c.DesiredSize()
	return d > 0
}

func (c *Controller) pullIfNeeded() {
	if !c.shouldPull() {
		return
	}
	if c.pulling {
		c.pullAgain = true
		return
	}
	c.pulling = true
	p := c.stream.src.Pull(c)
	if p == nil {
		p = c.stream.loop.Resolved(value.Undefined)
	}
	p.Then(func(value.Value) (value.Value, error) {
		c.pulling = false
		if c.pullAgain {
			c.pullAgain = false
			c.pullIfNeeded()
		}
		return nil, nil
	}, func(reason value.Value) (value.Value, error) {
		c.pulling = false
		c.Error(reason)
		return nil, nil
	})
}
