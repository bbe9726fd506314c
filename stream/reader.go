package stream

import (
	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/value"
)

// ReadResult is the fulfillment value of a read.
type ReadResult struct {
	Value value.Value
	Done  bool
}

func (*ReadResult) Kind() value.Kind { return value.KindObject }

type readRequest struct {
	resolve func(value.Value)
	reject  func(value.Value)
}

// Reader reads from a locked ReadableStream. A BYOB reader reads into
// caller-supplied views with ReadInto.
type Reader struct {
	loop   *eventloop.Loop
	stream *ReadableStream
	byob   bool
	reads  []readRequest
}

func (*Reader) Kind() value.Kind { return value.KindHost }

func (r *Reader) String() string {
	if r.byob {
		return "ReadableStreamBYOBReader"
	}
	return "ReadableStreamDefaultReader"
}

// IsBYOB reports whether this is a BYOB reader.
func (r *Reader) IsBYOB() bool { return r.byob }

// Pending returns the number of outstanding reads.
func (r *Reader) Pending() int { return len(r.reads) }

func (r *Reader) fulfill(res *ReadResult) {
	req := r.reads[0]
	r.reads[0] = readRequest{}
	r.reads = r.reads[1:]
	req.resolve(res)
}

// Read resolves with the next chunk, or Done once the stream has closed.
func (r *Reader) Read() *eventloop.Promise {
	s := r.stream
	if s == nil {
		return r.rejectReleased()
	}
	l := s.loop
	if r.byob {
		return l.Rejected(value.NewTypeError("BYOB readers read with ReadInto"))
	}
	s.disturbed = true
	switch s.state {
	case stateClosed:
		return l.Resolved(&ReadResult{Value: value.Undefined, Done: true})
	case stateErrored:
		return l.Rejected(s.storedError)
	}

	p, resolve, reject := l.NewPromise()
	c := s.ctrl
	if len(c.queue) > 0 {
		resolve(&ReadResult{Value: c.dequeue()})
		if c.closeRequested && len(c.queue) == 0 {
			s.close()
		} else {
			c.pullIfNeeded()
		}
		return p
	}

	r.reads = append(r.reads, readRequest{resolve: resolve, reject: reject})
	if c.bytes && c.autoAlloc > 0 {
		c.pullIntos = append(c.pullIntos, &pullInto{
			buf:    value.NewArrayBuffer(c.autoAlloc),
			length: c.autoAlloc,
		})
	}
	c.pullIfNeeded()
	return p
}

// ReadInto fills view with the next bytes of a byte stream.
func (r *Reader) ReadInto(view *value.Uint8Array) *eventloop.Promise {
	s := r.stream
	if s == nil {
		return r.rejectReleased()
	}
	l := s.loop
	if !r.byob {
		return l.Rejected(value.NewTypeError("ReadInto requires a BYOB reader"))
	}
	if view == nil || view.Length == 0 {
		return l.Rejected(value.NewTypeError("view must have a non-zero length"))
	}
	s.disturbed = true
	switch s.state {
	case stateClosed:
		return l.Resolved(&ReadResult{Value: view.Subarray(0, 0), Done: true})
	case stateErrored:
		return l.Rejected(s.storedError)
	}

	p, resolve, reject := l.NewPromise()
	c := s.ctrl
	if c.queueSize > 0 {
		n := c.fillFromQueue(view.Bytes())
		resolve(&ReadResult{Value: view.Subarray(0, n)})
		if c.closeRequested && len(c.queue) == 0 {
			s.close()
		} else {
			c.pullIfNeeded()
		}
		return p
	}

	c.pullIntos = append(c.pullIntos, &pullInto{
		buf:    view.Buffer,
		offset: view.Offset,
		length: view.Length,
		byob:   true,
	})
	r.reads = append(r.reads, readRequest{resolve: resolve, reject: reject})
	c.pullIfNeeded()
	return p
}

// Cancel cancels the stream through the reader.
func (r *Reader) Cancel(reason value.Value) *eventloop.Promise {
	if r.stream == nil {
		return r.rejectReleased()
	}
	return r.stream.cancel(reason)
}

// ReleaseLock unlocks the stream. Pending reads are rejected.
func (r *Reader) ReleaseLock() {
	s := r.stream
	if s == nil {
		return
	}
	reads := r.reads
	r.reads = nil
	for _, req := range reads {
		req.reject(value.NewTypeError("reader was released"))
	}
	s.reader = nil
	r.stream = nil
}

func (r *Reader) rejectReleased() *eventloop.Promise {
	return r.loop.Rejected(value.NewTypeError("reader was released"))
}

// pullInto describes a buffer waiting to be filled by a byte source.
type pullInto struct {
	buf    *value.ArrayBuffer
	offset int
	length int
	filled int
	byob   bool
}

// BYOBRequest exposes the head pull-into buffer to a byte source.
type BYOBRequest struct {
	ctrl *Controller
	pi   *pullInto
	view *value.Uint8Array
}

func (*BYOBRequest) Kind() value.Kind { return value.KindHost }

func (*BYOBRequest) String() string { return "ReadableStreamBYOBRequest" }

// View returns the writable region, or nil once the request was answered.
func (b *BYOBRequest) View() *value.Uint8Array { return b.view }

// Respond reports that n bytes were written into View.
func (b *BYOBRequest) Respond(n int) error {
	c := b.ctrl
	if c == nil {
		return value.NewTypeError("BYOB request is no longer valid")
	}
	s := c.stream
	if s.state == stateClosed {
		if n != 0 {
			return value.NewTypeError("bytesWritten must be 0 once the stream is closed")
		}
		b.ctrl = nil
		b.view = nil
		return nil
	}
	if n <= 0 {
		return value.NewTypeError("bytesWritten must be greater than 0")
	}
	if n > b.view.Length {
		return &value.Error{Name: "RangeError", Message: "bytesWritten out of range"}
	}

	pi := b.pi
	c.invalidateBYOBRequest()
	pi.filled += n
	if len(c.pullIntos) > 0 && c.pullIntos[0] == pi {
		c.pullIntos = c.pullIntos[1:]
	}
	filled := value.View(pi.buf, pi.offset, pi.filled)
	if r := s.reader; r != nil && len(r.reads) > 0 {
		r.fulfill(&ReadResult{Value: filled})
	} else {
		c.push(filled, float64(pi.filled))
	}
	c.pullIfNeeded()
	return nil
}
