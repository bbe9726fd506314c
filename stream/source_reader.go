package stream

import (
	"errors"
	"io"

	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/value"
)

// DefaultChunkSize is the read size used by FromReader when none is given.
const DefaultChunkSize = 16 * 1024

// FromReader returns a byte stream that reads rc on demand. Reads happen on
// a separate goroutine and their results are posted back to loop. rc is
// closed when the stream ends, errors or is cancelled.
func FromReader(loop *eventloop.Loop, rc io.ReadCloser, chunkSize int) *ReadableStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return NewReadableStream(loop, &readerSource{loop: loop, rc: rc, size: chunkSize}, Options{Type: TypeBytes})
}

type readerSource struct {
	loop   *eventloop.Loop
	rc     io.ReadCloser
	size   int
	closed bool
}

func (*readerSource) Start(*Controller) error { return nil }

func (r *readerSource) Pull(c *Controller) *eventloop.Promise {
	p, resolve, _ := r.loop.NewPromise()
	buf := make([]byte, r.size)
	go func() {
		n, err := r.rc.Read(buf)
		r.loop.Post(func() {
			defer resolve(value.Undefined)
			if r.closed {
				return
			}
			if n > 0 {
				_ = c.Enqueue(value.NewUint8Array(buf[:n]))
			}
			switch {
			case errors.Is(err, io.EOF):
				r.close()
				if !c.Closed() {
					_ = c.Close()
				}
			case err != nil:
				r.close()
				c.Error(value.FromError(err))
			}
		})
	}()
	return p
}

func (r *readerSource) Cancel(value.Value) *eventloop.Promise {
	r.close()
	return nil
}

func (r *readerSource) close() {
	if r.closed {
		return
	}
	r.closed = true
	_ = r.rc.Close()
}
