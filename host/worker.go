package host

import (
	"context"
	"sync/atomic"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/fetch"
	"github.com/wippyai/wasm-bridge/heap"
	"github.com/wippyai/wasm-bridge/stream"
	"github.com/wippyai/wasm-bridge/value"
)

// Worker is one guest with its own event loop.
type Worker struct {
	id     int
	loop   *eventloop.Loop
	in     *bridge.Instance
	guest  wasmbridge.Guest
	cancel context.CancelFunc
	done   chan struct{}

	requests atomic.Uint64
	failures atomic.Uint64
	stopped  bool
}

type guestCloser interface {
	Close(ctx context.Context) error
}

// stop frees guest objects on the loop, stops it and closes the guest.
func (w *Worker) stop(ctx context.Context) error {
	if w.stopped {
		return nil
	}
	w.stopped = true
	err := w.loop.Do(ctx, func(context.Context) error {
		return w.in.Close()
	})
	w.cancel()
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c, ok := w.guest.(guestCloser); ok {
		if cerr := c.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// HandleInfo describes one live handle.
type HandleInfo struct {
	Handle uint32
	Type   string
	Value  string
}

// WorkerStats is a point-in-time view of one worker.
type WorkerStats struct {
	ID       int
	Requests uint64
	Failures uint64
	bridge.Stats
	Handles []HandleInfo
}

// maxSnapshotHandles bounds the handle list per worker.
const maxSnapshotHandles = 256

// Snapshot collects statistics from every worker on its own loop.
func (p *Pool) Snapshot(ctx context.Context) ([]WorkerStats, error) {
	out := make([]WorkerStats, 0, len(p.workers))
	for _, w := range p.workers {
		ws := WorkerStats{
			ID:       w.id,
			Requests: w.requests.Load(),
			Failures: w.failures.Load(),
		}
		err := w.loop.Do(ctx, func(context.Context) error {
			ws.Stats = w.in.Stats()
			w.in.Heap().Each(func(e heap.Entry) bool {
				ws.Handles = append(ws.Handles, HandleInfo{
					Handle: uint32(e.Handle),
					Type:   value.TypeOf(e.Value),
					Value:  value.DebugString(e.Value),
				})
				return len(ws.Handles) < maxSnapshotHandles
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, nil
}

// ReadBody passes the response body to fn chunk by chunk. Stream bodies are
// read on the loop of the worker that produced them; fn runs on the calling
// goroutine. When fn fails or ctx ends the stream is cancelled.
func (p *Pool) ReadBody(ctx context.Context, resp *fetch.Response, fn func([]byte) error) error {
	if resp.Stream == nil {
		if len(resp.Bytes) == 0 {
			return nil
		}
		return fn(resp.Bytes)
	}
	owner, ok := p.owners.LoadAndDelete(resp.Stream)
	if !ok {
		return errors.NotFound(errors.PhaseStream, "response stream", "owner")
	}
	w := owner.(*Worker)

	var reader *stream.Reader
	err := w.loop.Do(ctx, func(context.Context) error {
		r, err := resp.Stream.GetReader()
		reader = r
		return err
	})
	if err != nil {
		return err
	}

	for {
		chunk, done, err := w.read(ctx, reader)
		if err != nil {
			w.cancelRead(reader, err)
			return err
		}
		if done {
			return nil
		}
		if err := fn(chunk); err != nil {
			w.cancelRead(reader, err)
			return err
		}
	}
}

type readOutcome struct {
	chunk []byte
	done  bool
	err   error
}

// read waits for the next chunk without blocking the loop.
func (w *Worker) read(ctx context.Context, r *stream.Reader) ([]byte, bool, error) {
	ch := make(chan readOutcome, 1)
	w.loop.Post(func() {
		r.Read().Then(func(v value.Value) (value.Value, error) {
			res := v.(*stream.ReadResult)
			if res.Done {
				ch <- readOutcome{done: true}
				return nil, nil
			}
			chunk, err := chunkBytes(res.Value)
			ch <- readOutcome{chunk: chunk, err: err}
			return nil, nil
		}, func(reason value.Value) (value.Value, error) {
			ch <- readOutcome{err: value.ToError(reason)}
			return nil, nil
		})
	})
	select {
	case o := <-ch:
		return o.chunk, o.done, o.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (w *Worker) cancelRead(r *stream.Reader, reason error) {
	w.loop.Post(func() {
		r.Cancel(value.FromError(reason))
	})
}

// chunkBytes copies a body chunk out of the loop's ownership.
func chunkBytes(v value.Value) ([]byte, error) {
	switch c := v.(type) {
	case *value.Uint8Array:
		return append([]byte(nil), c.Bytes()...), nil
	case value.String:
		return []byte(c), nil
	default:
		return nil, value.NewTypeError("response body chunk is " + value.TypeOf(v))
	}
}
