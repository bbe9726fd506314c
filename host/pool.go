// Package host runs bridge guests on worker goroutines. Each worker owns an
// event loop, a bridge instance and one guest; requests are spread across
// workers round robin and everything touching guest state runs on the
// owning worker's loop.
package host

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/config"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/fetch"
	"github.com/wippyai/wasm-bridge/heap"
	"github.com/wippyai/wasm-bridge/stream"
	"github.com/wippyai/wasm-bridge/value"
)

// Instantiator creates a guest linked against the imports of in.
type Instantiator func(ctx context.Context, in *bridge.Instance) (wasmbridge.Guest, error)

// Options configures a Pool.
type Options struct {
	Workers int
	// Env is handed to every guest through set_envs.
	Env map[string]string
	// StackSize is the borrowed-handle capacity per instance.
	StackSize int
	// ChunkSize is the read size for request body streams.
	ChunkSize int
	Logger    *zap.Logger
}

// Pool is a set of running workers.
type Pool struct {
	workers []*Worker
	next    atomic.Uint64
	opts    Options
	logger  *zap.Logger

	// owners maps response body streams to the worker whose loop owns them.
	owners sync.Map

	closers []func(context.Context) error
}

// Load compiles the module named in cfg and starts cfg.Workers guests.
func Load(ctx context.Context, cfg *config.Config) (*Pool, error) {
	bin, err := os.ReadFile(cfg.Module)
	if err != nil {
		return nil, errors.Load("read module "+cfg.Module, err)
	}
	eng := engine.NewWazeroEngine(engine.Config{
		MemoryLimitPages:   cfg.MemoryLimitPages,
		CloseOnContextDone: true,
		WASI:               cfg.WASI,
		Stdout:             os.Stdout,
		Stderr:             os.Stderr,
	})
	mod, err := eng.Compile(ctx, bin)
	if err != nil {
		eng.Close(ctx) //nolint:errcheck
		return nil, err
	}

	env := make(map[string]string)
	if cfg.InheritEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
	}
	for k, v := range cfg.Env {
		env[k] = v
	}

	p, err := New(ctx, func(ctx context.Context, in *bridge.Instance) (wasmbridge.Guest, error) {
		return mod.Instantiate(ctx, in.Imports())
	}, Options{
		Workers:   cfg.Workers,
		Env:       env,
		StackSize: cfg.HostStackSize,
		ChunkSize: cfg.RequestChunkSize,
	})
	if err != nil {
		eng.Close(ctx) //nolint:errcheck
		return nil, err
	}
	p.closers = append(p.closers, eng.Close)
	return p, nil
}

// New starts opts.Workers workers, each with a guest from newGuest.
func New(ctx context.Context, newGuest Instantiator, opts Options) (*Pool, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = stream.DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}
	p := &Pool{opts: opts, logger: opts.Logger}
	for i := range opts.Workers {
		w, err := p.startWorker(ctx, i, newGuest)
		if err != nil {
			p.Close(ctx) //nolint:errcheck
			return nil, fmt.Errorf("start worker %d: %w", i, err)
		}
		p.workers = append(p.workers, w)
	}
	p.logger.Info("workers started", zap.Int("workers", len(p.workers)))
	return p, nil
}

// Workers returns the number of workers.
func (p *Pool) Workers() int { return len(p.workers) }

func (p *Pool) pick() *Worker {
	n := p.next.Add(1) - 1
	return p.workers[n%uint64(len(p.workers))]
}

// Dispatch runs the guest handler for req on the next worker and waits for
// the response. body, when not nil, becomes the request body stream on that
// worker's loop and is closed when the stream ends.
func (p *Pool) Dispatch(ctx context.Context, req *fetch.Request, body io.ReadCloser) (*fetch.Response, error) {
	w := p.pick()
	w.requests.Add(1)

	type result struct {
		resp *fetch.Response
		err  error
	}
	done := make(chan result, 1)
	w.loop.Post(func() {
		if body != nil {
			req.Body = stream.FromReader(w.loop, body, p.opts.ChunkSize)
		}
		promise, err := w.in.Handler(w.loop.Context(), req)
		if err != nil {
			done <- result{err: err}
			return
		}
		promise.Then(func(v value.Value) (value.Value, error) {
			resp, ok := v.(*fetch.Response)
			if !ok {
				done <- result{err: value.NewTypeError("handler resolved with " + value.TypeOf(v) + ", not a Response")}
				return nil, nil
			}
			done <- result{resp: resp}
			return nil, nil
		}, func(reason value.Value) (value.Value, error) {
			done <- result{err: value.ToError(reason)}
			return nil, nil
		})
	})

	select {
	case r := <-done:
		if r.err != nil {
			w.failures.Add(1)
			return nil, r.err
		}
		if r.resp.Stream != nil {
			p.owners.Store(r.resp.Stream, w)
		}
		return r.resp, nil
	case <-ctx.Done():
		w.failures.Add(1)
		return nil, ctx.Err()
	}
}

// Close stops every worker and releases engine resources.
func (p *Pool) Close(ctx context.Context) error {
	var errs []error
	for _, w := range p.workers {
		if err := w.stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range p.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (p *Pool) instanceOptions(id int) []bridge.Option {
	opts := []bridge.Option{bridge.WithLogger(p.logger.With(zap.Int("worker", id)))}
	if p.opts.StackSize > 0 {
		opts = append(opts, bridge.WithHeapOptions(heap.WithStackSize(p.opts.StackSize)))
	}
	return opts
}

func (p *Pool) startWorker(ctx context.Context, id int, newGuest Instantiator) (*Worker, error) {
	loop := eventloop.New(eventloop.WithLogger(p.logger.With(zap.Int("worker", id))))
	in := bridge.New(loop, p.instanceOptions(id)...)
	guest, err := newGuest(ctx, in)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:     id,
		loop:   loop,
		in:     in,
		guest:  guest,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		loop.Run(loopCtx) //nolint:errcheck
	}()

	err = loop.Do(ctx, func(ctx context.Context) error {
		if err := in.Attach(ctx, guest); err != nil {
			return err
		}
		if guest.Exports(bridge.ExportEntry) {
			if err := in.Entry(ctx); err != nil {
				return err
			}
		}
		if guest.Exports(bridge.ExportSetEnvs) {
			return in.SetEnvs(ctx, p.opts.Env)
		}
		return nil
	})
	if err != nil {
		w.stop(ctx) //nolint:errcheck
		return nil, err
	}
	return w, nil
}
