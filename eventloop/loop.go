package eventloop

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Loop runs tasks one at a time on a single goroutine. Microtasks queued
// while a task runs are drained before the next task starts.
type Loop struct {
	mu     sync.Mutex
	tasks  []func()
	wake   chan struct{}
	micro  []func()
	ctx    context.Context
	logger *zap.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used for recovered task panics.
func WithLogger(l *zap.Logger) Option {
	return func(loop *Loop) {
		if l != nil {
			loop.logger = l
		}
	}
}

// New creates a loop. It does nothing until Run or Drain is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		ctx:    context.Background(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Context returns the context passed to Run, or Background before Run.
func (l *Loop) Context() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx
}

// Post queues fn to run on the loop. Safe for concurrent use.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Microtask queues fn to run after the current task. Loop goroutine only.
func (l *Loop) Microtask(fn func()) {
	l.micro = append(l.micro, fn)
}

// Run processes tasks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()
	for {
		l.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Drain runs queued tasks and microtasks on the calling goroutine until
// both queues are empty. Tests use it to step a loop deterministically.
func (l *Loop) Drain() {
	for {
		l.drainMicrotasks()
		l.mu.Lock()
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()
		l.run(fn)
	}
}

func (l *Loop) drainMicrotasks() {
	for len(l.micro) > 0 {
		fn := l.micro[0]
		l.micro[0] = nil
		l.micro = l.micro[1:]
		l.run(fn)
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// Do runs fn on the loop and waits for it. It must not be called from the
// loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	l.Post(func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic on event loop: %v", r)
			}
		}()
		done <- fn(ctx)
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
