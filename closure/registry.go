package closure

import (
	"context"

	"go.uber.org/zap"
)

// Registry tracks live closures for one instance.
type Registry struct {
	tramp     Trampoline
	logger    *zap.Logger
	live      map[uint64]*Closure
	nextID    uint64
	created   uint64
	destroyed uint64
	failed    uint64
}

// Stats summarises registry activity.
type Stats struct {
	Live      int
	Created   uint64
	Destroyed uint64
	// DestroyErrors counts destructors that failed in the guest.
	DestroyErrors uint64
}

// NewRegistry creates a registry that crosses into the guest through t.
func NewRegistry(t Trampoline, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tramp:  t,
		logger: logger,
		live:   make(map[uint64]*Closure),
	}
}

// Wrap creates a closure for env with a reference count of one.
func (r *Registry) Wrap(env Env) *Closure {
	r.nextID++
	c := &Closure{reg: r, id: r.nextID, env: env, cnt: 1}
	r.live[c.id] = c
	r.created++
	return c
}

func (r *Registry) release(ctx context.Context, c *Closure, a uint32) {
	delete(r.live, c.id)
	r.destroyed++
	if err := r.tramp.Destroy(ctx, c.env.Dtor, a, c.env.B); err != nil {
		r.failed++
		r.logger.Warn("closure destructor failed",
			zap.Uint64("closure", c.id),
			zap.Uint32("dtor", c.env.Dtor),
			zap.Error(err))
	}
}

// Live returns the closures that have not been destroyed.
func (r *Registry) Live() []*Closure {
	out := make([]*Closure, 0, len(r.live))
	for _, c := range r.live {
		out = append(out, c)
	}
	return out
}

// Stats returns counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Live:          len(r.live),
		Created:       r.created,
		Destroyed:     r.destroyed,
		DestroyErrors: r.failed,
	}
}
