// Package closure lets the host call guest closures safely.
//
// A guest closure is an environment pointer pair (a, b) plus the ids of an
// invoke shim and a destructor, both dispatched by the guest. The host keeps
// a reference count: one for the owner and one per in-flight call. While a
// call is in flight the environment pointer is zeroed, so a re-entrant call
// fails instead of touching an environment the guest may be mutating. When
// the count reaches zero the destructor runs exactly once, after any call
// that was in progress has returned.
package closure

import (
	"context"
	"fmt"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
)

// Mode selects how arguments are handed to the guest.
type Mode uint8

const (
	// Owned arguments are allocated as fresh handles the guest takes over.
	Owned Mode = iota
	// Borrowed arguments live on the borrowed-handle stack for the duration
	// of the call only.
	Borrowed
)

// Env identifies a guest closure environment and its shims.
type Env struct {
	A, B   uint32
	Invoke uint32
	Dtor   uint32
	Mode   Mode
}

// Trampoline crosses into the guest. The bridge instance implements it.
type Trampoline interface {
	Invoke(ctx context.Context, env Env, args []value.Value) error
	Destroy(ctx context.Context, dtor, a, b uint32) error
}

// Closure is a host callable backed by a guest closure.
type Closure struct {
	reg   *Registry
	id    uint64
	env   Env
	cnt   int
	calls uint64
	// dropped is set once the owner reference is released.
	dropped bool
	done    bool
}

func (*Closure) Kind() value.Kind { return value.KindFunction }

func (c *Closure) String() string { return fmt.Sprintf("Closure(%d)", c.id) }

// ID returns the registry id.
func (c *Closure) ID() uint64 { return c.id }

// Destroyed reports whether the destructor has run.
func (c *Closure) Destroyed() bool { return c.done }

// Call invokes the guest closure. The this argument is ignored.
func (c *Closure) Call(ctx context.Context, _ value.Value, args ...value.Value) (value.Value, error) {
	if c.done || c.env.A == 0 {
		return nil, errors.New(errors.PhaseClosure, errors.KindUseAfterClose).
			Op("invoke").
			Detail("closure %d invoked recursively or after destruction", c.id).
			Build()
	}
	c.cnt++
	env := c.env
	c.env.A = 0
	c.calls++
	defer func() {
		c.cnt--
		if c.cnt == 0 {
			c.destroy(ctx, env.A)
			return
		}
		c.env.A = env.A
	}()
	if err := c.reg.tramp.Invoke(ctx, env, args); err != nil {
		return nil, err
	}
	return value.Undefined, nil
}

// Drop releases the owner's reference. It reports true when this call ran
// the destructor; false means a call is still in flight and the destructor
// runs when it returns, or the owner reference was already released.
func (c *Closure) Drop(ctx context.Context) bool {
	if c.done || c.dropped || c.cnt == 0 {
		return false
	}
	c.dropped = true
	c.cnt--
	if c.cnt == 0 {
		a := c.env.A
		c.env.A = 0
		c.destroy(ctx, a)
		return true
	}
	return false
}

func (c *Closure) destroy(ctx context.Context, a uint32) {
	if c.done {
		return
	}
	c.done = true
	c.env.A = 0
	c.reg.release(ctx, c, a)
}
