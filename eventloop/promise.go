package eventloop

import (
	"context"

	"github.com/wippyai/wasm-bridge/value"
)

// State is the settlement state of a promise.
type State uint8

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	}
	return "pending"
}

// Handler reacts to a settled promise. Returning an error rejects the
// derived promise; returning a promise makes it adopt that promise.
type Handler func(value.Value) (value.Value, error)

// Promise is a host promise bound to a loop. All methods except Await must
// be called on the loop goroutine.
type Promise struct {
	loop      *Loop
	state     State
	result    value.Value
	reactions []func()
	resolving bool
}

func (*Promise) Kind() value.Kind { return value.KindPromise }

func (p *Promise) String() string { return "Promise { <" + p.state.String() + "> }" }

// NewPromise creates a pending promise and its resolving functions.
// Only the first call to either function has an effect.
func (l *Loop) NewPromise() (p *Promise, resolve, reject func(value.Value)) {
	p = &Promise{loop: l}
	return p, p.resolve, p.reject
}

// Resolved returns a promise fulfilled with v. A promise argument is
// returned as is.
func (l *Loop) Resolved(v value.Value) *Promise {
	if q, ok := v.(*Promise); ok {
		return q
	}
	p := &Promise{loop: l}
	p.settle(Fulfilled, v)
	return p
}

// Rejected returns a promise rejected with reason.
func (l *Loop) Rejected(reason value.Value) *Promise {
	p := &Promise{loop: l}
	p.settle(Rejected, reason)
	return p
}

// Try runs fn and returns its promise, or a rejected promise if fn fails.
func (l *Loop) Try(fn func() (*Promise, error)) *Promise {
	p, err := fn()
	if err != nil {
		return l.Rejected(value.FromError(err))
	}
	if p == nil {
		return l.Resolved(value.Undefined)
	}
	return p
}

func (p *Promise) resolve(v value.Value) {
	if p.resolving || p.state != Pending {
		return
	}
	p.resolving = true
	v = value.Or(v)
	if q, ok := v.(*Promise); ok {
		if q == p {
			p.settle(Rejected, value.NewTypeError("promise resolved with itself"))
			return
		}
		p.loop.Microtask(func() {
			q.subscribe(func() {
				p.settle(q.state, q.result)
			})
		})
		return
	}
	p.settle(Fulfilled, v)
}

func (p *Promise) reject(reason value.Value) {
	if p.resolving || p.state != Pending {
		return
	}
	p.resolving = true
	p.settle(Rejected, reason)
}

func (p *Promise) settle(s State, v value.Value) {
	if p.state != Pending {
		return
	}
	p.state = s
	p.result = value.Or(v)
	for _, r := range p.reactions {
		p.loop.Microtask(r)
	}
	p.reactions = nil
}

func (p *Promise) subscribe(r func()) {
	if p.state == Pending {
		p.reactions = append(p.reactions, r)
		return
	}
	p.loop.Microtask(r)
}

// Then registers reactions and returns the derived promise. A nil handler
// passes the result through.
func (p *Promise) Then(onFulfilled, onRejected Handler) *Promise {
	child, resolve, reject := p.loop.NewPromise()
	p.subscribe(func() {
		h := onFulfilled
		if p.state == Rejected {
			h = onRejected
		}
		if h == nil {
			if p.state == Rejected {
				reject(p.result)
			} else {
				resolve(p.result)
			}
			return
		}
		v, err := h(p.result)
		if err != nil {
			reject(value.FromError(err))
			return
		}
		resolve(v)
	})
	return child
}

// Catch is Then(nil, onRejected).
func (p *Promise) Catch(onRejected Handler) *Promise {
	return p.Then(nil, onRejected)
}

// Finally runs fn on either outcome and passes the outcome through.
func (p *Promise) Finally(fn func()) *Promise {
	return p.Then(
		func(v value.Value) (value.Value, error) {
			fn()
			return v, nil
		},
		func(reason value.Value) (value.Value, error) {
			fn()
			return nil, value.ToError(reason)
		},
	)
}

// State returns the current state.
func (p *Promise) State() State { return p.state }

// Result returns the fulfillment value or rejection reason.
func (p *Promise) Result() value.Value { return value.Or(p.result) }

// Loop returns the loop the promise belongs to.
func (p *Promise) Loop() *Loop { return p.loop }

// Await blocks until the promise settles. It must be called from a
// goroutine other than the loop's, while the loop is running.
func (p *Promise) Await(ctx context.Context) (value.Value, error) {
	type outcome struct {
		v   value.Value
		err error
	}
	ch := make(chan outcome, 1)
	p.loop.Post(func() {
		p.subscribe(func() {
			if p.state == Rejected {
				ch <- outcome{err: value.ToError(p.result)}
				return
			}
			ch <- outcome{v: p.result}
		})
	})
	select {
	case o := <-ch:
		return o.v, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
