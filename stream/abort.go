package stream

import (
	"github.com/wippyai/wasm-bridge/value"
)

// AbortSignal reports an abort requested through its AbortController.
type AbortSignal struct {
	aborted   bool
	reason    value.Value
	listeners []abortListener
	nextID    int
}

type abortListener struct {
	id int
	fn func(reason value.Value)
}

func (*AbortSignal) Kind() value.Kind { return value.KindHost }

func (*AbortSignal) String() string { return "AbortSignal" }

// Aborted reports whether the signal has fired.
func (s *AbortSignal) Aborted() bool { return s.aborted }

// Reason returns the abort reason, or Undefined before abort.
func (s *AbortSignal) Reason() value.Value { return value.Or(s.reason) }

// OnAbort registers fn to run once on abort, in registration order. The
// returned function removes the listener.
func (s *AbortSignal) OnAbort(fn func(reason value.Value)) func() {
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, abortListener{id: id, fn: fn})
	return func() {
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *AbortSignal) fire(reason value.Value) {
	if s.aborted {
		return
	}
	s.aborted = true
	s.reason = reason
	listeners := s.listeners
	s.listeners = nil
	for _, l := range listeners {
		l.fn(reason)
	}
}

// AbortController fires an AbortSignal.
type AbortController struct {
	signal *AbortSignal
}

// NewAbortController creates a controller with a fresh signal.
func NewAbortController() *AbortController {
	return &AbortController{signal: &AbortSignal{}}
}

func (*AbortController) Kind() value.Kind { return value.KindHost }

func (*AbortController) String() string { return "AbortController" }

// Signal returns the controlled signal.
func (c *AbortController) Signal() *AbortSignal { return c.signal }

// Abort fires the signal. A nullish reason becomes an AbortError.
func (c *AbortController) Abort(reason value.Value) {
	if value.IsNullish(reason) {
		reason = NewAbortError()
	}
	c.signal.fire(reason)
}

// NewAbortError returns the default abort reason.
func NewAbortError() *value.Error {
	return &value.Error{Name: "AbortError", Message: "This operation was aborted"}
}
