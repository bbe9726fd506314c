package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/abi"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/heap"
	"github.com/wippyai/wasm-bridge/stream"
	"github.com/wippyai/wasm-bridge/value"
)

// State is the lifecycle state of a guest object adapter.
type State uint8

const (
	StateCreated State = iota
	StateStarted
	// StatePulling means a pull or write is in flight.
	StatePulling
	StateIdle
	StateClosed
	StateCancelled
	StateAborted
	StateErrored
)

var stateNames = [...]string{
	StateCreated:   "created",
	StateStarted:   "started",
	StatePulling:   "pulling",
	StateIdle:      "idle",
	StateClosed:    "closed",
	StateCancelled: "cancelled",
	StateAborted:   "aborted",
	StateErrored:   "errored",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further guest calls are made.
func (s State) Terminal() bool { return s >= StateClosed }

// Guest classes wrapped by adapters.
const (
	classByteSource       = "intounderlyingbytesource"
	classSource           = "intounderlyingsource"
	classSink             = "intounderlyingsink"
	classPipeOptions      = "pipeoptions"
	classQueuingStrategy  = "queuingstrategy"
	classGetReaderOptions = "readablestreamgetreaderoptions"
)

// guestObject is a guest-owned object known to the host by pointer.
type guestObject struct {
	in    *Instance
	class string
	ptr   uint32
	state State
	// refs counts handle-table slots holding the adapter.
	refs int
	// freeOnRelease frees the guest object when refs drops to zero.
	freeOnRelease bool
}

// Ptr returns the guest pointer, zero once destroyed.
func (o *guestObject) Ptr() uint32 { return o.ptr }

// State returns the adapter state.
func (o *guestObject) State() State { return o.state }

func (o *guestObject) export(method string) string { return o.class + "_" + method }

// live returns the pointer for a guest call. Terminal adapters refuse calls
// even before their object is freed.
func (o *guestObject) live(op string) (uint32, error) {
	if o.ptr == 0 || o.state.Terminal() {
		return 0, errors.UseAfterClose(errors.PhaseStream, o.class+"."+op)
	}
	return o.ptr, nil
}

// destroyIntoRaw hands the pointer over to a consuming guest call.
func (o *guestObject) destroyIntoRaw(op string) (uint32, error) {
	ptr, err := o.live(op)
	if err != nil {
		return 0, err
	}
	o.ptr = 0
	return ptr, nil
}

// Free releases the guest object.
func (o *guestObject) Free(ctx context.Context) error {
	ptr := o.ptr
	if ptr == 0 {
		return errors.UseAfterClose(errors.PhaseStream, o.class+".free")
	}
	o.ptr = 0
	if !o.state.Terminal() {
		o.state = StateClosed
	}
	_, err := o.in.call(ctx, "__wbg_"+o.class+"_free", uint64(ptr))
	return err
}

// fail moves the adapter to StateErrored and frees the guest object.
func (o *guestObject) fail() {
	if o.state.Terminal() {
		return
	}
	o.state = StateErrored
	o.Drop()
}

// Drop frees the guest object if it is still alive. The handle table calls
// it on close.
func (o *guestObject) Drop() {
	if o.ptr == 0 {
		return
	}
	if err := o.Free(o.in.loop.Context()); err != nil {
		o.in.logger.Warn("guest object free failed",
			zap.String("class", o.class),
			zap.Error(err))
	}
}

func (o *guestObject) retain() { o.refs++ }

func (o *guestObject) release() {
	o.refs--
	if o.refs <= 0 && o.freeOnRelease {
		o.Drop()
	}
}

type refCounted interface {
	retain()
	release()
}

// trackGuestObjects follows handle-table references to adapters.
func (in *Instance) trackGuestObjects(e heap.Event) {
	o, ok := e.Value.(refCounted)
	if !ok {
		return
	}
	switch e.Type {
	case heap.EventCreated:
		o.retain()
	case heap.EventDropped:
		o.release()
	}
}

// pull calls a pull export with an owned controller handle and tracks the
// returned promise.
func (o *guestObject) pull(c *stream.Controller) *eventloop.Promise {
	in := o.in
	return in.loop.Try(func() (*eventloop.Promise, error) {
		ptr, err := o.live("pull")
		if err != nil {
			return nil, err
		}
		o.state = StatePulling
		res, err := in.call(in.loop.Context(), o.export("pull"), uint64(ptr), uint64(in.alloc(c)))
		if err != nil {
			o.fail()
			return nil, err
		}
		p, err := in.takePromise(res)
		if err != nil {
			o.fail()
			return nil, err
		}
		return p.Then(
			func(v value.Value) (value.Value, error) {
				o.afterPull(c)
				return v, nil
			},
			func(reason value.Value) (value.Value, error) {
				o.fail()
				return nil, value.ToError(reason)
			},
		), nil
	})
}

// afterPull frees the guest object once the stream no longer needs it.
func (o *guestObject) afterPull(c *stream.Controller) {
	if o.state.Terminal() {
		return
	}
	switch {
	case c.Stream().Err() != nil:
		o.state = StateErrored
	case c.Closed():
		o.state = StateClosed
	default:
		o.state = StateIdle
		return
	}
	o.Drop()
}

// cancel consumes the guest object through its cancel export.
func (o *guestObject) cancel() *eventloop.Promise {
	in := o.in
	return in.loop.Try(func() (*eventloop.Promise, error) {
		ptr, err := o.destroyIntoRaw("cancel")
		if err != nil {
			return nil, err
		}
		o.state = StateCancelled
		_, err = in.call(in.loop.Context(), o.export("cancel"), uint64(ptr))
		return nil, err
	})
}

// ByteSource drives a byte stream from a guest IntoUnderlyingByteSource.
type ByteSource struct {
	guestObject
}

func newByteSource(in *Instance, ptr uint32) *ByteSource {
	return &ByteSource{guestObject{in: in, class: classByteSource, ptr: ptr}}
}

func (*ByteSource) Kind() value.Kind { return value.KindHost }

func (*ByteSource) String() string { return "IntoUnderlyingByteSource" }

// Type returns the source type reported by the guest, normally "bytes".
func (s *ByteSource) Type(ctx context.Context) (string, error) {
	ptr, err := s.live("type")
	if err != nil {
		return "", err
	}
	var typ string
	err = s.in.stack.WithRetptr(ctx, abi.RetAreaSize, func(retptr uint32) error {
		if _, err := s.in.call(ctx, s.export("type"), uint64(retptr), uint64(ptr)); err != nil {
			return err
		}
		typ, err = s.in.abi.TakeStringRet(ctx, retptr)
		return err
	})
	return typ, err
}

// AutoAllocateChunkSize returns the chunk size for auto-allocated reads.
func (s *ByteSource) AutoAllocateChunkSize(ctx context.Context) (uint32, error) {
	ptr, err := s.live("autoAllocateChunkSize")
	if err != nil {
		return 0, err
	}
	res, err := s.in.call(ctx, s.export("autoAllocateChunkSize"), uint64(ptr))
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return u32(res[0]), nil
}

// Start hands the controller to the guest as an owned handle.
func (s *ByteSource) Start(c *stream.Controller) error {
	ptr, err := s.live("start")
	if err != nil {
		return err
	}
	if _, err := s.in.call(s.in.loop.Context(), s.export("start"), uint64(ptr), uint64(s.in.alloc(c))); err != nil {
		s.fail()
		return err
	}
	s.state = StateStarted
	return nil
}

func (s *ByteSource) Pull(c *stream.Controller) *eventloop.Promise { return s.pull(c) }

func (s *ByteSource) Cancel(value.Value) *eventloop.Promise { return s.cancel() }

// Source drives a default stream from a guest IntoUnderlyingSource.
type Source struct {
	guestObject
}

func newSource(in *Instance, ptr uint32) *Source {
	return &Source{guestObject{in: in, class: classSource, ptr: ptr}}
}

func (*Source) Kind() value.Kind { return value.KindHost }

func (*Source) String() string { return "IntoUnderlyingSource" }

// Start has no guest counterpart; it only checks the pointer.
func (s *Source) Start(*stream.Controller) error {
	if _, err := s.live("start"); err != nil {
		return err
	}
	s.state = StateStarted
	return nil
}

func (s *Source) Pull(c *stream.Controller) *eventloop.Promise { return s.pull(c) }

func (s *Source) Cancel(value.Value) *eventloop.Promise { return s.cancel() }

// Sink feeds a guest IntoUnderlyingSink from a writable stream.
type Sink struct {
	guestObject
}

func newSink(in *Instance, ptr uint32) *Sink {
	return &Sink{guestObject{in: in, class: classSink, ptr: ptr}}
}

func (*Sink) Kind() value.Kind { return value.KindHost }

func (*Sink) String() string { return "IntoUnderlyingSink" }

func (s *Sink) Start(*stream.WritableController) error {
	if _, err := s.live("start"); err != nil {
		return err
	}
	s.state = StateStarted
	return nil
}

// Write passes chunk as an owned handle and adopts the returned promise.
func (s *Sink) Write(chunk value.Value, _ *stream.WritableController) *eventloop.Promise {
	in := s.in
	return in.loop.Try(func() (*eventloop.Promise, error) {
		ptr, err := s.live("write")
		if err != nil {
			return nil, err
		}
		s.state = StatePulling
		res, err := in.call(in.loop.Context(), s.export("write"), uint64(ptr), uint64(in.alloc(chunk)))
		if err != nil {
			s.fail()
			return nil, err
		}
		p, err := in.takePromise(res)
		if err != nil {
			s.fail()
			return nil, err
		}
		return p.Then(
			func(v value.Value) (value.Value, error) {
				if !s.state.Terminal() {
					s.state = StateIdle
				}
				return v, nil
			},
			func(reason value.Value) (value.Value, error) {
				s.fail()
				return nil, value.ToError(reason)
			},
		), nil
	})
}

// Close consumes the sink.
func (s *Sink) Close() *eventloop.Promise {
	return s.consume("close", StateClosed)
}

// Abort consumes the sink, passing reason as an owned handle.
func (s *Sink) Abort(reason value.Value) *eventloop.Promise {
	return s.consume("abort", StateAborted, reason)
}

func (s *Sink) consume(op string, next State, args ...value.Value) *eventloop.Promise {
	in := s.in
	return in.loop.Try(func() (*eventloop.Promise, error) {
		ptr, err := s.destroyIntoRaw(op)
		if err != nil {
			return nil, err
		}
		s.state = next
		params := []uint64{uint64(ptr)}
		for _, a := range args {
			params = append(params, uint64(in.alloc(a)))
		}
		res, err := in.call(in.loop.Context(), s.export(op), params...)
		if err != nil {
			return nil, err
		}
		return in.takePromise(res)
	})
}

var (
	_ stream.Source = (*ByteSource)(nil)
	_ stream.Source = (*Source)(nil)
	_ stream.Sink   = (*Sink)(nil)
	_ heap.Dropper  = (*Sink)(nil)
)
