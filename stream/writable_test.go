package stream

import (
	"testing"

	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/value"
)

type testSink struct {
	loop    *eventloop.Loop
	writes  []value.Value
	settle  []func(value.Value)
	fail    []func(value.Value)
	pending bool
	closed  bool
	aborted value.Value
}

func (s *testSink) Start(*WritableController) error { return nil }

func (s *testSink) Write(chunk value.Value, _ *WritableController) *eventloop.Promise {
	s.writes = append(s.writes, chunk)
	if !s.pending {
		return nil
	}
	p, resolve, reject := s.loop.NewPromise()
	s.settle = append(s.settle, resolve)
	s.fail = append(s.fail, reject)
	return p
}

func (s *testSink) Close() *eventloop.Promise {
	s.closed = true
	return nil
}

func (s *testSink) Abort(reason value.Value) *eventloop.Promise {
	s.aborted = reason
	return nil
}

func TestWritable_SequentialWrites(t *testing.T) {
	l := eventloop.New()
	sink := &testSink{loop: l, pending: true}
	ws := NewWritableStream(l, sink, 1)
	l.Drain()

	w, err := ws.GetWriter()
	if err != nil {
		t.Fatal(err)
	}
	p1 := w.Write(value.String("a"))
	p2 := w.Write(value.String("b"))
	closed := w.Close()
	l.Drain()

	if len(sink.writes) != 1 {
		t.Fatalf("sink saw %d writes while the first is in flight", len(sink.writes))
	}
	sink.settle[0](value.Undefined)
	l.Drain()
	if p1.State() != eventloop.Fulfilled {
		t.Errorf("first write is %s", p1.State())
	}
	if len(sink.writes) != 2 || sink.closed {
		t.Fatalf("writes = %d, closed = %v", len(sink.writes), sink.closed)
	}

	sink.settle[1](value.Undefined)
	l.Drain()
	if p2.State() != eventloop.Fulfilled || closed.State() != eventloop.Fulfilled {
		t.Fatalf("write = %s, close = %s", p2.State(), closed.State())
	}
	if !sink.closed || !ws.Closed() || !w.Closed() {
		t.Error("stream should be closed")
	}
	if p := w.Write(value.String("c")); p.State() != eventloop.Rejected {
		t.Error("write after close should reject")
	}
}

func TestWritable_Backpressure(t *testing.T) {
	l := eventloop.New()
	sink := &testSink{loop: l, pending: true}
	ws := NewWritableStream(l, sink, 1)
	l.Drain()
	w, _ := ws.GetWriter()

	if w.Ready().State() != eventloop.Fulfilled {
		t.Fatal("ready should start fulfilled")
	}
	w.Write(value.Number(1))
	if w.Ready().State() != eventloop.Pending {
		t.Fatal("ready should be pending under backpressure")
	}
	if d, _ := w.DesiredSize(); d != 0 {
		t.Errorf("desired size = %v", d)
	}

	l.Drain()
	sink.settle[0](value.Undefined)
	l.Drain()
	if w.Ready().State() != eventloop.Fulfilled {
		t.Error("ready should fulfill once the write completes")
	}
	if d, _ := w.DesiredSize(); d != 1 {
		t.Errorf("desired size = %v, want 1", d)
	}
}

func TestWritable_AbortWaitsForInFlightWrite(t *testing.T) {
	l := eventloop.New()
	sink := &testSink{loop: l, pending: true}
	ws := NewWritableStream(l, sink, 4)
	l.Drain()
	w, _ := ws.GetWriter()

	first := w.Write(value.String("a"))
	queued := w.Write(value.String("b"))
	l.Drain()

	reason := value.String("stop")
	aborted := w.Abort(reason)
	l.Drain()
	if sink.aborted != nil {
		t.Fatal("sink aborted while a write is in flight")
	}
	if aborted.State() != eventloop.Pending {
		t.Fatalf("abort is %s before the write settled", aborted.State())
	}

	sink.settle[0](value.Undefined)
	l.Drain()
	if first.State() != eventloop.Fulfilled {
		t.Errorf("in-flight write is %s", first.State())
	}
	if queued.State() != eventloop.Rejected || queued.Result() != reason {
		t.Errorf("queued write = %s %v", queued.State(), queued.Result())
	}
	if sink.aborted != reason {
		t.Errorf("sink aborted with %v", sink.aborted)
	}
	if aborted.State() != eventloop.Fulfilled {
		t.Errorf("abort is %s", aborted.State())
	}
	if len(sink.writes) != 1 {
		t.Errorf("sink saw %d writes", len(sink.writes))
	}
	if ws.Err() != reason {
		t.Errorf("stored error = %v", ws.Err())
	}
}

func TestWritable_SinkErrorErrorsStream(t *testing.T) {
	l := eventloop.New()
	sink := &testSink{loop: l, pending: true}
	ws := NewWritableStream(l, sink, 2)
	l.Drain()
	w, _ := ws.GetWriter()

	p := w.Write(value.String("a"))
	l.Drain()
	boom := value.NewError("disk full")
	sink.fail[0](boom)
	l.Drain()

	if p.State() != eventloop.Rejected || p.Result() != boom {
		t.Fatalf("write = %s %v", p.State(), p.Result())
	}
	if q := w.Write(value.String("b")); q.State() != eventloop.Rejected {
		t.Error("write to an errored stream should reject")
	}
	if _, ok := w.DesiredSize(); ok {
		t.Error("desired size should be unavailable")
	}
}

func TestWritable_Locking(t *testing.T) {
	l := eventloop.New()
	ws := NewWritableStream(l, &testSink{loop: l}, 1)
	w, _ := ws.GetWriter()

	if _, err := ws.GetWriter(); err == nil {
		t.Error("second writer should fail")
	}
	if p := ws.Abort(value.Undefined); p.State() != eventloop.Rejected {
		t.Error("abort of a locked stream should reject")
	}
	w.ReleaseLock()
	if ws.Locked() {
		t.Error("still locked after release")
	}
	if p := w.Write(value.Number(1)); p.State() != eventloop.Rejected {
		t.Error("write on a released writer should reject")
	}
}
