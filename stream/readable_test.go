package stream

import (
	"testing"

	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/value"
)

type testSource struct {
	start     func(c *Controller) error
	pull      func(c *Controller) *eventloop.Promise
	pulls     int
	cancelled value.Value
}

func (s *testSource) Start(c *Controller) error {
	if s.start != nil {
		return s.start(c)
	}
	return nil
}

func (s *testSource) Pull(c *Controller) *eventloop.Promise {
	s.pulls++
	if s.pull != nil {
		return s.pull(c)
	}
	return nil
}

func (s *testSource) Cancel(reason value.Value) *eventloop.Promise {
	s.cancelled = reason
	return nil
}

func readResult(t *testing.T, p *eventloop.Promise) *ReadResult {
	t.Helper()
	if p.State() != eventloop.Fulfilled {
		t.Fatalf("read is %s, want fulfilled", p.State())
	}
	res, ok := p.Result().(*ReadResult)
	if !ok {
		t.Fatalf("read result is %T", p.Result())
	}
	return res
}

func TestReadable_DefaultReadsQueueThenClose(t *testing.T) {
	l := eventloop.New()
	src := &testSource{start: func(c *Controller) error {
		_ = c.Enqueue(value.String("a"))
		_ = c.Enqueue(value.String("b"))
		return c.Close()
	}}
	s := NewReadableStream(l, src, Options{HighWaterMark: 1})
	l.Drain()
	if s.Closed() {
		t.Fatal("stream closed before the queue was consumed")
	}

	r, err := s.GetReader()
	if err != nil {
		t.Fatal(err)
	}
	p1, p2, p3 := r.Read(), r.Read(), r.Read()
	l.Drain()

	if v := readResult(t, p1).Value; v != value.String("a") {
		t.Errorf("first read = %v", v)
	}
	if v := readResult(t, p2).Value; v != value.String("b") {
		t.Errorf("second read = %v", v)
	}
	if !readResult(t, p3).Done {
		t.Error("third read should be done")
	}
	if !s.Closed() {
		t.Error("stream should be closed")
	}
	if src.pulls != 0 {
		t.Errorf("pulls = %d, want 0 after close", src.pulls)
	}
}

func TestReadable_PullsUpToHighWaterMark(t *testing.T) {
	l := eventloop.New()
	n := 0
	src := &testSource{}
	src.pull = func(c *Controller) *eventloop.Promise {
		n++
		_ = c.Enqueue(value.Number(float64(n)))
		return nil
	}
	s := NewReadableStream(l, src, Options{HighWaterMark: 2})
	l.Drain()

	if src.pulls != 2 {
		t.Fatalf("pulls = %d, want 2", src.pulls)
	}
	if d, ok := s.Controller().DesiredSize(); !ok || d != 0 {
		t.Fatalf("desired size = %v, %v", d, ok)
	}

	r, _ := s.GetReader()
	p := r.Read()
	l.Drain()
	if v := readResult(t, p).Value; v != value.Number(1) {
		t.Errorf("read = %v, want 1", v)
	}
	if src.pulls != 3 {
		t.Errorf("pulls = %d, want 3 after one read", src.pulls)
	}
}

func TestReadable_NoOverlappingPulls(t *testing.T) {
	l := eventloop.New()
	var settle func(value.Value)
	src := &testSource{}
	src.pull = func(*Controller) *eventloop.Promise {
		p, resolve, _ := l.NewPromise()
		settle = resolve
		return p
	}
	s := NewReadableStream(l, src, Options{})
	l.Drain()
	if src.pulls != 0 {
		t.Fatalf("pulled %d times with no demand", src.pulls)
	}

	r, _ := s.GetReader()
	r.Read()
	r.Read()
	l.Drain()
	if src.pulls != 1 {
		t.Fatalf("pulls = %d while the first pull is pending", src.pulls)
	}

	settle(value.Undefined)
	l.Drain()
	if src.pulls != 2 {
		t.Fatalf("pulls = %d, want 2 after the first pull settled", src.pulls)
	}
}

func TestReadable_PullRejectionErrorsStream(t *testing.T) {
	l := eventloop.New()
	src := &testSource{}
	src.pull = func(*Controller) *eventloop.Promise {
		return l.Rejected(value.NewError("source broke"))
	}
	s := NewReadableStream(l, src, Options{})
	l.Drain()
	r, _ := s.GetReader()
	p := r.Read()
	l.Drain()

	if p.State() != eventloop.Rejected {
		t.Fatalf("read is %s", p.State())
	}
	if e, ok := s.Err().(*value.Error); !ok || e.Message != "source broke" {
		t.Errorf("stored error = %v", s.Err())
	}
}

func TestReadable_Locking(t *testing.T) {
	l := eventloop.New()
	src := &testSource{}
	s := NewReadableStream(l, src, Options{})
	r, _ := s.GetReader()

	if _, err := s.GetReader(); err == nil {
		t.Error("second reader should fail")
	}
	if p := s.Cancel(value.Undefined); p.State() != eventloop.Rejected {
		t.Error("cancel of a locked stream should reject")
	}

	pending := r.Read()
	r.ReleaseLock()
	if pending.State() != eventloop.Rejected {
		t.Error("release should reject pending reads")
	}
	if s.Locked() {
		t.Error("stream still locked")
	}
	if p := r.Read(); p.State() != eventloop.Rejected {
		t.Error("read on a released reader should reject")
	}

	reason := value.String("done")
	if p := s.Cancel(reason); p.State() == eventloop.Rejected {
		t.Error("cancel of an unlocked stream failed")
	}
	if src.cancelled != reason {
		t.Errorf("source cancelled with %v", src.cancelled)
	}
	if !s.Closed() || !s.Disturbed() {
		t.Error("cancelled stream should be closed and disturbed")
	}
}

func TestByteStream_EnqueueRequiresBytes(t *testing.T) {
	l := eventloop.New()
	s := NewReadableStream(l, &testSource{}, Options{Type: TypeBytes})
	c := s.Controller()

	if err := c.Enqueue(value.String("x")); err == nil {
		t.Error("string chunk accepted by a byte stream")
	}
	if err := c.Enqueue(value.NewUint8Array(nil)); err == nil {
		t.Error("empty chunk accepted")
	}

	buf := []byte("abc")
	if err := c.Enqueue(value.NewUint8Array(buf)); err != nil {
		t.Fatal(err)
	}
	if d, _ := c.DesiredSize(); d != -3 {
		t.Errorf("desired size = %v, want -3", d)
	}
}

func TestByteStream_BYOBRead(t *testing.T) {
	l := eventloop.New()
	src := &testSource{}
	src.pull = func(c *Controller) *eventloop.Promise {
		req := c.BYOBRequest()
		if req == nil {
			t.Error("no BYOB request during pull")
			return nil
		}
		n := copy(req.View().Bytes(), "hey")
		if err := req.Respond(n); err != nil {
			t.Error(err)
		}
		return nil
	}
	s := NewReadableStream(l, src, Options{Type: TypeBytes})
	l.Drain()

	r, err := s.GetBYOBReader()
	if err != nil {
		t.Fatal(err)
	}
	p := r.ReadInto(value.NewUint8Array(make([]byte, 8)))
	l.Drain()

	res := readResult(t, p)
	u, ok := res.Value.(*value.Uint8Array)
	if !ok || string(u.Bytes()) != "hey" {
		t.Fatalf("read = %v", value.DebugString(res.Value))
	}
}

func TestByteStream_ReadIntoDrainsQueue(t *testing.T) {
	l := eventloop.New()
	s := NewReadableStream(l, &testSource{}, Options{Type: TypeBytes})
	l.Drain()
	_ = s.Controller().Enqueue(value.NewUint8Array([]byte("hello")))

	r, _ := s.GetBYOBReader()
	p := r.ReadInto(value.NewUint8Array(make([]byte, 3)))
	if got := string(readResult(t, p).Value.(*value.Uint8Array).Bytes()); got != "hel" {
		t.Fatalf("first read = %q", got)
	}
	p = r.ReadInto(value.NewUint8Array(make([]byte, 3)))
	if got := string(readResult(t, p).Value.(*value.Uint8Array).Bytes()); got != "lo" {
		t.Fatalf("second read = %q", got)
	}
}

func TestByteStream_AutoAllocate(t *testing.T) {
	l := eventloop.New()
	src := &testSource{}
	var seen int
	src.pull = func(c *Controller) *eventloop.Promise {
		req := c.BYOBRequest()
		seen = req.View().Length
		copy(req.View().Bytes(), "ab")
		_ = req.Respond(2)
		return nil
	}
	s := NewReadableStream(l, src, Options{Type: TypeBytes, AutoAllocateChunkSize: 4})
	l.Drain()

	r, _ := s.GetReader()
	p := r.Read()
	l.Drain()

	if seen != 4 {
		t.Errorf("auto-allocated view length = %d, want 4", seen)
	}
	u := readResult(t, p).Value.(*value.Uint8Array)
	if string(u.Bytes()) != "ab" {
		t.Errorf("read = %q", u.Bytes())
	}
}

func TestBYOBRequest_RespondValidation(t *testing.T) {
	l := eventloop.New()
	var req *BYOBRequest
	src := &testSource{}
	src.pull = func(c *Controller) *eventloop.Promise {
		req = c.BYOBRequest()
		p, _, _ := l.NewPromise()
		return p
	}
	s := NewReadableStream(l, src, Options{Type: TypeBytes})
	l.Drain()
	r, _ := s.GetBYOBReader()
	p := r.ReadInto(value.NewUint8Array(make([]byte, 4)))
	l.Drain()

	if err := req.Respond(0); err == nil {
		t.Error("Respond(0) on a readable stream should fail")
	}
	if err := req.Respond(5); err == nil {
		t.Error("Respond past the view should fail")
	}

	if err := s.Controller().Close(); err != nil {
		t.Fatal(err)
	}
	if !readResult(t, p).Done {
		t.Error("pending BYOB read should complete as done on close")
	}
	if err := req.Respond(0); err != nil {
		t.Errorf("Respond(0) after close = %v", err)
	}
	if err := req.Respond(0); err == nil {
		t.Error("answered request should no longer be valid")
	}
}

func TestController_ErrorRejectsReads(t *testing.T) {
	l := eventloop.New()
	s := NewReadableStream(l, &testSource{}, Options{})
	r, _ := s.GetReader()
	p := r.Read()

	s.Controller().Error(value.NewTypeError("bad"))
	if p.State() != eventloop.Rejected {
		t.Fatalf("pending read is %s", p.State())
	}
	if _, ok := s.Controller().DesiredSize(); ok {
		t.Error("desired size of an errored stream should be unavailable")
	}
	if err := s.Controller().Enqueue(value.Number(1)); err == nil {
		t.Error("enqueue on an errored stream succeeded")
	}
}
