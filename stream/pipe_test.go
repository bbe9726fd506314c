package stream

import (
	"testing"

	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/value"
)

func chunkSource(chunks ...string) *testSource {
	return &testSource{start: func(c *Controller) error {
		for _, ch := range chunks {
			_ = c.Enqueue(value.String(ch))
		}
		return c.Close()
	}}
}

func TestPipeTo(t *testing.T) {
	tests := []struct {
		name       string
		opts       PipeOptions
		wantClosed bool
	}{
		{name: "closes destination", wantClosed: true},
		{name: "prevent close", opts: PipeOptions{PreventClose: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := eventloop.New()
			src := NewReadableStream(l, chunkSource("a", "b", "c"), Options{HighWaterMark: 1})
			sink := &testSink{loop: l}
			dst := NewWritableStream(l, sink, 1)
			l.Drain()

			p := PipeTo(src, dst, tt.opts)
			l.Drain()

			if p.State() != eventloop.Fulfilled {
				t.Fatalf("pipe is %s: %v", p.State(), p.Result())
			}
			if len(sink.writes) != 3 || sink.writes[2] != value.String("c") {
				t.Fatalf("sink writes = %v", sink.writes)
			}
			if sink.closed != tt.wantClosed {
				t.Errorf("sink closed = %v, want %v", sink.closed, tt.wantClosed)
			}
			if src.Locked() || dst.Locked() {
				t.Error("pipe should release both streams")
			}
		})
	}
}

func TestPipeTo_LockedStreams(t *testing.T) {
	l := eventloop.New()
	src := NewReadableStream(l, &testSource{}, Options{})
	dst := NewWritableStream(l, &testSink{loop: l}, 1)
	_, _ = src.GetReader()

	if p := PipeTo(src, dst, PipeOptions{}); p.State() != eventloop.Rejected {
		t.Fatal("piping a locked source should reject")
	}
	if dst.Locked() {
		t.Error("destination locked by a failed pipe")
	}
}

func TestPipeTo_SignalAborts(t *testing.T) {
	l := eventloop.New()
	srcSource := &testSource{}
	srcSource.pull = func(*Controller) *eventloop.Promise {
		p, _, _ := l.NewPromise()
		return p
	}
	src := NewReadableStream(l, srcSource, Options{})
	sink := &testSink{loop: l}
	dst := NewWritableStream(l, sink, 1)
	l.Drain()

	ctrl := NewAbortController()
	p := PipeTo(src, dst, PipeOptions{Signal: ctrl.Signal()})
	l.Drain()
	if p.State() != eventloop.Pending {
		t.Fatalf("pipe settled early: %s", p.State())
	}

	ctrl.Abort(nil)
	l.Drain()

	if p.State() != eventloop.Rejected {
		t.Fatalf("pipe is %s after abort", p.State())
	}
	e, ok := p.Result().(*value.Error)
	if !ok || e.Name != "AbortError" {
		t.Fatalf("rejection = %v", p.Result())
	}
	if sink.aborted != p.Result() {
		t.Errorf("sink aborted with %v", sink.aborted)
	}
	if srcSource.cancelled != p.Result() {
		t.Errorf("source cancelled with %v", srcSource.cancelled)
	}
}

func TestPipeTo_PreventAbortOnSourceError(t *testing.T) {
	l := eventloop.New()
	src := NewReadableStream(l, &testSource{}, Options{})
	sink := &testSink{loop: l}
	dst := NewWritableStream(l, sink, 1)
	l.Drain()

	p := PipeTo(src, dst, PipeOptions{PreventAbort: true})
	l.Drain()
	boom := value.NewError("boom")
	src.Controller().Error(boom)
	l.Drain()

	if p.State() != eventloop.Rejected || p.Result() != boom {
		t.Fatalf("pipe = %s %v", p.State(), p.Result())
	}
	if sink.aborted != nil {
		t.Error("destination aborted despite PreventAbort")
	}
	if dst.Err() != nil {
		t.Error("destination should stay writable")
	}
}

func TestPipeTo_AlreadyAbortedSignal(t *testing.T) {
	l := eventloop.New()
	src := NewReadableStream(l, chunkSource("a"), Options{HighWaterMark: 1})
	sink := &testSink{loop: l}
	dst := NewWritableStream(l, sink, 1)
	l.Drain()

	ctrl := NewAbortController()
	ctrl.Abort(value.String("late"))
	p := PipeTo(src, dst, PipeOptions{Signal: ctrl.Signal(), PreventCancel: true})
	l.Drain()

	if p.State() != eventloop.Rejected || p.Result() != value.String("late") {
		t.Fatalf("pipe = %s %v", p.State(), p.Result())
	}
	if len(sink.writes) != 0 {
		t.Error("nothing should be written")
	}
	if src.Disturbed() {
		t.Error("source cancelled despite PreventCancel")
	}
}
