package bridge

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/wippyai/wasm-bridge/eventloop"
	"github.com/wippyai/wasm-bridge/heap"
	"github.com/wippyai/wasm-bridge/internal/guesttest"
	"github.com/wippyai/wasm-bridge/value"
)

// harness drives an Instance attached to a fake guest. Guest exports are
// Go functions that call back into imports through host.
type harness struct {
	t     *testing.T
	ctx   context.Context
	loop  *eventloop.Loop
	guest *guesttest.Guest
	in    *Instance
	funcs map[string]HostFunc
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		loop:  eventloop.New(),
		guest: guesttest.New(),
		funcs: make(map[string]HostFunc),
	}
	h.in = New(h.loop, opts...)
	for _, f := range h.in.Imports() {
		h.funcs[f.Name] = f
	}
	if err := h.in.Attach(h.ctx, h.guest); err != nil {
		t.Fatal(err)
	}
	return h
}

// host calls an import the way the engine does.
func (h *harness) host(name string, params ...uint64) []uint64 {
	h.t.Helper()
	f, ok := h.funcs[name]
	if !ok {
		h.t.Fatalf("no import %q", name)
	}
	stack := make([]uint64, f.StackSize())
	copy(stack, params)
	f.Fn(h.ctx, stack)
	return stack[:len(f.Results)]
}

// handle calls an import returning a single handle.
func (h *harness) handle(name string, params ...uint64) uint64 {
	h.t.Helper()
	return h.host(name, params...)[0]
}

func (h *harness) str(s string) (ptr, n uint64) {
	p, l := h.guest.PutString(s)
	return uint64(p), uint64(l)
}

// newString allocates a host string through string_new.
func (h *harness) newString(s string) uint64 {
	h.t.Helper()
	p, n := h.str(s)
	return h.handle("string_new", p, n)
}

func (h *harness) value(handle uint64) value.Value {
	h.t.Helper()
	v, err := h.in.heap.Get(heap.Handle(handle))
	if err != nil {
		h.t.Fatalf("handle %d: %v", handle, err)
	}
	return v
}

// retptr reserves a return area in guest memory.
func (h *harness) retptr() uint64 {
	p, _ := h.guest.PutBytes(make([]byte, 16))
	return uint64(p)
}

func (h *harness) u32At(p uint64) uint32 {
	return binary.LittleEndian.Uint32(h.guest.Bytes()[p:])
}

func (h *harness) f64At(p uint64) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(h.guest.Bytes()[p:]))
}

// retString reads a (ptr, len) string result at p.
func (h *harness) retString(p uint64) string {
	return h.guest.String(h.u32At(p), h.u32At(p+4))
}

// putRetString writes s into guest memory the way a guest export would.
func (h *harness) putRetString(retptr uint64, s string) {
	p, n := h.guest.PutString(s)
	b := h.guest.Bytes()
	binary.LittleEndian.PutUint32(b[retptr:], p)
	binary.LittleEndian.PutUint32(b[retptr+4:], n)
}

// export registers a guest export.
func (h *harness) export(name string, fn func(params []uint64) uint64) {
	h.guest.Export(name, func(_ context.Context, params []uint64) ([]uint64, error) {
		return []uint64{fn(params)}, nil
	})
}

// trap runs fn and returns the error it panicked with.
func trap(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected the import to trap")
		}
		var ok bool
		if err, ok = r.(error); !ok {
			t.Fatalf("trap value %v is not an error", r)
		}
	}()
	fn()
	return nil
}
