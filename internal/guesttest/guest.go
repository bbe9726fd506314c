// Package guesttest provides an in-process stand-in for an instantiated guest.
//
// Guest implements wasmbridge.Guest over a growable byte slice with a bump
// allocator and the allocation/stack/exception exports the bridge expects.
// Tests register further exports as Go functions.
package guesttest

import (
	"context"
	"fmt"
	"sync"

	wasmbridge "github.com/wippyai/wasm-bridge"
)

// PageSize is the wasm page size.
const PageSize = 65536

const (
	stackSize = 16 * 1024
	heapBase  = stackSize
)

// Memory is a growable linear memory.
type Memory struct {
	data     []byte
	maxPages uint32
}

// NewMemory creates a memory of the given number of pages.
func NewMemory(pages uint32) *Memory {
	return &Memory{data: make([]byte, int(pages)*PageSize), maxPages: 1024}
}

func (m *Memory) Size() uint32 { return uint32(len(m.data)) }

// Read returns a slice aliasing the buffer, like wazero does.
func (m *Memory) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset:end:end], true
}

// Grow always moves the buffer so stale views are detectable.
func (m *Memory) Grow(deltaPages uint32) (uint32, bool) {
	prev := uint32(len(m.data) / PageSize)
	if prev+deltaPages > m.maxPages {
		return 0, false
	}
	next := make([]byte, int(prev+deltaPages)*PageSize)
	copy(next, m.data)
	m.data = next
	return prev, true
}

// Export is a guest export implemented in Go.
type Export func(ctx context.Context, params []uint64) ([]uint64, error)

// AllocOp records one allocator call.
type AllocOp struct {
	Op      string
	Ptr     uint32
	OldSize uint32
	Size    uint32
}

// Guest is a fake guest instance.
type Guest struct {
	Mem *Memory

	// GrowOnAlloc grows memory by one page on every malloc/realloc.
	GrowOnAlloc bool

	mu      sync.Mutex
	exports map[string]Export
	top     uint32
	sp      uint32
	allocs  []AllocOp
	calls   []string
	exn     []uint32
	freed   map[uint32]uint32
}

// New creates a guest with one page of memory and the default exports.
func New() *Guest {
	g := &Guest{
		Mem:     NewMemory(1),
		exports: make(map[string]Export),
		top:     heapBase,
		sp:      stackSize,
		freed:   make(map[uint32]uint32),
	}
	g.exports["__wbindgen_malloc"] = func(_ context.Context, p []uint64) ([]uint64, error) {
		ptr, err := g.malloc(uint32(p[0]))
		return []uint64{uint64(ptr)}, err
	}
	g.exports["__wbindgen_realloc"] = func(_ context.Context, p []uint64) ([]uint64, error) {
		ptr, err := g.realloc(uint32(p[0]), uint32(p[1]), uint32(p[2]))
		return []uint64{uint64(ptr)}, err
	}
	g.exports["__wbindgen_free"] = func(_ context.Context, p []uint64) ([]uint64, error) {
		g.allocs = append(g.allocs, AllocOp{Op: "free", Ptr: uint32(p[0]), Size: uint32(p[1])})
		g.freed[uint32(p[0])] = uint32(p[1])
		return nil, nil
	}
	g.exports["__wbindgen_add_to_stack_pointer"] = func(_ context.Context, p []uint64) ([]uint64, error) {
		g.sp = uint32(int32(g.sp) + int32(uint32(p[0])))
		return []uint64{uint64(g.sp)}, nil
	}
	g.exports["__wbindgen_exn_store"] = func(_ context.Context, p []uint64) ([]uint64, error) {
		g.exn = append(g.exn, uint32(p[0]))
		return nil, nil
	}
	return g
}

// Export registers or replaces an export.
func (g *Guest) Export(name string, fn Export) {
	g.mu.Lock()
	g.exports[name] = fn
	g.mu.Unlock()
}

func (g *Guest) Memory() wasmbridge.Memory { return g.Mem }

func (g *Guest) Exports(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.exports[name]
	return ok
}

func (g *Guest) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	g.mu.Lock()
	fn, ok := g.exports[name]
	g.calls = append(g.calls, name)
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("export %q not found", name)
	}
	return fn(ctx, params)
}

func (g *Guest) malloc(size uint32) (uint32, error) {
	if g.GrowOnAlloc {
		g.Mem.Grow(1)
	}
	ptr := (g.top + 7) &^ 7
	end := ptr + size
	for end > g.Mem.Size() {
		if _, ok := g.Mem.Grow(1); !ok {
			return 0, nil
		}
	}
	g.top = end
	g.allocs = append(g.allocs, AllocOp{Op: "malloc", Ptr: ptr, Size: size})
	return ptr, nil
}

func (g *Guest) realloc(ptr, oldSize, newSize uint32) (uint32, error) {
	var np uint32
	if ptr+oldSize == g.top && !g.GrowOnAlloc {
		for ptr+newSize > g.Mem.Size() {
			if _, ok := g.Mem.Grow(1); !ok {
				return 0, nil
			}
		}
		g.top = ptr + newSize
		np = ptr
	} else {
		saved := g.allocs
		p, err := g.malloc(newSize)
		g.allocs = saved
		if err != nil || p == 0 {
			return p, err
		}
		copy(g.Mem.data[p:], g.Mem.data[ptr:ptr+oldSize])
		np = p
	}
	g.allocs = append(g.allocs, AllocOp{Op: "realloc", Ptr: np, OldSize: oldSize, Size: newSize})
	return np, nil
}

// Allocs returns the allocator calls made so far.
func (g *Guest) Allocs() []AllocOp {
	return append([]AllocOp(nil), g.allocs...)
}

// Calls returns the export names called so far.
func (g *Guest) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// Exceptions returns handles stored through __wbindgen_exn_store.
func (g *Guest) Exceptions() []uint32 {
	return append([]uint32(nil), g.exn...)
}

// Freed reports whether ptr was freed and with which size.
func (g *Guest) Freed(ptr uint32) (uint32, bool) {
	n, ok := g.freed[ptr]
	return n, ok
}

// StackPointer returns the shadow stack pointer.
func (g *Guest) StackPointer() uint32 { return g.sp }

// Bytes returns the current memory contents.
func (g *Guest) Bytes() []byte { return g.Mem.data }

// PutString allocates s in guest memory the way guest code would.
func (g *Guest) PutString(s string) (ptr, n uint32) {
	ptr, _ = g.malloc(uint32(len(s)))
	copy(g.Mem.data[ptr:], s)
	return ptr, uint32(len(s))
}

// PutBytes allocates b in guest memory.
func (g *Guest) PutBytes(b []byte) (ptr, n uint32) {
	ptr, _ = g.malloc(uint32(len(b)))
	copy(g.Mem.data[ptr:], b)
	return ptr, uint32(len(b))
}

// String reads n bytes at ptr without validation.
func (g *Guest) String(ptr, n uint32) string {
	return string(g.Mem.data[ptr : ptr+n])
}
