// Package memory caches typed views over guest linear memory.
//
// Growing linear memory replaces the underlying buffer, so any view taken
// before a guest call may point at dead memory afterwards. Views are
// revalidated on every access: a cached view is stale when it is empty or
// when its length no longer matches the memory size, and a stale view is
// rebuilt from the current buffer, never patched.
//
// Callers must not hold a view across a guest call. Re-derive it after any
// call that can allocate (malloc, realloc, or any export that runs guest code).
package memory

import (
	"encoding/binary"
	"math"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
)

// Views is the per-instance view cache.
type Views struct {
	mem wasmbridge.Memory
	buf []byte
	gen uint64
}

// New creates a view cache over mem.
func New(mem wasmbridge.Memory) *Views {
	return &Views{mem: mem}
}

// Memory returns the underlying memory.
func (v *Views) Memory() wasmbridge.Memory { return v.mem }

// Generation increments every time the cached buffer is rebuilt.
func (v *Views) Generation() uint64 { return v.gen }

// Invalidate drops the cached buffer.
func (v *Views) Invalidate() { v.buf = nil }

func (v *Views) stale() bool {
	return len(v.buf) == 0 || uint32(len(v.buf)) != v.mem.Size()
}

// Bytes returns a byte view over the whole memory.
func (v *Views) Bytes() []byte {
	if v.stale() {
		size := v.mem.Size()
		b, ok := v.mem.Read(0, size)
		if !ok {
			b = nil
		}
		v.buf = b
		v.gen++
	}
	return v.buf
}

// Uint8 is an element view over bytes.
type Uint8 struct{ b []byte }

// Int32 is an element view over little-endian int32 words.
type Int32 struct{ b []byte }

// Uint32 is an element view over little-endian uint32 words.
type Uint32 struct{ b []byte }

// Float64 is an element view over little-endian float64 words.
type Float64 struct{ b []byte }

// Uint8 returns a byte element view.
func (v *Views) Uint8() Uint8 { return Uint8{v.Bytes()} }

// Int32 returns an int32 element view. Index with ptr/4.
func (v *Views) Int32() Int32 { return Int32{v.Bytes()} }

// Uint32 returns a uint32 element view. Index with ptr/4.
func (v *Views) Uint32() Uint32 { return Uint32{v.Bytes()} }

// Float64 returns a float64 element view. Index with ptr/8.
func (v *Views) Float64() Float64 { return Float64{v.Bytes()} }

func (u Uint8) Len() int { return len(u.b) }
func (u Uint8) At(i uint32) byte { return u.b[i] }
func (u Uint8) Set(i uint32, x byte) { u.b[i] = x }
func (w Int32) Len() int { return len(w.b) / 4 }
func (w Int32) At(i uint32) int32 { return int32(binary.LittleEndian.Uint32(w.b[i*4:])) }
func (w Int32) Set(i uint32, x int32) { binary.LittleEndian.PutUint32(w.b[i*4:], uint32(x)) }
func (w Uint32) Len() int { return len(w.b) / 4 }
func (w Uint32) At(i uint32) uint32 { return binary.LittleEndian.Uint32(w.b[i*4:]) }
func (w Uint32) Set(i, x uint32) { binary.LittleEndian.PutUint32(w.b[i*4:], x) }
func (w Float64) Len() int { return len(w.b) / 8 }
func (w Float64) At(i uint32) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(w.b[i*8:]))
}
func (w Float64) Set(i uint32, x float64) {
	binary.LittleEndian.PutUint64(w.b[i*8:], math.Float64bits(x))
}

// Subarray returns the bytes in [ptr, ptr+n), aliasing memory.
func (v *Views) Subarray(ptr, n uint32) ([]byte, error) {
	b := v.Bytes()
	end := uint64(ptr) + uint64(n)
	if end > uint64(len(b)) {
		return nil, errors.OutOfBounds(errors.PhaseMemory, ptr, n, uint32(len(b)))
	}
	return b[ptr:end:end], nil
}

// Check verifies that [ptr, ptr+n) is inside memory.
func (v *Views) Check(ptr, n uint32) error {
	_, err := v.Subarray(ptr, n)
	return err
}

// Copy returns a copy of [ptr, ptr+n).
func (v *Views) Copy(ptr, n uint32) ([]byte, error) {
	b, err := v.Subarray(ptr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write copies data to ptr.
func (v *Views) Write(ptr uint32, data []byte) error {
	b, err := v.Subarray(ptr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}
