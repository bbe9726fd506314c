package abi

import (
	"context"
	"unicode/utf16"
	"unicode/utf8"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/memory"
)

// Marshaler moves strings, bytes and scalars across the boundary.
type Marshaler struct {
	views *memory.Views
	alloc wasmbridge.Allocator
}

// New creates a marshaler over views that allocates through alloc.
func New(views *memory.Views, alloc wasmbridge.Allocator) *Marshaler {
	return &Marshaler{views: views, alloc: alloc}
}

// Views returns the view cache.
func (m *Marshaler) Views() *memory.Views { return m.views }

// Allocator returns the guest allocator.
func (m *Marshaler) Allocator() wasmbridge.Allocator { return m.alloc }

// WriteString copies s into freshly allocated guest memory.
//
// The buffer is first sized for one byte per character and filled while the
// input stays 7-bit ASCII. On the first other character the buffer is grown
// to offset + 3*remaining UTF-16 code units and the rest is encoded in
// place. The returned length is the number of bytes actually written; the
// guest owns the buffer afterwards.
func (m *Marshaler) WriteString(ctx context.Context, s string) (ptr, n uint32, err error) {
	chars := utf16Len(s)
	ptr, err = m.alloc.Malloc(ctx, chars)
	if err != nil {
		return 0, 0, err
	}

	buf, err := m.views.Subarray(ptr, chars)
	if err != nil {
		return 0, 0, err
	}
	offset := 0
	for ; offset < len(s); offset++ {
		c := s[offset]
		if c > 0x7F {
			break
		}
		buf[offset] = c
	}
	if offset == len(s) {
		return ptr, uint32(offset), nil
	}

	rest := s[offset:]
	size := uint32(offset) + 3*utf16Len(rest)
	ptr, err = m.alloc.Realloc(ctx, ptr, chars, size)
	if err != nil {
		return 0, 0, err
	}
	// realloc may have grown memory; take a fresh view.
	dst, err := m.views.Subarray(ptr+uint32(offset), size-uint32(offset))
	if err != nil {
		return 0, 0, err
	}
	read, written := encodeInto(dst, rest)
	if read != len(rest) {
		return 0, 0, errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Op("write_string").
			Detail("encoded %d of %d bytes into a %d-byte buffer", read, len(rest), len(dst)).
			Build()
	}
	return ptr, uint32(offset + written), nil
}

// utf16Len counts s in UTF-16 code units. Three bytes per unit bounds the
// UTF-8 encoding: characters outside the BMP take two units and four bytes.
func utf16Len(s string) uint32 {
	var n uint32
	for _, r := range s {
		if utf16.RuneLen(r) == 2 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// encodeInto writes the UTF-8 encoding of s into dst and reports how many
// input bytes were consumed and how many bytes were written. Invalid input
// bytes are encoded as U+FFFD. It stops before a character that does not fit.
func encodeInto(dst []byte, s string) (read, written int) {
	for read < len(s) {
		r, size := utf8.DecodeRuneInString(s[read:])
		if utf8.RuneLen(r) > len(dst)-written {
			break
		}
		written += utf8.EncodeRune(dst[written:], r)
		read += size
	}
	return read, written
}

// ReadString decodes n bytes at ptr. Invalid UTF-8 is an error, never
// replaced.
func (m *Marshaler) ReadString(ptr, n uint32) (string, error) {
	if n == 0 {
		return "", nil
	}
	b, err := m.views.Subarray(ptr, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, ptr, b)
	}
	return string(b), nil
}

// WriteBytes copies b into freshly allocated guest memory.
func (m *Marshaler) WriteBytes(ctx context.Context, b []byte) (ptr, n uint32, err error) {
	ptr, err = m.alloc.Malloc(ctx, uint32(len(b)))
	if err != nil {
		return 0, 0, err
	}
	if err := m.views.Write(ptr, b); err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(b)), nil
}

// ReadBytes copies n bytes at ptr out of guest memory.
func (m *Marshaler) ReadBytes(ptr, n uint32) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	return m.views.Copy(ptr, n)
}

// Free releases a guest buffer previously handed to the host.
func (m *Marshaler) Free(ctx context.Context, ptr, n uint32) error {
	return m.alloc.Free(ctx, ptr, n)
}

// Scalars are read and written at naturally aligned offsets.

func (m *Marshaler) check(ptr, size uint32) error {
	if ptr%size != 0 {
		return errors.New(errors.PhaseMemory, errors.KindInvalidInput).
			Detail("misaligned %d-byte access at %#x", size, ptr).
			Build()
	}
	return m.views.Check(ptr, size)
}

func (m *Marshaler) PutI32(ptr uint32, v int32) error {
	if err := m.check(ptr, 4); err != nil {
		return err
	}
	m.views.Int32().Set(ptr/4, v)
	return nil
}

func (m *Marshaler) I32(ptr uint32) (int32, error) {
	if err := m.check(ptr, 4); err != nil {
		return 0, err
	}
	return m.views.Int32().At(ptr / 4), nil
}

func (m *Marshaler) PutU32(ptr, v uint32) error {
	if err := m.check(ptr, 4); err != nil {
		return err
	}
	m.views.Uint32().Set(ptr/4, v)
	return nil
}

func (m *Marshaler) U32(ptr uint32) (uint32, error) {
	if err := m.check(ptr, 4); err != nil {
		return 0, err
	}
	return m.views.Uint32().At(ptr / 4), nil
}

func (m *Marshaler) PutF64(ptr uint32, v float64) error {
	if err := m.check(ptr, 8); err != nil {
		return err
	}
	m.views.Float64().Set(ptr/8, v)
	return nil
}

func (m *Marshaler) F64(ptr uint32) (float64, error) {
	if err := m.check(ptr, 8); err != nil {
		return 0, err
	}
	return m.views.Float64().At(ptr / 8), nil
}
