package abi

import "context"

// Return-area layouts. A result that does not fit in a single i32 is written
// by the callee into a small area whose address the caller passes as retptr.
//
//	string:        [retptr+0] ptr  [retptr+4] len
//	option string: same, ptr 0 means absent
//	option f64:    [retptr+0] i32 present flag  [retptr+8] f64 value
//	option u32:    [retptr+0] i32 present flag  [retptr+4] u32 value

// RetAreaSize is large enough for every layout above.
const RetAreaSize = 16

// PutStringRet writes s into guest memory and its (ptr, len) pair at retptr.
func (m *Marshaler) PutStringRet(ctx context.Context, retptr uint32, s string) error {
	ptr, n, err := m.WriteString(ctx, s)
	if err != nil {
		return err
	}
	if err := m.PutU32(retptr, ptr); err != nil {
		return err
	}
	return m.PutU32(retptr+4, n)
}

// PutOptionString writes an optional string at retptr.
func (m *Marshaler) PutOptionString(ctx context.Context, retptr uint32, s string, ok bool) error {
	if !ok {
		if err := m.PutU32(retptr, 0); err != nil {
			return err
		}
		return m.PutU32(retptr+4, 0)
	}
	return m.PutStringRet(ctx, retptr, s)
}

// PutOptionF64 writes an optional number at retptr.
func (m *Marshaler) PutOptionF64(retptr uint32, f float64, ok bool) error {
	if !ok {
		f = 0
	}
	if err := m.PutF64(retptr+8, f); err != nil {
		return err
	}
	return m.PutI32(retptr, boolI32(ok))
}

// PutOptionU32 writes an optional u32 at retptr.
func (m *Marshaler) PutOptionU32(retptr, v uint32, ok bool) error {
	if !ok {
		v = 0
	}
	if err := m.PutU32(retptr+4, v); err != nil {
		return err
	}
	return m.PutI32(retptr, boolI32(ok))
}

// StringRet reads a (ptr, len) pair written by the guest at retptr.
func (m *Marshaler) StringRet(retptr uint32) (ptr, n uint32, err error) {
	if ptr, err = m.U32(retptr); err != nil {
		return 0, 0, err
	}
	if n, err = m.U32(retptr + 4); err != nil {
		return 0, 0, err
	}
	return ptr, n, nil
}

// TakeStringRet reads a guest-owned string returned through retptr and
// frees its buffer.
func (m *Marshaler) TakeStringRet(ctx context.Context, retptr uint32) (string, error) {
	ptr, n, err := m.StringRet(retptr)
	if err != nil {
		return "", err
	}
	defer m.Free(ctx, ptr, n) //nolint:errcheck
	return m.ReadString(ptr, n)
}

func boolI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
