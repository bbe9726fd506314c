package abi

import (
	"context"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
)

// Guest export names of the allocation and shadow-stack ABI.
const (
	ExportMalloc            = "__wbindgen_malloc"
	ExportRealloc           = "__wbindgen_realloc"
	ExportFree              = "__wbindgen_free"
	ExportAddToStackPointer = "__wbindgen_add_to_stack_pointer"
	ExportExnStore          = "__wbindgen_exn_store"
)

// GuestAllocator implements wasmbridge.Allocator through guest exports.
type GuestAllocator struct {
	Guest wasmbridge.Guest
}

// NewGuestAllocator wraps g.
func NewGuestAllocator(g wasmbridge.Guest) *GuestAllocator {
	return &GuestAllocator{Guest: g}
}

func (a *GuestAllocator) Malloc(ctx context.Context, size uint32) (uint32, error) {
	res, err := a.Guest.Call(ctx, ExportMalloc, uint64(size))
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, err)
	}
	ptr := result32(res)
	if ptr == 0 && size != 0 {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, nil)
	}
	return ptr, nil
}

func (a *GuestAllocator) Realloc(ctx context.Context, ptr, oldSize, newSize uint32) (uint32, error) {
	res, err := a.Guest.Call(ctx, ExportRealloc, uint64(ptr), uint64(oldSize), uint64(newSize))
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseEncode, newSize, err)
	}
	np := result32(res)
	if np == 0 && newSize != 0 {
		return 0, errors.AllocationFailed(errors.PhaseEncode, newSize, nil)
	}
	return np, nil
}

func (a *GuestAllocator) Free(ctx context.Context, ptr, size uint32) error {
	if ptr == 0 {
		return nil
	}
	_, err := a.Guest.Call(ctx, ExportFree, uint64(ptr), uint64(size))
	return err
}

// Stack manipulates the guest shadow stack used for return pointers.
type Stack struct {
	Guest wasmbridge.Guest
}

// WithRetptr reserves size bytes on the guest shadow stack, passes the
// address to fn and restores the stack pointer on every exit path.
func (s Stack) WithRetptr(ctx context.Context, size uint32, fn func(retptr uint32) error) (err error) {
	res, err := s.Guest.Call(ctx, ExportAddToStackPointer, uint64(uint32(-int32(size))))
	if err != nil {
		return errors.Wrap(errors.PhaseCall, errors.KindGuestPanic, err, "reserve return area")
	}
	retptr := result32(res)
	defer func() {
		if _, rerr := s.Guest.Call(ctx, ExportAddToStackPointer, uint64(size)); rerr != nil && err == nil {
			err = errors.Wrap(errors.PhaseCall, errors.KindGuestPanic, rerr, "restore stack pointer")
		}
	}()
	return fn(retptr)
}

func result32(res []uint64) uint32 {
	if len(res) == 0 {
		return 0
	}
	return uint32(res[0])
}
