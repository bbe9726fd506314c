package wasmbridge

import "context"

// Memory represents guest linear memory.
//
// Read returns a slice aliasing the live buffer. The slice is invalidated by
// any growth of the memory, so callers re-read after every guest call.
// api.Memory from wazero satisfies this interface.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// Guest is an instantiated module the bridge talks to.
type Guest interface {
	Memory() Memory
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	Exports(name string) bool
}

// Allocator allocates memory in guest linear memory through guest exports.
type Allocator interface {
	Malloc(ctx context.Context, size uint32) (uint32, error)
	Realloc(ctx context.Context, ptr, oldSize, newSize uint32) (uint32, error)
	Free(ctx context.Context, ptr, size uint32) error
}
