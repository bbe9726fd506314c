package bridge

import (
	"context"

	"github.com/wippyai/wasm-bridge/value"
)

func (in *Instance) objectImports(s *importSet) {
	s.plain("object_new", nil, i32s(1), func(_ context.Context, st []uint64) error {
		st[0] = uint64(in.alloc(value.NewObject()))
		return nil
	})
	s.catching("object_get", i32s(3), i32s(1), func(_ context.Context, st []uint64) error {
		o, err := getAs[*value.Object](in, "object_get", st[0])
		if err != nil {
			return err
		}
		key, err := in.readString(st[1], st[2])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(o.Get(key)))
		return nil
	})
	// The value handle is taken.
	s.catching("object_set", i32s(4), nil, func(_ context.Context, st []uint64) error {
		o, err := getAs[*value.Object](in, "object_set", st[0])
		if err != nil {
			return err
		}
		key, err := in.readString(st[1], st[2])
		if err != nil {
			return err
		}
		v, err := in.take(u32(st[3]))
		if err != nil {
			return err
		}
		o.Set(key, v)
		return nil
	})

	s.plain("array_new", nil, i32s(1), func(_ context.Context, st []uint64) error {
		st[0] = uint64(in.alloc(value.NewArray()))
		return nil
	})
	// The element handle is taken.
	s.catching("array_push", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		a, err := getAs[*value.Array](in, "array_push", st[0])
		if err != nil {
			return err
		}
		v, err := in.take(u32(st[1]))
		if err != nil {
			return err
		}
		st[0] = uint64(a.Push(v))
		return nil
	})
	s.catching("array_length", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		a, err := getAs[*value.Array](in, "array_length", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(a.Len())
		return nil
	})
	s.catching("array_get", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		a, err := getAs[*value.Array](in, "array_get", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(a.At(int(u32(st[1])))))
		return nil
	})

	s.plain("uint8array_new", i32s(2), i32s(1), func(_ context.Context, st []uint64) error {
		b, err := in.views.Copy(u32(st[0]), u32(st[1]))
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(&value.Uint8Array{
			Buffer: &value.ArrayBuffer{Data: b},
			Length: len(b),
		}))
		return nil
	})
	s.plain("uint8array_new_with_length", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		n := int(u32(st[0]))
		st[0] = uint64(in.alloc(value.View(value.NewArrayBuffer(n), 0, n)))
		return nil
	})
	s.catching("uint8array_length", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		u, err := getAs[*value.Uint8Array](in, "uint8array_length", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(u.Length)
		return nil
	})
	// Copies the whole view to guest memory at ptr.
	s.catching("uint8array_copy_to", i32s(2), nil, func(_ context.Context, st []uint64) error {
		u, err := getAs[*value.Uint8Array](in, "uint8array_copy_to", st[0])
		if err != nil {
			return err
		}
		return in.views.Write(u32(st[1]), u.Bytes())
	})
	// uint8array_write(h, offset, ptr, len) copies guest bytes into the view.
	s.catching("uint8array_write", i32s(4), nil, func(_ context.Context, st []uint64) error {
		u, err := getAs[*value.Uint8Array](in, "uint8array_write", st[0])
		if err != nil {
			return err
		}
		off, n := u32(st[1]), u32(st[3])
		if uint64(off)+uint64(n) > uint64(u.Length) {
			return &value.Error{Name: "RangeError", Message: "offset is out of bounds"}
		}
		src, err := in.views.Subarray(u32(st[2]), n)
		if err != nil {
			return err
		}
		copy(u.Bytes()[off:], src)
		return nil
	})
	s.catching("view_buffer", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		u, err := getAs[*value.Uint8Array](in, "view_buffer", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(u.Buffer))
		return nil
	})
	s.catching("view_byte_offset", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		u, err := getAs[*value.Uint8Array](in, "view_byte_offset", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(u.Offset)
		return nil
	})
	s.catching("view_byte_length", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		u, err := getAs[*value.Uint8Array](in, "view_byte_length", st[0])
		if err != nil {
			return err
		}
		st[0] = uint64(u.Length)
		return nil
	})
}
