package bridge

import (
	"context"

	"github.com/wippyai/wasm-bridge/fetch"
	"github.com/wippyai/wasm-bridge/value"
)

func (in *Instance) fetchImports(s *importSet) {
	requestString := func(name string, field func(*fetch.Request) (string, bool)) {
		s.catching(name, i32s(2), nil, func(ctx context.Context, st []uint64) error {
			req, err := getAs[*fetch.Request](in, name, st[1])
			if err != nil {
				return err
			}
			str, ok := field(req)
			return in.abi.PutOptionString(ctx, u32(st[0]), str, ok)
		})
	}
	requestString("request_method", func(r *fetch.Request) (string, bool) { return r.Method, true })
	requestString("request_url", func(r *fetch.Request) (string, bool) { return r.URL, true })
	requestString("request_remote_addr", func(r *fetch.Request) (string, bool) {
		return r.RemoteAddr, r.RemoteAddr != ""
	})
	s.catching("request_headers", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		req, err := getAs[*fetch.Request](in, "request_headers", st[0])
		if err != nil {
			return err
		}
		if req.Headers == nil {
			req.Headers = fetch.NewHeaders()
		}
		st[0] = uint64(in.alloc(req.Headers))
		return nil
	})
	s.catching("request_body", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		req, err := getAs[*fetch.Request](in, "request_body", st[0])
		if err != nil {
			return err
		}
		var body value.Value = value.Null
		if req.Body != nil {
			body = req.Body
		}
		st[0] = uint64(in.alloc(body))
		return nil
	})

	s.plain("headers_new", nil, i32s(1), func(_ context.Context, st []uint64) error {
		st[0] = uint64(in.alloc(fetch.NewHeaders()))
		return nil
	})
	// headers_append(h, name_ptr, name_len, value_ptr, value_len)
	s.catching("headers_append", i32s(5), nil, func(_ context.Context, st []uint64) error {
		h, err := getAs[*fetch.Headers](in, "headers_append", st[0])
		if err != nil {
			return err
		}
		name, err := in.readString(st[1], st[2])
		if err != nil {
			return err
		}
		val, err := in.readString(st[3], st[4])
		if err != nil {
			return err
		}
		h.Append(name, val)
		return nil
	})
	// headers_get(retptr, h, name_ptr, name_len)
	s.catching("headers_get", i32s(4), nil, func(ctx context.Context, st []uint64) error {
		h, err := getAs[*fetch.Headers](in, "headers_get", st[1])
		if err != nil {
			return err
		}
		name, err := in.readString(st[2], st[3])
		if err != nil {
			return err
		}
		val, ok := h.Get(name)
		return in.abi.PutOptionString(ctx, u32(st[0]), val, ok)
	})
	s.catching("headers_entries", i32s(1), i32s(1), func(_ context.Context, st []uint64) error {
		h, err := getAs[*fetch.Headers](in, "headers_entries", st[0])
		if err != nil {
			return err
		}
		out := value.NewArray()
		for _, e := range h.Entries() {
			out.Push(value.NewArray(value.String(e[0]), value.String(e[1])))
		}
		st[0] = uint64(in.alloc(out))
		return nil
	})
	// response_new(body, status, headers); status 0 means 200.
	s.catching("response_new", i32s(3), i32s(1), func(_ context.Context, st []uint64) error {
		body, err := in.get(u32(st[0]))
		if err != nil {
			return err
		}
		hv, err := in.get(u32(st[2]))
		if err != nil {
			return err
		}
		headers, err := toHeaders(hv)
		if err != nil {
			return err
		}
		resp, err := fetch.NewResponse(body, fetch.ResponseInit{
			Status:  int(int32(u32(st[1]))),
			Headers: headers,
		})
		if err != nil {
			return err
		}
		st[0] = uint64(in.alloc(resp))
		return nil
	})
}

// toHeaders accepts a Headers value, a plain object or nothing.
func toHeaders(v value.Value) (*fetch.Headers, error) {
	switch x := value.Or(v).(type) {
	case *fetch.Headers:
		return x, nil
	case *value.Object:
		h := fetch.NewHeaders()
		for _, k := range x.Keys() {
			h.Append(k, value.ToString(x.Get(k)))
		}
		return h, nil
	default:
		if value.IsNullish(x) {
			return nil, nil
		}
		return nil, value.NewTypeError("invalid headers init " + value.TypeOf(x))
	}
}
