package fetch

import (
	"github.com/wippyai/wasm-bridge/stream"
	"github.com/wippyai/wasm-bridge/value"
)

// Request is the incoming request handed to the guest handler.
type Request struct {
	Method  string
	URL     string
	Headers *Headers
	// Body is nil for requests without a body.
	Body *stream.ReadableStream
	// RemoteAddr is host:port, with IPv6 hosts in brackets.
	RemoteAddr string
}

func (*Request) Kind() value.Kind { return value.KindHost }

func (r *Request) String() string { return "Request { " + r.Method + " " + r.URL + " }" }
