package fetch

import (
	"fmt"
	"net/http"

	"github.com/wippyai/wasm-bridge/stream"
	"github.com/wippyai/wasm-bridge/value"
)

// ResponseInit carries the optional parts of a new response.
type ResponseInit struct {
	Status     int
	StatusText string
	Headers    *Headers
}

// Response is what the guest handler resolves with. At most one of Bytes
// and Stream is set.
type Response struct {
	Status     int
	StatusText string
	Headers    *Headers
	Bytes      []byte
	Stream     *stream.ReadableStream
}

func (*Response) Kind() value.Kind { return value.KindHost }

func (r *Response) String() string { return fmt.Sprintf("Response { status: %d }", r.Status) }

// HasBody reports whether the response carries a body.
func (r *Response) HasBody() bool { return r.Bytes != nil || r.Stream != nil }

// NewResponse builds a response from a body value: nullish, a string, a
// Uint8Array, an ArrayBuffer or a ReadableStream.
func NewResponse(body value.Value, init ResponseInit) (*Response, error) {
	status := init.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status > 599 {
		return nil, &value.Error{Name: "RangeError", Message: fmt.Sprintf("status %d is outside 200-599", status)}
	}
	r := &Response{
		Status:     status,
		StatusText: init.StatusText,
		Headers:    init.Headers,
	}
	if r.Headers == nil {
		r.Headers = NewHeaders()
	}

	var contentType string
	switch b := value.Or(body).(type) {
	case *stream.ReadableStream:
		if b.Locked() {
			return nil, value.NewTypeError("response body stream is locked")
		}
		r.Stream = b
	case *value.Uint8Array:
		r.Bytes = append([]byte{}, b.Bytes()...)
	case *value.ArrayBuffer:
		r.Bytes = append([]byte{}, b.Data...)
	case value.String:
		r.Bytes = []byte(b)
		contentType = "text/plain;charset=UTF-8"
	default:
		if !value.IsNullish(b) {
			return nil, value.NewTypeError("unsupported response body " + value.TypeOf(b))
		}
	}

	if r.HasBody() && isNullBodyStatus(status) {
		return nil, value.NewTypeError(fmt.Sprintf("response with status %d cannot have a body", status))
	}
	if contentType != "" && !r.Headers.Has("content-type") {
		r.Headers.Set("content-type", contentType)
	}
	return r, nil
}

func isNullBodyStatus(status int) bool {
	switch status {
	case http.StatusSwitchingProtocols, http.StatusNoContent, http.StatusResetContent, http.StatusNotModified:
		return true
	}
	return false
}
