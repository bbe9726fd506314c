// Package fetch defines the request, response and header values exchanged
// with the guest's request handler.
package fetch

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/wippyai/wasm-bridge/value"
)

// Headers is a case-insensitive multi-map that keeps insertion order of
// names.
type Headers struct {
	names []string
	vals  map[string][]string
}

// NewHeaders returns an empty header list.
func NewHeaders() *Headers {
	return &Headers{vals: make(map[string][]string)}
}

// FromHTTP copies h. Names are visited in sorted order so the result is
// deterministic.
func FromHTTP(h http.Header) *Headers {
	out := NewHeaders()
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			out.Append(k, v)
		}
	}
	return out
}

func (*Headers) Kind() value.Kind { return value.KindHost }

func (h *Headers) String() string { return fmt.Sprintf("Headers(%d)", len(h.names)) }

// Append adds a value for name.
func (h *Headers) Append(name, val string) {
	k := strings.ToLower(name)
	if _, ok := h.vals[k]; !ok {
		h.names = append(h.names, k)
	}
	h.vals[k] = append(h.vals[k], strings.TrimSpace(val))
}

// Set replaces all values of name.
func (h *Headers) Set(name, val string) {
	h.Delete(name)
	h.Append(name, val)
}

// Get returns the values of name joined with ", ".
func (h *Headers) Get(name string) (string, bool) {
	vs, ok := h.vals[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return strings.Join(vs, ", "), true
}

// Values returns the individual values of name.
func (h *Headers) Values(name string) []string {
	return append([]string(nil), h.vals[strings.ToLower(name)]...)
}

// Has reports whether name is present.
func (h *Headers) Has(name string) bool {
	_, ok := h.vals[strings.ToLower(name)]
	return ok
}

// Delete removes name.
func (h *Headers) Delete(name string) {
	k := strings.ToLower(name)
	if _, ok := h.vals[k]; !ok {
		return
	}
	delete(h.vals, k)
	for i, n := range h.names {
		if n == k {
			h.names = append(h.names[:i], h.names[i+1:]...)
			break
		}
	}
}

// Len returns the number of distinct names.
func (h *Headers) Len() int { return len(h.names) }

// Entries returns name/value pairs sorted by name, with the values of a
// name combined. Set-Cookie values are never combined.
func (h *Headers) Entries() [][2]string {
	names := append([]string(nil), h.names...)
	sort.Strings(names)
	out := make([][2]string, 0, len(names))
	for _, n := range names {
		if n == "set-cookie" {
			for _, v := range h.vals[n] {
				out = append(out, [2]string{n, v})
			}
			continue
		}
		out = append(out, [2]string{n, strings.Join(h.vals[n], ", ")})
	}
	return out
}

// ToHTTP converts to an http.Header, keeping every value.
func (h *Headers) ToHTTP() http.Header {
	out := make(http.Header, len(h.names))
	for _, n := range h.names {
		k := http.CanonicalHeaderKey(n)
		out[k] = append(out[k], h.vals[n]...)
	}
	return out
}
