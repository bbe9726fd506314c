package value

// Object is a plain host object with insertion-ordered string keys.
type Object struct {
	keys  []string
	props map[string]Value
}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{props: make(map[string]Value)}
}

// ObjectFromMap builds an object whose keys follow the order of keys.
func ObjectFromMap(keys []string, m map[string]string) *Object {
	o := NewObject()
	for _, k := range keys {
		o.Set(k, String(m[k]))
	}
	return o
}

func (*Object) Kind() Kind { return KindObject }

// Get returns the property or Undefined.
func (o *Object) Get(key string) Value {
	if v, ok := o.props[key]; ok {
		return v
	}
	return Undefined
}

// Has reports whether the property exists.
func (o *Object) Has(key string) bool {
	_, ok := o.props[key]
	return ok
}

// Set creates or replaces a property.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.props[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.props[key] = Or(v)
}

// Delete removes a property.
func (o *Object) Delete(key string) {
	if _, ok := o.props[key]; !ok {
		return
	}
	delete(o.props, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns property names in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of properties.
func (o *Object) Len() int { return len(o.keys) }

// Array is a host array.
type Array struct {
	Elems []Value
}

// NewArray creates an array holding elems.
func NewArray(elems ...Value) *Array {
	return &Array{Elems: elems}
}

func (*Array) Kind() Kind { return KindArray }

// Push appends and returns the new length.
func (a *Array) Push(v Value) int {
	a.Elems = append(a.Elems, Or(v))
	return len(a.Elems)
}

// At returns the element or Undefined when out of range.
func (a *Array) At(i int) Value {
	if i < 0 || i >= len(a.Elems) {
		return Undefined
	}
	return a.Elems[i]
}

// Len returns the array length.
func (a *Array) Len() int { return len(a.Elems) }

// ArrayBuffer is a host-owned byte buffer.
type ArrayBuffer struct {
	Data []byte
}

// NewArrayBuffer allocates a zeroed buffer.
func NewArrayBuffer(n int) *ArrayBuffer {
	return &ArrayBuffer{Data: make([]byte, n)}
}

func (*ArrayBuffer) Kind() Kind { return KindArrayBuffer }

// Uint8Array is a view over an ArrayBuffer.
type Uint8Array struct {
	Buffer *ArrayBuffer
	Offset int
	Length int
}

// NewUint8Array copies b into a fresh buffer and returns a view over all of it.
func NewUint8Array(b []byte) *Uint8Array {
	buf := &ArrayBuffer{Data: append([]byte(nil), b...)}
	return &Uint8Array{Buffer: buf, Length: len(b)}
}

// View returns a view over [offset, offset+length) of buf.
func View(buf *ArrayBuffer, offset, length int) *Uint8Array {
	return &Uint8Array{Buffer: buf, Offset: offset, Length: length}
}

func (*Uint8Array) Kind() Kind { return KindUint8Array }

// Bytes returns the viewed bytes, aliasing the buffer.
func (u *Uint8Array) Bytes() []byte {
	return u.Buffer.Data[u.Offset : u.Offset+u.Length]
}

// Subarray returns a view over [begin, end) of u.
func (u *Uint8Array) Subarray(begin, end int) *Uint8Array {
	if begin < 0 {
		begin = 0
	}
	if end > u.Length {
		end = u.Length
	}
	if end < begin {
		end = begin
	}
	return &Uint8Array{Buffer: u.Buffer, Offset: u.Offset + begin, Length: end - begin}
}
