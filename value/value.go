package value

import (
	"context"
	"math"
	"strconv"
)

// Kind identifies the shape of a host value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
	KindArrayBuffer
	KindUint8Array
	KindError
	KindFunction
	KindPromise
	// KindHost covers host objects with behaviour (streams, readers, adapters).
	KindHost
)

var kindNames = [...]string{
	KindUndefined:   "undefined",
	KindNull:        "null",
	KindBool:        "bool",
	KindNumber:      "number",
	KindString:      "string",
	KindObject:      "object",
	KindArray:       "array",
	KindArrayBuffer: "arraybuffer",
	KindUint8Array:  "uint8array",
	KindError:       "error",
	KindFunction:    "function",
	KindPromise:     "promise",
	KindHost:        "host",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is any host value that can live in the handle table.
type Value interface {
	Kind() Kind
}

// Callable is a value the guest can invoke.
type Callable interface {
	Value
	Call(ctx context.Context, this Value, args ...Value) (Value, error)
}

type undefinedValue struct{}

func (undefinedValue) Kind() Kind { return KindUndefined }

type nullValue struct{}

func (nullValue) Kind() Kind { return KindNull }

var (
	Undefined Value = undefinedValue{}
	Null      Value = nullValue{}
	True            = Bool(true)
	False           = Bool(false)
)

// Bool is a host boolean.
type Bool bool

func (Bool) Kind() Kind { return KindBool }

// Number is a host number (IEEE 754 double).
type Number float64

func (Number) Kind() Kind { return KindNumber }

// String is a host string. Host strings are always valid UTF-8.
type String string

func (String) Kind() Kind { return KindString }

// Func adapts a Go function to Callable.
type Func func(ctx context.Context, this Value, args ...Value) (Value, error)

func (Func) Kind() Kind { return KindFunction }

func (f Func) Call(ctx context.Context, this Value, args ...Value) (Value, error) {
	return f(ctx, this, args...)
}

// Error is a host error object.
type Error struct {
	Name    string
	Message string
	Stack   string
	Cause   Value
}

func (*Error) Kind() Kind { return KindError }

func (e *Error) Error() string {
	if e.Name == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// NewError creates an Error with name "Error".
func NewError(message string) *Error {
	return &Error{Name: "Error", Message: message}
}

// NewTypeError creates an Error with name "TypeError".
func NewTypeError(message string) *Error {
	return &Error{Name: "TypeError", Message: message}
}

// Arg returns args[i] or Undefined.
func Arg(args []Value, i int) Value {
	if i < len(args) && args[i] != nil {
		return args[i]
	}
	return Undefined
}

// Or returns v, or Undefined when v is nil.
func Or(v Value) Value {
	if v == nil {
		return Undefined
	}
	return v
}

// IsNullish reports whether v is undefined or null.
func IsNullish(v Value) bool {
	if v == nil {
		return true
	}
	k := v.Kind()
	return k == KindUndefined || k == KindNull
}

// IsObject reports whether v is an object in the host sense.
func IsObject(v Value) bool {
	switch v.Kind() {
	case KindUndefined, KindNull, KindBool, KindNumber, KindString:
		return false
	}
	return true
}

// TypeOf mirrors the host typeof operator.
func TypeOf(v Value) string {
	switch Or(v).Kind() {
	case KindUndefined:
		return "undefined"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindFunction:
		return "function"
	default:
		return "object"
	}
}

// Truthy mirrors host boolean coercion.
func Truthy(v Value) bool {
	switch x := Or(v).(type) {
	case undefinedValue, nullValue:
		return false
	case Bool:
		return bool(x)
	case Number:
		f := float64(x)
		return f != 0 && !math.IsNaN(f)
	case String:
		return x != ""
	}
	return true
}
