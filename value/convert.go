package value

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Thrown is implemented by errors that carry a host value to be thrown
// into guest code unchanged.
type Thrown interface {
	Thrown() Value
}

// FromError converts a Go error into a host value suitable for throwing.
func FromError(err error) Value {
	if err == nil {
		return Undefined
	}
	var hv *Error
	if errors.As(err, &hv) {
		return hv
	}
	var t Thrown
	if errors.As(err, &t) {
		return t.Thrown()
	}
	return NewError(err.Error())
}

// Rejection wraps a host value so it can travel as a Go error.
type Rejection struct {
	Reason Value
}

func (r *Rejection) Error() string {
	return "uncaught " + ToString(r.Reason)
}

func (r *Rejection) Thrown() Value { return r.Reason }

// ToError converts a host value into a Go error.
func ToError(v Value) error {
	if e, ok := v.(*Error); ok {
		return e
	}
	return &Rejection{Reason: Or(v)}
}

// ToString mirrors host String(v) for the value shapes the bridge knows.
func ToString(v Value) string {
	switch x := Or(v).(type) {
	case undefinedValue:
		return "undefined"
	case nullValue:
		return "null"
	case Bool:
		return strconv.FormatBool(bool(x))
	case Number:
		return formatNumber(float64(x))
	case String:
		return string(x)
	case *Error:
		return x.Error()
	case *Array:
		parts := make([]string, len(x.Elems))
		for i, e := range x.Elems {
			if !IsNullish(e) {
				parts[i] = ToString(e)
			}
		}
		return strings.Join(parts, ",")
	case fmt.Stringer:
		return x.String()
	}
	if IsObject(v) {
		return "[object Object]"
	}
	return ""
}

func formatNumber(f float64) string {
	switch {
	case f == 0:
		return "0"
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// LooseEqual implements the subset of host == the guest relies on.
func LooseEqual(a, b Value) bool {
	a, b = Or(a), Or(b)
	if IsNullish(a) || IsNullish(b) {
		return IsNullish(a) && IsNullish(b)
	}
	switch x := a.(type) {
	case Bool:
		return LooseEqual(Number(boolNumber(bool(x))), b)
	case Number:
		switch y := b.(type) {
		case Number:
			return x == y
		case String:
			return float64(x) == stringNumber(string(y))
		case Bool:
			return float64(x) == boolNumber(bool(y))
		}
		return false
	case String:
		switch y := b.(type) {
		case String:
			return x == y
		case Number, Bool:
			return LooseEqual(b, a)
		}
		return false
	}
	if y, ok := b.(Bool); ok {
		return LooseEqual(a, Number(boolNumber(bool(y))))
	}
	return sameReference(a, b)
}

func sameReference(a, b Value) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func stringNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// DebugString renders a value for diagnostics, the way the guest's
// debug formatting expects: strings quoted, objects summarised.
func DebugString(v Value) string {
	var b strings.Builder
	debugString(&b, Or(v), 0)
	return b.String()
}

func debugString(b *strings.Builder, v Value, depth int) {
	switch x := v.(type) {
	case undefinedValue, nullValue, Bool, Number:
		b.WriteString(ToString(x))
	case String:
		b.WriteString(strconv.Quote(string(x)))
	case Func:
		b.WriteString("Function")
	case *Error:
		b.WriteString(x.Error())
		if x.Stack != "" {
			b.WriteByte('\n')
			b.WriteString(x.Stack)
		}
	case *Array:
		if depth > 2 {
			b.WriteString("[...]")
			return
		}
		b.WriteByte('[')
		for i, e := range x.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			debugString(b, e, depth+1)
		}
		b.WriteByte(']')
	case *Object:
		if depth > 2 {
			b.WriteString("{...}")
			return
		}
		b.WriteString("Object({")
		for i, k := range x.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Quote(k))
			b.WriteString(": ")
			debugString(b, x.props[k], depth+1)
		}
		b.WriteString("})")
	case *ArrayBuffer:
		fmt.Fprintf(b, "ArrayBuffer(%d)", len(x.Data))
	case *Uint8Array:
		fmt.Fprintf(b, "Uint8Array(%d)", x.Length)
	case fmt.Stringer:
		b.WriteString(x.String())
	default:
		if v.Kind() == KindFunction {
			b.WriteString("Function")
			return
		}
		fmt.Fprintf(b, "[object %s]", v.Kind())
	}
}
