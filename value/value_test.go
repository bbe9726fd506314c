package value

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestToString(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"nil", nil, "undefined"},
		{"null", Null, "null"},
		{"bool", True, "true"},
		{"integer", Number(42), "42"},
		{"negative zero", Number(math.Copysign(0, -1)), "0"},
		{"fraction", Number(1.5), "1.5"},
		{"nan", Number(math.NaN()), "NaN"},
		{"infinity", Number(math.Inf(-1)), "-Infinity"},
		{"string", String("hi"), "hi"},
		{"error", NewTypeError("bad"), "TypeError: bad"},
		{"array", NewArray(Number(1), Null, String("x")), "1,,x"},
		{"object", NewObject(), "[object Object]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToString(tt.v); got != tt.want {
				t.Errorf("ToString = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLooseEqual(t *testing.T) {
	obj := NewObject()
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"undefined null", Undefined, Null, true},
		{"null zero", Null, Number(0), false},
		{"number string", Number(1), String("1"), true},
		{"string number", String(" 2 "), Number(2), true},
		{"bool number", True, Number(1), true},
		{"bool string", False, String(""), true},
		{"nan", Number(math.NaN()), Number(math.NaN()), false},
		{"strings", String("a"), String("b"), false},
		{"same object", obj, obj, true},
		{"distinct objects", obj, NewObject(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LooseEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("LooseEqual = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypeOfAndTruthy(t *testing.T) {
	tests := []struct {
		v      Value
		typeOf string
		truthy bool
	}{
		{Undefined, "undefined", false},
		{Null, "object", false},
		{False, "boolean", false},
		{Number(0), "number", false},
		{Number(-3), "number", true},
		{String(""), "string", false},
		{String("0"), "string", true},
		{NewObject(), "object", true},
		{Func(nil), "function", true},
	}
	for _, tt := range tests {
		t.Run(DebugString(tt.v), func(t *testing.T) {
			if got := TypeOf(tt.v); got != tt.typeOf {
				t.Errorf("TypeOf = %q, want %q", got, tt.typeOf)
			}
			if got := Truthy(tt.v); got != tt.truthy {
				t.Errorf("Truthy = %v, want %v", got, tt.truthy)
			}
		})
	}
}

func TestDebugString(t *testing.T) {
	o := NewObject()
	o.Set("name", String("x"))
	o.Set("list", NewArray(Number(1), True))
	o.Set("bytes", NewUint8Array([]byte{1, 2, 3}))

	want := `Object({"name": "x", "list": [1, true], "bytes": Uint8Array(3)})`
	if got := DebugString(o); got != want {
		t.Errorf("DebugString = %s\nwant %s", got, want)
	}
}

func TestObjectOrder(t *testing.T) {
	o := NewObject()
	o.Set("b", Number(1))
	o.Set("a", Number(2))
	o.Set("b", Number(3))
	o.Delete("missing")

	if keys := o.Keys(); len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Fatalf("keys = %v", keys)
	}
	if o.Get("b") != Number(3) || o.Get("c") != Undefined {
		t.Error("unexpected property values")
	}
	o.Delete("b")
	if o.Has("b") || o.Len() != 1 {
		t.Error("delete did not remove the key")
	}

	env := ObjectFromMap([]string{"HOME", "PATH"}, map[string]string{"PATH": "/bin", "HOME": "/root"})
	if keys := env.Keys(); keys[0] != "HOME" || env.Get("PATH") != String("/bin") {
		t.Errorf("env object = %s", DebugString(env))
	}
}

func TestUint8ArrayViews(t *testing.T) {
	u := NewUint8Array([]byte("hello world"))
	sub := u.Subarray(6, 100)
	if string(sub.Bytes()) != "world" {
		t.Fatalf("subarray = %q", sub.Bytes())
	}
	sub.Bytes()[0] = 'W'
	if string(u.Bytes()) != "hello World" {
		t.Error("subarray should alias the buffer")
	}
	if empty := u.Subarray(5, 2); empty.Length != 0 {
		t.Errorf("inverted range length = %d", empty.Length)
	}

	src := []byte("abc")
	c := NewUint8Array(src)
	src[0] = 'z'
	if c.Bytes()[0] != 'a' {
		t.Error("NewUint8Array should copy")
	}
}

func TestErrorConversion(t *testing.T) {
	hostErr := NewTypeError("bad input")
	if FromError(fmt.Errorf("wrapped: %w", hostErr)) != hostErr {
		t.Error("FromError should unwrap host errors")
	}

	thrown := ToError(String("oops"))
	if FromError(thrown) != String("oops") {
		t.Error("thrown values should round-trip")
	}
	if thrown.Error() != "uncaught oops" {
		t.Errorf("message = %q", thrown.Error())
	}

	plain := FromError(errors.New("disk full"))
	e, ok := plain.(*Error)
	if !ok || e.Name != "Error" || e.Message != "disk full" {
		t.Errorf("plain error = %v", plain)
	}
	if FromError(nil) != Undefined {
		t.Error("nil error should be undefined")
	}
}
