package closure

import (
	"context"
	"errors"
	"testing"

	bridgeerrors "github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
)

type destroyCall struct {
	dtor, a, b uint32
}

type fakeTrampoline struct {
	invocations []Env
	destroyed   []destroyCall
	onInvoke    func(env Env, args []value.Value) error
}

func (f *fakeTrampoline) Invoke(_ context.Context, env Env, args []value.Value) error {
	f.invocations = append(f.invocations, env)
	if f.onInvoke != nil {
		return f.onInvoke(env, args)
	}
	return nil
}

func (f *fakeTrampoline) Destroy(_ context.Context, dtor, a, b uint32) error {
	f.destroyed = append(f.destroyed, destroyCall{dtor, a, b})
	return nil
}

func testEnv() Env {
	return Env{A: 0x1000, B: 0x2000, Invoke: 7, Dtor: 9}
}

func TestClosure_CallsThenDrop(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTrampoline{}
	reg := NewRegistry(tr, nil)
	c := reg.Wrap(testEnv())

	for i := 0; i < 3; i++ {
		if _, err := c.Call(ctx, value.Undefined, value.Number(float64(i))); err != nil {
			t.Fatal(err)
		}
	}
	if len(tr.destroyed) != 0 {
		t.Fatal("destructor ran while owner holds a reference")
	}
	for _, env := range tr.invocations {
		if env.A != 0x1000 {
			t.Errorf("invoked with env %#x, want 0x1000", env.A)
		}
	}

	if !c.Drop(ctx) {
		t.Fatal("Drop should report destruction")
	}
	if len(tr.destroyed) != 1 || tr.destroyed[0] != (destroyCall{9, 0x1000, 0x2000}) {
		t.Fatalf("destroyed = %+v", tr.destroyed)
	}
	if c.Drop(ctx) {
		t.Fatal("second Drop must not destroy again")
	}
	if len(tr.destroyed) != 1 {
		t.Fatalf("destructor ran %d times", len(tr.destroyed))
	}
	if reg.Stats().Live != 0 || reg.Stats().Destroyed != 1 {
		t.Errorf("stats = %+v", reg.Stats())
	}
}

func TestClosure_DropDuringCall(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTrampoline{}
	reg := NewRegistry(tr, nil)
	c := reg.Wrap(testEnv())

	tr.onInvoke = func(Env, []value.Value) error {
		if c.Drop(ctx) {
			t.Error("Drop inside a call must defer destruction")
		}
		if len(tr.destroyed) != 0 {
			t.Error("destructor ran while the call is in flight")
		}
		return nil
	}

	if _, err := c.Call(ctx, value.Undefined); err != nil {
		t.Fatal(err)
	}
	if len(tr.destroyed) != 1 {
		t.Fatalf("destructor ran %d times, want 1", len(tr.destroyed))
	}
	if tr.destroyed[0].a != 0x1000 {
		t.Errorf("destructor got env %#x, want the saved pointer", tr.destroyed[0].a)
	}

	_, err := c.Call(ctx, value.Undefined)
	if !errors.Is(err, bridgeerrors.ErrUseAfterClose) {
		t.Fatalf("call after destruction = %v, want ErrUseAfterClose", err)
	}
}

func TestClosure_RepeatedDropDuringCall(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTrampoline{}
	reg := NewRegistry(tr, nil)
	c := reg.Wrap(testEnv())

	var drops []bool
	tr.onInvoke = func(Env, []value.Value) error {
		drops = append(drops, c.Drop(ctx), c.Drop(ctx))
		if len(tr.destroyed) != 0 {
			t.Error("destructor ran while the call is in flight")
		}
		return nil
	}

	if _, err := c.Call(ctx, value.Undefined); err != nil {
		t.Fatal(err)
	}
	if len(drops) != 2 || drops[0] || drops[1] {
		t.Errorf("drops = %v, want both false", drops)
	}
	if len(tr.destroyed) != 1 || tr.destroyed[0] != (destroyCall{9, 0x1000, 0x2000}) {
		t.Fatalf("destroyed = %+v", tr.destroyed)
	}
	if c.cnt != 0 || !c.Destroyed() {
		t.Errorf("cnt = %d destroyed = %v", c.cnt, c.Destroyed())
	}
	if c.Drop(ctx) {
		t.Error("Drop after destruction must report false")
	}
}

func TestClosure_ReentrantCallFails(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTrampoline{}
	reg := NewRegistry(tr, nil)
	c := reg.Wrap(testEnv())

	var inner error
	tr.onInvoke = func(Env, []value.Value) error {
		_, inner = c.Call(ctx, value.Undefined)
		return nil
	}

	if _, err := c.Call(ctx, value.Undefined); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(inner, bridgeerrors.ErrUseAfterClose) {
		t.Fatalf("re-entrant call = %v, want ErrUseAfterClose", inner)
	}
	if len(tr.invocations) != 1 {
		t.Fatalf("guest invoked %d times, want 1", len(tr.invocations))
	}

	// The environment is restored after the outer call.
	if _, err := c.Call(ctx, value.Undefined); err != nil {
		t.Fatalf("call after re-entrancy = %v", err)
	}
}

func TestClosure_GuestErrorKeepsClosureUsable(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTrampoline{}
	reg := NewRegistry(tr, nil)
	c := reg.Wrap(testEnv())

	boom := errors.New("trap")
	tr.onInvoke = func(Env, []value.Value) error { return boom }
	if _, err := c.Call(ctx, value.Undefined); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	tr.onInvoke = nil
	if _, err := c.Call(ctx, value.Undefined); err != nil {
		t.Fatalf("closure unusable after guest error: %v", err)
	}
}

func TestRegistry_Live(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(&fakeTrampoline{}, nil)
	a := reg.Wrap(testEnv())
	reg.Wrap(testEnv())

	if n := len(reg.Live()); n != 2 {
		t.Fatalf("live = %d", n)
	}
	a.Drop(ctx)
	if n := len(reg.Live()); n != 1 {
		t.Fatalf("live after drop = %d", n)
	}
	if s := reg.Stats(); s.Created != 2 || s.Destroyed != 1 {
		t.Errorf("stats = %+v", s)
	}
}
