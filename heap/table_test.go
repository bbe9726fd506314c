package heap

import (
	"errors"
	"slices"
	"testing"

	bridgeerrors "github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
)

func TestTable_Sentinels(t *testing.T) {
	tbl := New()

	tests := []struct {
		h    Handle
		want value.Value
	}{
		{Undefined, value.Undefined},
		{Null, value.Null},
		{True, value.True},
		{False, value.False},
	}
	for _, tt := range tests {
		v, err := tbl.Get(tt.h)
		if err != nil {
			t.Fatalf("Get(%d) error: %v", tt.h, err)
		}
		if v != tt.want {
			t.Errorf("Get(%d) = %v, want %v", tt.h, v, tt.want)
		}
		if err := tbl.Release(tt.h); err != nil {
			t.Errorf("Release(%d) on sentinel should be a no-op, got %v", tt.h, err)
		}
		if _, err := tbl.Get(tt.h); err != nil {
			t.Errorf("sentinel %d must survive release: %v", tt.h, err)
		}
	}
}

func TestTable_AllocGetRelease(t *testing.T) {
	tbl := New()

	h := tbl.Alloc(value.String("hello"))
	if h != 4 {
		t.Fatalf("first allocation = %d, want 4", h)
	}

	v, err := tbl.Get(h)
	if err != nil || v != value.String("hello") {
		t.Fatalf("Get = %v, %v", v, err)
	}

	if err := tbl.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := tbl.Get(h); !errors.Is(err, bridgeerrors.ErrInvalidHandle) {
		t.Fatalf("Get after release = %v, want ErrInvalidHandle", err)
	}
	if err := tbl.Release(h); !errors.Is(err, bridgeerrors.ErrInvalidHandle) {
		t.Fatalf("double release = %v, want ErrInvalidHandle", err)
	}
}

func TestTable_OutOfRange(t *testing.T) {
	tbl := New()
	if _, err := tbl.Get(1000); !errors.Is(err, bridgeerrors.ErrInvalidHandle) {
		t.Fatalf("Get(1000) = %v, want ErrInvalidHandle", err)
	}
}

func TestTable_FreeListIsLIFO(t *testing.T) {
	tbl := New()

	a := tbl.Alloc(value.Number(1))
	b := tbl.Alloc(value.Number(2))
	c := tbl.Alloc(value.Number(3))

	if err := tbl.Release(a); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Release(c); err != nil {
		t.Fatal(err)
	}

	if got := tbl.Alloc(value.Number(4)); got != c {
		t.Errorf("reuse = %d, want most recently freed %d", got, c)
	}
	if got := tbl.Alloc(value.Number(5)); got != a {
		t.Errorf("reuse = %d, want %d", got, a)
	}
	if got := tbl.Alloc(value.Number(6)); got != b+2 {
		t.Errorf("fresh slot = %d, want %d", got, b+2)
	}

	v, _ := tbl.Get(b)
	if v != value.Number(2) {
		t.Errorf("untouched handle changed: %v", v)
	}
}

func TestTable_Take(t *testing.T) {
	tbl := New()

	h := tbl.Alloc(value.String("x"))
	v, err := tbl.Take(h)
	if err != nil || v != value.String("x") {
		t.Fatalf("Take = %v, %v", v, err)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len after Take = %d, want 0", tbl.Len())
	}

	v, err = tbl.Take(Undefined)
	if err != nil || v != value.Undefined {
		t.Fatalf("Take(Undefined) = %v, %v", v, err)
	}
	if _, err := tbl.Get(Undefined); err != nil {
		t.Fatalf("sentinel reclaimed by Take: %v", err)
	}
}

func TestTable_Clone(t *testing.T) {
	tbl := New()
	obj := value.NewObject()
	h := tbl.Alloc(obj)

	h2, err := tbl.Clone(h)
	if err != nil {
		t.Fatal(err)
	}
	if h2 == h {
		t.Fatal("clone must allocate a new handle")
	}
	if err := tbl.Release(h); err != nil {
		t.Fatal(err)
	}
	v, err := tbl.Get(h2)
	if err != nil || v != obj {
		t.Fatalf("clone lost value: %v, %v", v, err)
	}
}

func TestTable_BorrowLIFO(t *testing.T) {
	tbl := New(WithStackSize(4))

	h1, err := tbl.Borrow(value.String("a"))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := tbl.Borrow(value.String("b"))
	if err != nil {
		t.Fatal(err)
	}
	if h2 != h1-1 {
		t.Fatalf("borrowed handles grow downward: %d then %d", h1, h2)
	}
	if h1 < Protected || h1 >= BorrowTop {
		t.Fatalf("borrowed handle %d outside borrow range", h1)
	}

	v, err := tbl.Get(h2)
	if err != nil || v != value.String("b") {
		t.Fatalf("Get borrowed = %v, %v", v, err)
	}

	if err := tbl.Unborrow(h1); !errors.Is(err, bridgeerrors.ErrBorrowOrder) {
		t.Fatalf("out-of-order unborrow = %v, want ErrBorrowOrder", err)
	}
	if err := tbl.Unborrow(h2); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Unborrow(h1); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Get(h1); !errors.Is(err, bridgeerrors.ErrInvalidHandle) {
		t.Fatalf("Get returned borrow = %v, want ErrInvalidHandle", err)
	}
	if got := tbl.Stats().StackDepth; got != 0 {
		t.Errorf("StackDepth = %d, want 0", got)
	}
}

func TestTable_BorrowOverflow(t *testing.T) {
	tbl := New(WithStackSize(2))

	for i := 0; i < 2; i++ {
		if _, err := tbl.Borrow(value.Number(float64(i))); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := tbl.Borrow(value.Null); !errors.Is(err, bridgeerrors.ErrAllocation) {
		t.Fatalf("overflow = %v, want ErrAllocation", err)
	}
}

func TestTable_MarkRestoreOnPanic(t *testing.T) {
	tbl := New(WithStackSize(8))

	func() {
		defer func() { _ = recover() }()
		mark := tbl.Mark()
		defer tbl.Restore(mark)
		for i := 0; i < 3; i++ {
			if _, err := tbl.Borrow(value.Number(float64(i))); err != nil {
				t.Fatal(err)
			}
		}
		panic("guest trapped")
	}()

	if got := tbl.Stats().StackDepth; got != 0 {
		t.Fatalf("StackDepth after restore = %d, want 0", got)
	}
	if got := tbl.Stats().StackPeak; got != 3 {
		t.Errorf("StackPeak = %d, want 3", got)
	}
}

func TestTable_BorrowedHandlesCannotBeReleased(t *testing.T) {
	tbl := New()
	h, _ := tbl.Borrow(value.String("lent"))

	if err := tbl.Release(h); !errors.Is(err, bridgeerrors.ErrInvalidHandle) {
		t.Errorf("Release(borrowed) = %v", err)
	}
	if _, err := tbl.Take(h); !errors.Is(err, bridgeerrors.ErrInvalidHandle) {
		t.Errorf("Take(borrowed) = %v", err)
	}
}

func TestTable_Observers(t *testing.T) {
	tbl := New()

	var events []EventType
	unsubscribe := tbl.Subscribe(ObserverFunc(func(e Event) {
		events = append(events, e.Type)
	}))

	h := tbl.Alloc(value.Number(1))
	_ = tbl.Release(h)
	b, _ := tbl.Borrow(value.Number(2))
	_ = tbl.Unborrow(b)

	want := []EventType{EventCreated, EventDropped, EventBorrowed, EventBorrowReturned}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, events[i], want[i])
		}
	}

	unsubscribe()
	tbl.Alloc(value.Number(3))
	if len(events) != len(want) {
		t.Errorf("observer still notified after unsubscribe")
	}
}

func TestTable_UnsubscribeDuringEmit(t *testing.T) {
	tests := []struct {
		name      string
		remove    int // observer whose unsubscribe runs inside observer 0
		wantFirst []int
		wantNext  []int
	}{
		{"self", 0, []int{0, 1, 2}, []int{1, 2}},
		{"next", 1, []int{0, 2}, []int{0, 2}},
		{"last", 2, []int{0, 1}, []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := New()
			var calls []int
			unsub := make([]func(), 3)
			for i := range unsub {
				unsub[i] = tbl.Subscribe(ObserverFunc(func(Event) {
					calls = append(calls, i)
					if i == 0 && len(calls) == 1 {
						unsub[tt.remove]()
					}
				}))
			}

			tbl.Alloc(value.Number(1))
			if !slices.Equal(calls, tt.wantFirst) {
				t.Errorf("first emit = %v, want %v", calls, tt.wantFirst)
			}
			calls = nil
			unsub[tt.remove]()
			tbl.Alloc(value.Number(2))
			if !slices.Equal(calls, tt.wantNext) {
				t.Errorf("second emit = %v, want %v", calls, tt.wantNext)
			}
		})
	}
}

type dropRecorder struct {
	dropped *int
}

func (dropRecorder) Kind() value.Kind { return value.KindHost }
func (d dropRecorder) Drop()          { *d.dropped++ }

func TestTable_Close(t *testing.T) {
	tbl := New()

	var n int
	tbl.Alloc(dropRecorder{dropped: &n})
	tbl.Alloc(dropRecorder{dropped: &n})
	released := tbl.Alloc(dropRecorder{dropped: &n})
	_ = tbl.Release(released)

	if err := tbl.Close(); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("dropped %d values, want 2", n)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len after Close = %d", tbl.Len())
	}
	if _, err := tbl.Get(Null); err != nil {
		t.Errorf("sentinels must survive Close: %v", err)
	}
}

func TestTable_Stats(t *testing.T) {
	tbl := New()
	a := tbl.Alloc(value.Number(1))
	tbl.Alloc(value.Number(2))
	_ = tbl.Release(a)

	s := tbl.Stats()
	if s.Live != 1 || s.Free != 1 || s.Slots != 6 {
		t.Errorf("Stats = %+v", s)
	}
	if s.Allocs != 2 || s.Releases != 1 {
		t.Errorf("counters = %d/%d", s.Allocs, s.Releases)
	}
}
