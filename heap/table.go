package heap

import (
	"fmt"
	"slices"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/value"
)

type slot struct {
	v    value.Value
	next Handle // free-list link while the slot is free
	live bool
}

// Table maps handles to host values.
//
// Slots below Protected hold the sentinels. Free slots form an intrusive
// LIFO list threaded through the slot array: next is the head, and a free
// slot stores the previous head. A head equal to len(slots) means the array
// grows by one slot on the next allocation.
//
// Borrowed handles live on a separate fixed-depth stack at the top of the
// handle space and must be returned in reverse order.
//
// Table is not safe for concurrent use. It belongs to one event loop.
type Table struct {
	slots     []slot
	next      Handle
	stack     []value.Value
	sp        int
	peak      int
	observers []*observerEntry
	allocs    uint64
	releases  uint64
	closed    bool
}

type observerEntry struct {
	o       Observer
	removed bool
}

// Option configures a Table.
type Option func(*Table)

// WithStackSize sets the depth of the borrowed-handle stack.
func WithStackSize(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.stack = make([]value.Value, n)
			t.sp = n
		}
	}
}

// WithCapacity preallocates room for n slots.
func WithCapacity(n int) Option {
	return func(t *Table) {
		if n > len(t.slots) {
			s := make([]slot, len(t.slots), n)
			copy(s, t.slots)
			t.slots = s
		}
	}
}

// New creates a table with the sentinels in place.
func New(opts ...Option) *Table {
	t := &Table{
		stack: make([]value.Value, DefaultStackSize),
		sp:    DefaultStackSize,
	}
	t.slots = []slot{
		Undefined: {v: value.Undefined, live: true},
		Null:      {v: value.Null, live: true},
		True:      {v: value.True, live: true},
		False:     {v: value.False, live: true},
	}
	t.next = Protected
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) stackBase() Handle {
	return BorrowTop - Handle(len(t.stack))
}

func (t *Table) isBorrowed(h Handle) bool {
	return h >= t.stackBase() && h < BorrowTop
}

// Alloc stores v and returns its handle.
// It panics with an allocation error if the handle space is exhausted.
func (t *Table) Alloc(v value.Value) Handle {
	v = value.Or(v)
	if t.next == Handle(len(t.slots)) {
		if t.next >= t.stackBase() {
			panic(errors.AllocationFailed(errors.PhaseHeap, 1, fmt.Errorf("handle space exhausted at %d", t.next)))
		}
		t.slots = append(t.slots, slot{next: t.next + 1})
	}
	h := t.next
	t.next = t.slots[h].next
	t.slots[h] = slot{v: v, live: true}
	t.allocs++
	t.emit(Event{Type: EventCreated, Handle: h, Value: v})
	return h
}

// Get returns the value behind h without changing ownership.
func (t *Table) Get(h Handle) (value.Value, error) {
	if t.isBorrowed(h) {
		idx := int(h - t.stackBase())
		if idx < t.sp {
			return nil, errors.InvalidHandle(errors.PhaseHeap, uint32(h), "borrowed handle already returned")
		}
		return t.stack[idx], nil
	}
	if int(h) >= len(t.slots) || !t.slots[h].live {
		return nil, errors.InvalidHandle(errors.PhaseHeap, uint32(h), "slot is free")
	}
	return t.slots[h].v, nil
}

// Release frees h. Sentinels are left alone.
func (t *Table) Release(h Handle) error {
	if h < Protected {
		return nil
	}
	if t.isBorrowed(h) {
		return errors.New(errors.PhaseHeap, errors.KindInvalidHandle).
			Op("release").
			Handle(uint32(h)).
			Detail("borrowed handles are returned with Unborrow").
			Build()
	}
	if int(h) >= len(t.slots) || !t.slots[h].live {
		return errors.InvalidHandle(errors.PhaseHeap, uint32(h), "release of free slot")
	}
	v := t.slots[h].v
	t.slots[h] = slot{next: t.next}
	t.next = h
	t.releases++
	t.emit(Event{Type: EventDropped, Handle: h, Value: v})
	return nil
}

// Take returns the value behind h and releases the slot.
// On a sentinel the value is returned and the slot stays.
func (t *Table) Take(h Handle) (value.Value, error) {
	if t.isBorrowed(h) {
		return nil, errors.New(errors.PhaseHeap, errors.KindInvalidHandle).
			Op("take").
			Handle(uint32(h)).
			Detail("borrowed handles cannot be taken").
			Build()
	}
	v, err := t.Get(h)
	if err != nil {
		return nil, err
	}
	if err := t.Release(h); err != nil {
		return nil, err
	}
	return v, nil
}

// Clone allocates a second handle for the value behind h.
func (t *Table) Clone(h Handle) (Handle, error) {
	v, err := t.Get(h)
	if err != nil {
		return 0, err
	}
	return t.Alloc(v), nil
}

// Borrow pushes v on the borrowed-handle stack.
func (t *Table) Borrow(v value.Value) (Handle, error) {
	if t.sp == 0 {
		return 0, errors.New(errors.PhaseHeap, errors.KindAllocation).
			Op("borrow").
			Detail("out of host stack (depth %d)", len(t.stack)).
			Build()
	}
	v = value.Or(v)
	t.sp--
	t.stack[t.sp] = v
	if depth := len(t.stack) - t.sp; depth > t.peak {
		t.peak = depth
	}
	h := t.stackBase() + Handle(t.sp)
	t.emit(Event{Type: EventBorrowed, Handle: h, Value: v})
	return h, nil
}

// Unborrow returns the most recently borrowed handle.
func (t *Table) Unborrow(h Handle) error {
	top := t.stackBase() + Handle(t.sp)
	if t.sp == len(t.stack) || h != top {
		return errors.BorrowOrder(uint32(h), uint32(top))
	}
	v := t.stack[t.sp]
	t.stack[t.sp] = nil
	t.sp++
	t.emit(Event{Type: EventBorrowReturned, Handle: h, Value: v})
	return nil
}

// Mark records the borrowed-stack position for a later Restore.
func (t *Table) Mark() int {
	return t.sp
}

// Restore returns every handle borrowed since mark. It is meant for defer so
// that the stack pointer is restored on every exit path.
func (t *Table) Restore(mark int) {
	for t.sp < mark && t.sp < len(t.stack) {
		h := t.stackBase() + Handle(t.sp)
		v := t.stack[t.sp]
		t.stack[t.sp] = nil
		t.sp++
		t.emit(Event{Type: EventBorrowReturned, Handle: h, Value: v})
	}
}

// Subscribe adds an observer and returns a function that removes it.
func (t *Table) Subscribe(o Observer) (unsubscribe func()) {
	e := &observerEntry{o: o}
	t.observers = append(t.observers, e)
	return func() {
		if e.removed {
			return
		}
		e.removed = true
		// A new slice leaves an emit in progress iterating the old one.
		t.observers = slices.DeleteFunc(slices.Clone(t.observers), func(x *observerEntry) bool {
			return x == e
		})
	}
}

func (t *Table) emit(e Event) {
	for _, x := range t.observers {
		if !x.removed {
			x.o.OnHeapEvent(e)
		}
	}
}

// Len returns the number of live handles excluding sentinels.
func (t *Table) Len() int {
	n := 0
	for i := int(Protected); i < len(t.slots); i++ {
		if t.slots[i].live {
			n++
		}
	}
	return n
}

// Stats summarises the table.
func (t *Table) Stats() Stats {
	live := t.Len()
	return Stats{
		Live:       live,
		Slots:      len(t.slots),
		Free:       len(t.slots) - int(Protected) - live,
		StackDepth: len(t.stack) - t.sp,
		StackPeak:  t.peak,
		Allocs:     t.allocs,
		Releases:   t.releases,
	}
}

// Each calls fn for every live handle above the sentinels until fn returns false.
func (t *Table) Each(fn func(Entry) bool) {
	for i := int(Protected); i < len(t.slots); i++ {
		if t.slots[i].live && !fn(Entry{Handle: Handle(i), Value: t.slots[i].v}) {
			return
		}
	}
}

// Close drops every live value that implements Dropper and resets the table.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	for i := int(Protected); i < len(t.slots); i++ {
		if !t.slots[i].live {
			continue
		}
		if d, ok := t.slots[i].v.(Dropper); ok {
			d.Drop()
		}
	}
	t.slots = t.slots[:Protected]
	t.next = Protected
	for i := range t.stack {
		t.stack[i] = nil
	}
	t.sp = len(t.stack)
	return nil
}
