// Package heap provides the handle table that stands in for host references
// inside guest code.
//
// The guest never sees host values. It holds 32-bit handles and the bridge
// resolves them through a Table.
//
// # Sentinels
//
// Handles 0..3 are preallocated for undefined, null, true and false. They
// are never reclaimed, so the first allocation on a fresh table is 4:
//
//	t := heap.New()
//	h := t.Alloc(value.String("hello")) // 4
//	v, _ := t.Get(h)                    // "hello"
//	t.Release(h)
//	t.Get(h)                            // KindInvalidHandle
//
// # Ownership
//
// Owned handles are released exactly once, either by the guest
// (object_drop_ref) or by the host when it takes a returned handle with
// Take. Releasing a sentinel is a no-op; releasing a free slot is an error,
// never a crash.
//
// # Borrowed handles
//
// Values lent to the guest for the duration of a single call go on a small
// stack at the top of the handle space. The stack is strictly LIFO:
//
//	mark := t.Mark()
//	defer t.Restore(mark)
//	h, err := t.Borrow(v)
//
// Restore clears everything borrowed since mark, including on panic unwind.
//
// # Observers
//
// Subscribe receives Created, Dropped, Borrowed and BorrowReturned events.
// The inspector and debug logging use them.
package heap
