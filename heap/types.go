package heap

import "github.com/wippyai/wasm-bridge/value"

// Handle is an opaque reference to a host value, passed to the guest as i32.
type Handle uint32

// Preallocated sentinel handles. They are never reclaimed.
const (
	Undefined Handle = iota
	Null
	True
	False

	// Protected is the first handle that can be reclaimed. Every handle
	// below it is a sentinel.
	Protected
)

// BorrowTop is one past the highest borrowed handle. Borrowed handles grow
// downward from it.
const BorrowTop Handle = 0x7fffffff

// DefaultStackSize is the depth of the borrowed-handle stack.
const DefaultStackSize = 128

// Event types for handle lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
	EventBorrowed
	EventBorrowReturned
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	case EventBorrowed:
		return "borrowed"
	case EventBorrowReturned:
		return "borrow_returned"
	}
	return "unknown"
}

// Event represents a handle lifecycle event.
type Event struct {
	Value  value.Value
	Handle Handle
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHeapEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHeapEvent(e Event) { f(e) }

// Dropper is optionally implemented by values that need cleanup when the
// table is closed.
type Dropper interface {
	Drop()
}

// Stats is a point-in-time summary of the table.
type Stats struct {
	Live       int // occupied slots excluding sentinels
	Slots      int // total slots including sentinels and free ones
	Free       int // free-list length
	StackDepth int // outstanding borrowed handles
	StackPeak  int // deepest borrow observed
	Allocs     uint64
	Releases   uint64
}

// Entry describes one live handle.
type Entry struct {
	Value  value.Value
	Handle Handle
}
