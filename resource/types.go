package resource

// Handle is an opaque reference to an entry in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Class tags what kind of reference an entry tracks.
type Class uint32

const (
	ClassObject Class = iota + 1 // owned interpreter object
	ClassView                    // open buffer view
)

func (c Class) String() string {
	switch c {
	case ClassObject:
		return "object"
	case ClassView:
		return "view"
	default:
		return "unknown"
	}
}

// EventType identifies a lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
	EventBorrowed
	EventBorrowReturned
)

// Event represents a lifecycle event on a tracked reference.
type Event struct {
	Value  any
	Handle Handle
	Class  Class
	Type   EventType
}

// Observer receives notifications about lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// Backend provides the underlying storage mechanism.
type Backend interface {
	// Create stores a value and returns a handle.
	Create(class Class, value any) (Handle, error)

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// Drop removes an entry and returns (value, true).
	// Returns (nil, false) if handle is invalid or has outstanding borrows.
	Drop(handle Handle) (any, bool)

	// Close releases all entries held by the backend.
	Close() error
}

// Table tracks live references with class information and observer support.
type Table interface {
	Insert(class Class, value any) Handle
	Get(handle Handle) (any, bool)
	GetTyped(handle Handle, class Class) (any, bool)
	Remove(handle Handle) (any, bool)
	Borrow(handle Handle) bool
	ReturnBorrow(handle Handle) bool
	Subscribe(Observer)
	Unsubscribe(Observer)
	Len() int
	Each(func(Handle, Class, any) bool)
	Close() error
}
