package resource

import (
	"sync"
)

// UnifiedTable implements Table on top of a LocalBackend.
type UnifiedTable struct {
	backend   *LocalBackend
	observers []Observer
	obsMu     sync.RWMutex
	closed    bool
	closeMu   sync.RWMutex
}

// NewTable creates a new table with a LocalBackend.
func NewTable() *UnifiedTable {
	return &UnifiedTable{
		backend: NewLocalBackend(),
	}
}

// Insert adds a value and returns its handle. It returns 0 once closed.
func (t *UnifiedTable) Insert(class Class, value any) Handle {
	t.closeMu.RLock()
	if t.closed {
		t.closeMu.RUnlock()
		return 0
	}
	t.closeMu.RUnlock()

	handle, err := t.backend.Create(class, value)
	if err != nil {
		return 0
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		Class:  class,
		Value:  value,
	})

	return handle
}

// Get retrieves a value by handle.
func (t *UnifiedTable) Get(handle Handle) (any, bool) {
	return t.backend.Get(handle)
}

// GetTyped retrieves a value only if it has the expected class.
func (t *UnifiedTable) GetTyped(handle Handle, class Class) (any, bool) {
	actual, ok := t.backend.Class(handle)
	if !ok || actual != class {
		return nil, false
	}
	return t.backend.Get(handle)
}

// Remove drops an entry and returns (value, true) if found and not borrowed.
func (t *UnifiedTable) Remove(handle Handle) (any, bool) {
	class, _ := t.backend.Class(handle)
	value, ok := t.backend.Drop(handle)
	if !ok {
		return nil, false
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		Class:  class,
		Value:  value,
	})

	return value, true
}

// Borrow pins an entry so Remove refuses it until ReturnBorrow.
func (t *UnifiedTable) Borrow(handle Handle) bool {
	if !t.backend.Borrow(handle) {
		return false
	}
	class, _ := t.backend.Class(handle)
	t.notify(Event{Type: EventBorrowed, Handle: handle, Class: class})
	return true
}

// ReturnBorrow releases one pin taken by Borrow.
func (t *UnifiedTable) ReturnBorrow(handle Handle) bool {
	if !t.backend.ReturnBorrow(handle) {
		return false
	}
	class, _ := t.backend.Class(handle)
	t.notify(Event{Type: EventBorrowReturned, Handle: handle, Class: class})
	return true
}

// Subscribe adds an observer for lifecycle events.
func (t *UnifiedTable) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *UnifiedTable) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live entries.
func (t *UnifiedTable) Len() int {
	return t.backend.Len()
}

// Each iterates over live entries in handle order.
func (t *UnifiedTable) Each(fn func(Handle, Class, any) bool) {
	t.backend.Each(fn)
}

// Close forgets all entries and stops accepting inserts.
func (t *UnifiedTable) Close() error {
	t.closeMu.Lock()
	t.closed = true
	t.closeMu.Unlock()

	return t.backend.Close()
}

func (t *UnifiedTable) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
