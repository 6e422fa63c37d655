package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed            = errors.New("resource backend closed")
	ErrOutstandingBorrow = errors.New("cannot drop entry with outstanding borrows")
)

// LocalBackend is an in-memory backend with borrow tracking.
type LocalBackend struct {
	entries  []entry
	freeList []Handle
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value       any
	class       Class
	borrowCount uint32
	valid       bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

// Create stores a value and returns a handle.
func (b *LocalBackend) Create(class Class, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	e := entry{
		class: class,
		value: value,
		valid: true,
	}

	if len(b.freeList) > 0 {
		handle := b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		b.entries[handle-1] = e
		return handle, nil
	}

	b.entries = append(b.entries, e)
	return Handle(len(b.entries)), nil
}

// lookup returns the live entry for handle. Caller holds b.mu.
func (b *LocalBackend) lookup(handle Handle) *entry {
	if handle == 0 || int(handle-1) >= len(b.entries) {
		return nil
	}
	e := &b.entries[handle-1]
	if !e.valid {
		return nil
	}
	return e
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return nil, false
	}
	return e.value, true
}

// Drop removes an entry and returns (value, true) if it was live and unborrowed.
func (b *LocalBackend) Drop(handle Handle) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil || e.borrowCount > 0 {
		return nil, false
	}

	value := e.value
	*e = entry{}
	b.freeList = append(b.freeList, handle)

	return value, true
}

// Borrowed reports the outstanding borrow count for handle.
func (b *LocalBackend) Borrowed(handle Handle) uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return 0
	}
	return e.borrowCount
}

// Close forgets all entries.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.entries = nil
	b.freeList = nil
	return nil
}

// Borrow increments the borrow count for a handle.
func (b *LocalBackend) Borrow(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil {
		return false
	}
	e.borrowCount++
	return true
}

// ReturnBorrow decrements the borrow count for a handle.
func (b *LocalBackend) ReturnBorrow(handle Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.lookup(handle)
	if e == nil || e.borrowCount == 0 {
		return false
	}
	e.borrowCount--
	return true
}

// Class returns the class recorded for a handle.
func (b *LocalBackend) Class(handle Handle) (Class, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e := b.lookup(handle)
	if e == nil {
		return 0, false
	}
	return e.class, true
}

// Len returns the number of live entries.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, e := range b.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Each iterates over all live entries.
func (b *LocalBackend) Each(fn func(Handle, Class, any) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if e.valid {
			if !fn(Handle(i+1), e.class, e.value) {
				break
			}
		}
	}
}
