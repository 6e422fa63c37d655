package resource

import (
	"errors"
	"sync"
	"testing"
)

func TestLocalBackend_Basic(t *testing.T) {
	b := NewLocalBackend()

	handle, err := b.Create(ClassObject, "test value")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if handle == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := b.Get(handle)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test value" {
		t.Fatalf("Expected 'test value', got %v", val)
	}

	class, ok := b.Class(handle)
	if !ok || class != ClassObject {
		t.Fatalf("Class = %v, %v; want object", class, ok)
	}

	val, ok = b.Drop(handle)
	if !ok {
		t.Fatal("Drop failed")
	}
	if val != "test value" {
		t.Fatalf("Expected 'test value', got %v", val)
	}

	if _, ok = b.Get(handle); ok {
		t.Fatal("Expected Get to fail after Drop")
	}
	if _, ok = b.Drop(handle); ok {
		t.Fatal("Second Drop should fail")
	}
}

func TestLocalBackend_Borrow(t *testing.T) {
	b := NewLocalBackend()

	handle, _ := b.Create(ClassObject, 100)

	if !b.Borrow(handle) {
		t.Fatal("Borrow failed")
	}
	if b.Borrowed(handle) != 1 {
		t.Fatalf("Borrowed = %d, want 1", b.Borrowed(handle))
	}

	if _, ok := b.Drop(handle); ok {
		t.Fatal("Drop should fail with outstanding borrow")
	}

	if !b.ReturnBorrow(handle) {
		t.Fatal("ReturnBorrow failed")
	}
	if b.ReturnBorrow(handle) {
		t.Fatal("ReturnBorrow without a borrow should fail")
	}

	if _, ok := b.Drop(handle); !ok {
		t.Fatal("Drop should succeed after returning borrow")
	}
}

func TestLocalBackend_MultipleBorrows(t *testing.T) {
	b := NewLocalBackend()

	handle, _ := b.Create(ClassView, 100)

	for i := 0; i < 5; i++ {
		if !b.Borrow(handle) {
			t.Fatalf("Borrow %d failed", i)
		}
	}

	if _, ok := b.Drop(handle); ok {
		t.Fatal("Drop should fail with outstanding borrows")
	}

	for i := 0; i < 5; i++ {
		if !b.ReturnBorrow(handle) {
			t.Fatalf("ReturnBorrow %d failed", i)
		}
	}

	if _, ok := b.Drop(handle); !ok {
		t.Fatal("Drop should succeed after returning all borrows")
	}
}

func TestLocalBackend_HandleReuse(t *testing.T) {
	b := NewLocalBackend()

	h1, _ := b.Create(ClassObject, 1)
	h2, _ := b.Create(ClassObject, 2)
	h3, _ := b.Create(ClassObject, 3)

	b.Drop(h2)
	b.Drop(h1)

	h4, _ := b.Create(ClassObject, 4)
	h5, _ := b.Create(ClassObject, 5)

	if h4 != h1 {
		t.Fatalf("h4 = %d, want reused slot %d", h4, h1)
	}
	if h5 != h2 {
		t.Fatalf("h5 = %d, want reused slot %d", h5, h2)
	}

	for _, h := range []Handle{h3, h4, h5} {
		if _, ok := b.Get(h); !ok {
			t.Fatalf("handle %d should be valid", h)
		}
	}
}

func TestLocalBackend_Close(t *testing.T) {
	b := NewLocalBackend()

	b.Create(ClassObject, 1)
	b.Create(ClassObject, 2)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	_, err := b.Create(ClassObject, "test")
	if !errors.Is(err, ErrClosed) {
		t.Fatal("Expected ErrClosed after Close")
	}
	if b.Len() != 0 {
		t.Fatalf("Len after Close = %d", b.Len())
	}
}

func TestLocalBackend_Concurrent(t *testing.T) {
	b := NewLocalBackend()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			h, _ := b.Create(ClassObject, id)
			b.Borrow(h)
			b.ReturnBorrow(h)
			b.Drop(h)
		}(i)
	}

	wg.Wait()

	if b.Len() != 0 {
		t.Fatalf("Len = %d after all drops", b.Len())
	}
}

func TestLocalBackend_Each(t *testing.T) {
	b := NewLocalBackend()

	b.Create(ClassObject, "a")
	b.Create(ClassView, "b")
	b.Create(ClassObject, "c")

	var classes []Class
	b.Each(func(h Handle, class Class, value any) bool {
		classes = append(classes, class)
		return true
	})

	if len(classes) != 3 || classes[1] != ClassView {
		t.Fatalf("Each visited %v", classes)
	}

	count := 0
	b.Each(func(h Handle, class Class, value any) bool {
		count++
		return false
	})

	if count != 1 {
		t.Fatalf("Expected to iterate over 1 item (early term), got %d", count)
	}
}

func TestLocalBackend_InvalidHandle(t *testing.T) {
	b := NewLocalBackend()

	if _, ok := b.Get(0); ok {
		t.Fatal("Handle 0 should be invalid")
	}
	if _, ok := b.Class(0); ok {
		t.Fatal("Handle 0 should have no class")
	}
	if b.Borrow(0) {
		t.Fatal("Handle 0 should fail Borrow")
	}
	if b.ReturnBorrow(0) {
		t.Fatal("Handle 0 should fail ReturnBorrow")
	}
	if _, ok := b.Drop(0); ok {
		t.Fatal("Handle 0 should fail Drop")
	}
	if _, ok := b.Get(999); ok {
		t.Fatal("Non-existent handle should be invalid")
	}
}
