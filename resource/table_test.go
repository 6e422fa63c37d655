package resource

import (
	"testing"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

func TestUnifiedTable_Basic(t *testing.T) {
	table := NewTable()

	h := table.Insert(ClassObject, "test")
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok {
		t.Fatal("Get failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if _, ok = table.GetTyped(h, ClassObject); !ok {
		t.Fatal("GetTyped with correct class failed")
	}
	if _, ok = table.GetTyped(h, ClassView); ok {
		t.Fatal("GetTyped with wrong class should fail")
	}

	val, ok = table.Remove(h)
	if !ok {
		t.Fatal("Remove failed")
	}
	if val != "test" {
		t.Fatalf("Expected 'test', got %v", val)
	}

	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
}

func TestUnifiedTable_Observer(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	h := table.Insert(ClassObject, "test")
	if len(obs.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(obs.events))
	}
	if obs.events[0].Type != EventCreated {
		t.Fatal("Expected EventCreated")
	}
	if obs.events[0].Handle != h || obs.events[0].Class != ClassObject {
		t.Fatal("Wrong handle or class in event")
	}

	table.Borrow(h)
	table.ReturnBorrow(h)
	if obs.events[1].Type != EventBorrowed || obs.events[2].Type != EventBorrowReturned {
		t.Fatalf("unexpected borrow events: %+v", obs.events[1:])
	}

	table.Remove(h)
	if len(obs.events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(obs.events))
	}
	if obs.events[3].Type != EventDropped {
		t.Fatal("Expected EventDropped")
	}

	table.Unsubscribe(obs)
	table.Insert(ClassObject, "test2")
	if len(obs.events) != 4 {
		t.Fatal("Should not receive events after Unsubscribe")
	}
}

func TestUnifiedTable_BorrowBlocksRemove(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	h := table.Insert(ClassObject, "pinned")
	if !table.Borrow(h) {
		t.Fatal("Borrow failed")
	}
	if _, ok := table.Remove(h); ok {
		t.Fatal("Remove should fail while borrowed")
	}
	for _, e := range obs.events {
		if e.Type == EventDropped {
			t.Fatal("refused Remove must not notify")
		}
	}

	table.ReturnBorrow(h)
	if _, ok := table.Remove(h); !ok {
		t.Fatal("Remove should succeed after ReturnBorrow")
	}
}

func TestUnifiedTable_Each(t *testing.T) {
	table := NewTable()

	table.Insert(ClassObject, "a")
	table.Insert(ClassView, "b")

	var values []any
	table.Each(func(h Handle, class Class, value any) bool {
		values = append(values, value)
		return true
	})
	if len(values) != 2 || values[0] != "a" || values[1] != "b" {
		t.Fatalf("Each visited %v", values)
	}
}

func TestUnifiedTable_Close(t *testing.T) {
	table := NewTable()

	table.Insert(ClassObject, "a")
	table.Insert(ClassObject, "b")

	if err := table.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if h := table.Insert(ClassObject, "c"); h != 0 {
		t.Fatal("Expected Insert to fail after Close")
	}
}

func TestClass_String(t *testing.T) {
	if ClassObject.String() != "object" || ClassView.String() != "view" || Class(99).String() != "unknown" {
		t.Fatal("unexpected class names")
	}
}
