// Package resource tracks live references handed out by the interpreter host.
//
// Every owned interpreter object and every open buffer view is registered in
// a table on creation and removed when it is released. The table makes leaks
// observable: whatever is still registered when the host finalizes was never
// released.
//
// # Handle Table
//
// The UnifiedTable maps integer handles to Go values:
//
//	table := resource.NewTable()
//
//	h := table.Insert(resource.ClassObject, obj)
//	value, ok := table.Get(h)
//	value, ok = table.Remove(h)
//
// Handles are classed, and GetTyped only returns entries of the expected class:
//
//	table.GetTyped(h, resource.ClassObject) // ok
//	table.GetTyped(h, resource.ClassView)   // !ok
//
// # Borrows
//
// Borrow pins an entry. Remove refuses pinned entries until every borrow is
// returned. The host pins an object while a buffer view over its memory is
// open, so the object cannot be released out from under the view.
//
// # Observers
//
// Observers receive every lifecycle event:
//
//	table.Subscribe(observer)
//
//	func (o *observer) OnResourceEvent(e resource.Event) {
//	    switch e.Type {
//	    case resource.EventCreated:
//	    case resource.EventDropped:
//	    }
//	}
package resource
