package capitest

import (
	"encoding/binary"
	"math"

	gymbridge "github.com/wippyai/gym-bridge"
)

// The helpers below build fixtures from test code. They do not require the
// GIL and return new references unless noted.

// New registers o and returns a new reference to it.
func (rt *Runtime) New(o *Object) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	o.refs = 0
	return rt.alloc(o)
}

// Int returns a new int.
func (rt *Runtime) Int(v int64) gymbridge.Ref {
	return rt.New(&Object{Type: gymbridge.TypeInt, Int: v})
}

// Float returns a new float.
func (rt *Runtime) Float(v float64) gymbridge.Ref {
	return rt.New(&Object{Type: gymbridge.TypeFloat, Float: v})
}

// Bool returns the True or False singleton.
func (rt *Runtime) Bool(v bool) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.boolRef(v)
}

// NoneRef returns the None singleton.
func (rt *Runtime) NoneRef() gymbridge.Ref { return rt.none }

// Text returns a new str.
func (rt *Runtime) Text(v string) gymbridge.Ref {
	return rt.New(&Object{Type: gymbridge.TypeStr, Str: v})
}

// BytesObj returns a new bytes object.
func (rt *Runtime) BytesObj(v []byte) gymbridge.Ref {
	return rt.New(&Object{Type: gymbridge.TypeBytes, Bytes: v})
}

// List returns a new list. It steals items.
func (rt *Runtime) List(items ...gymbridge.Ref) gymbridge.Ref {
	return rt.New(&Object{Type: gymbridge.TypeList, Items: items})
}

// Tuple returns a new tuple. It steals items.
func (rt *Runtime) Tuple(items ...gymbridge.Ref) gymbridge.Ref {
	return rt.New(&Object{Type: gymbridge.TypeTuple, Items: items})
}

// Dict returns a new empty dict.
func (rt *Runtime) Dict() gymbridge.Ref {
	return rt.New(&Object{Type: gymbridge.TypeDict})
}

// SetItem stores value under a string key. It steals value.
func (rt *Runtime) SetItem(d gymbridge.Ref, key string, value gymbridge.Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.dictSet(d, rt.strRef(key), value)
}

// SetItemRef stores value under an arbitrary key. It steals key and value.
func (rt *Runtime) SetItemRef(d, key, value gymbridge.Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.dictSet(d, key, value)
}

// Func returns a new callable.
func (rt *Runtime) Func(name string, fn func(args []gymbridge.Ref) (gymbridge.Ref, error)) gymbridge.Ref {
	return rt.New(&Object{Type: gymbridge.TypeFunction, Class: "function", Repr: "<function " + name + ">", Fn: fn})
}

// Instance returns a new object of the given class. It steals attrs.
func (rt *Runtime) Instance(class, repr string, attrs map[string]gymbridge.Ref) gymbridge.Ref {
	if attrs == nil {
		attrs = make(map[string]gymbridge.Ref)
	}
	return rt.New(&Object{Type: gymbridge.TypeObject, Class: class, Repr: repr, Attrs: attrs})
}

// SetAttr binds name on obj. It steals value.
func (rt *Runtime) SetAttr(obj gymbridge.Ref, name string, value gymbridge.Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	o := rt.obj(obj)
	if o.Attrs == nil {
		o.Attrs = make(map[string]gymbridge.Ref)
	}
	if old, ok := o.Attrs[name]; ok {
		rt.decref(old)
	}
	o.Attrs[name] = value
}

// NDArray returns a new ndarray over a.
func (rt *Runtime) NDArray(a *Array) gymbridge.Ref {
	if a.Order == 0 {
		a.Order = '<'
	}
	return rt.New(&Object{Type: gymbridge.TypeObject, Class: "ndarray", Array: a})
}

// Float32Array returns a new 1-d float32 ndarray.
func (rt *Runtime) Float32Array(order byte, vals ...float32) gymbridge.Ref {
	return rt.NDArray(&Array{Shape: []int{len(vals)}, DType: "float32", Order: order, Data: Float32Bytes(order, vals...)})
}

// Float32Bytes encodes vals in the given byte order.
func Float32Bytes(order byte, vals ...float32) []byte {
	var bo binary.ByteOrder = binary.LittleEndian
	if order == '>' {
		bo = binary.BigEndian
	}
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		bo.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// Int64Bytes encodes vals in little-endian order.
func Int64Bytes(vals ...int64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[8*i:], uint64(v))
	}
	return out
}

// SetGlobal binds name in __main__. It steals value.
func (rt *Runtime) SetGlobal(name string, value gymbridge.Ref) {
	rt.SetItem(rt.main, name, value)
}

// Global looks name up in __main__ and returns a borrowed reference.
func (rt *Runtime) Global(name string) (gymbridge.Ref, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.dictGet(rt.main, name)
}

// Lookup returns a borrowed value from a dict by string key.
func (rt *Runtime) Lookup(d gymbridge.Ref, key string) (gymbridge.Ref, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.dictGet(d, key)
}

// Object returns the object behind r, or nil if it was freed.
func (rt *Runtime) Object(r gymbridge.Ref) *Object {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.objs[r]
}

// Refs reports r's reference count, 0 once freed.
func (rt *Runtime) Refs(r gymbridge.Ref) int64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if o, ok := rt.objs[r]; ok {
		return o.refs
	}
	return 0
}

// Alive reports whether r has not been freed.
func (rt *Runtime) Alive(r gymbridge.Ref) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.objs[r]
	return ok
}

// Drop releases a reference held by test code.
func (rt *Runtime) Drop(r gymbridge.Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.decref(r)
}

// SetError leaves an exception pending.
func (rt *Runtime) SetError(typ, msg string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.raise(typ, "%s", msg)
}

// OnEval registers an expression handler. Handlers run in registration order.
func (rt *Runtime) OnEval(fn EvalFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.evals = append(rt.evals, fn)
}

// OnExec registers a statement handler. Handlers run in registration order.
func (rt *Runtime) OnExec(fn ExecFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.execs = append(rt.execs, fn)
}

// Calls reports how many times op ran. GetAttr is also counted per
// attribute as "GetAttr:<name>".
func (rt *Runtime) Calls(op string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.calls[op]
}

// Paths returns the directories passed to Initialize.
func (rt *Runtime) Paths() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]string(nil), rt.paths...)
}

// Initialized reports whether Initialize succeeded.
func (rt *Runtime) Initialized() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.initialized
}

// Finalized reports whether Finalize ran.
func (rt *Runtime) Finalized() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.finalized
}

// GILHeld reports whether any thread holds the GIL.
func (rt *Runtime) GILHeld() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.gil > 0
}

// OpenViews reports buffer views not yet released.
func (rt *Runtime) OpenViews() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.views
}

// Pending reports whether an exception is pending.
func (rt *Runtime) Pending() bool {
	return rt.ErrOccurred()
}
