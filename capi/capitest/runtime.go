// Package capitest implements gymbridge.API over an in-memory object model.
//
// The Runtime reproduces the reference-counting, pending-exception and
// buffer-protocol behavior of the C API closely enough to exercise the
// bridge without a real interpreter. Misuse that would corrupt a real
// interpreter panics instead: touching a freed object, or calling into the
// runtime without holding the GIL.
//
// Code execution is scripted. Run understands identifiers, literals,
// "name = expr", "del name" and import lines; anything else is resolved by
// handlers registered with OnEval and OnExec.
package capitest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	gymbridge "github.com/wippyai/gym-bridge"
)

// EvalFunc resolves an expression. ok=false passes it to the next handler.
type EvalFunc func(rt *Runtime, expr string, ns gymbridge.Ref) (ref gymbridge.Ref, ok bool, err error)

// ExecFunc runs one statement. ok=false passes it to the next handler.
type ExecFunc func(rt *Runtime, stmt string, ns gymbridge.Ref) (ok bool, err error)

// Runtime is a fake interpreter. The zero value is not usable; call NewRuntime.
type Runtime struct {
	objs    map[gymbridge.Ref]*Object
	calls   map[string]int
	pending *Exception
	evals   []EvalFunc
	execs   []ExecFunc
	paths   []string

	// FailInit makes Initialize return this error.
	FailInit error

	mu          sync.Mutex
	next        gymbridge.Ref
	none        gymbridge.Ref
	yes         gymbridge.Ref
	no          gymbridge.Ref
	main        gymbridge.Ref
	gil         int
	views       int
	initialized bool
	finalized   bool
}

var _ gymbridge.API = (*Runtime)(nil)

// NewRuntime creates a runtime with the builtin singletons and an empty
// __main__ namespace.
func NewRuntime() *Runtime {
	rt := &Runtime{
		objs:  make(map[gymbridge.Ref]*Object),
		calls: make(map[string]int),
	}
	rt.none = rt.alloc(&Object{Type: gymbridge.TypeNone, immortal: true})
	rt.yes = rt.alloc(&Object{Type: gymbridge.TypeBool, Int: 1, immortal: true})
	rt.no = rt.alloc(&Object{Type: gymbridge.TypeBool, immortal: true})
	rt.main = rt.alloc(&Object{Type: gymbridge.TypeDict, immortal: true})
	return rt
}

func (rt *Runtime) alloc(o *Object) gymbridge.Ref {
	rt.next++
	if o.refs == 0 {
		o.refs = 1
	}
	rt.objs[rt.next] = o
	return rt.next
}

func (rt *Runtime) obj(r gymbridge.Ref) *Object {
	o, ok := rt.objs[r]
	if !ok {
		panic(fmt.Sprintf("capitest: use of freed or unknown object %d", r))
	}
	return o
}

func (rt *Runtime) mustGIL(op string) {
	rt.calls[op]++
	if !rt.initialized || rt.finalized {
		panic("capitest: " + op + " called on a stopped interpreter")
	}
	if rt.gil == 0 {
		panic("capitest: " + op + " called without the GIL")
	}
}

func (rt *Runtime) raise(typ, format string, args ...any) {
	rt.pending = &Exception{Type: typ, Message: fmt.Sprintf(format, args...)}
}

func (rt *Runtime) raiseErr(err error) {
	var exc *Exception
	if errors.As(err, &exc) {
		rt.pending = exc
		return
	}
	rt.pending = &Exception{Type: "RuntimeError", Message: err.Error()}
}

func (rt *Runtime) incref(r gymbridge.Ref) {
	if o := rt.obj(r); !o.immortal {
		o.refs++
	}
}

func (rt *Runtime) decref(r gymbridge.Ref) {
	o := rt.obj(r)
	if o.immortal {
		return
	}
	o.refs--
	if o.refs > 0 {
		return
	}
	delete(rt.objs, r)
	for _, c := range o.Items {
		if c != 0 {
			rt.decref(c)
		}
	}
	for _, c := range o.Keys {
		rt.decref(c)
	}
	for _, c := range o.Values {
		rt.decref(c)
	}
	for _, c := range o.Attrs {
		rt.decref(c)
	}
}

func (rt *Runtime) boolRef(v bool) gymbridge.Ref {
	if v {
		return rt.yes
	}
	return rt.no
}

// Initialize implements gymbridge.API.
func (rt *Runtime) Initialize(paths []string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.calls["Initialize"]++
	if rt.FailInit != nil {
		return rt.FailInit
	}
	if rt.initialized {
		return errors.New("capitest: already initialized")
	}
	rt.initialized = true
	rt.paths = append([]string(nil), paths...)
	return nil
}

// Finalize implements gymbridge.API.
func (rt *Runtime) Finalize() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.calls["Finalize"]++
	if !rt.initialized {
		return errors.New("capitest: not initialized")
	}
	rt.finalized = true
	return nil
}

// Ensure implements gymbridge.API.
func (rt *Runtime) Ensure() gymbridge.GILState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.gil++
	return gymbridge.GILState(rt.gil)
}

// Release implements gymbridge.API.
func (rt *Runtime) Release(st gymbridge.GILState) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if int(st) != rt.gil {
		panic("capitest: GIL released out of order")
	}
	rt.gil--
}

// IncRef implements gymbridge.API.
func (rt *Runtime) IncRef(r gymbridge.Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("IncRef")
	rt.incref(r)
}

// DecRef implements gymbridge.API.
func (rt *Runtime) DecRef(r gymbridge.Ref) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("DecRef")
	rt.decref(r)
}

// RefCount implements gymbridge.API. Freed objects report 0.
func (rt *Runtime) RefCount(r gymbridge.Ref) int64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("RefCount")
	o, ok := rt.objs[r]
	if !ok {
		return 0
	}
	return o.refs
}

// ErrOccurred implements gymbridge.API.
func (rt *Runtime) ErrOccurred() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pending != nil
}

// ErrFetch implements gymbridge.API.
func (rt *Runtime) ErrFetch() (string, string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pending == nil {
		return "", ""
	}
	e := rt.pending
	rt.pending = nil
	return e.Type, e.Message
}

// ErrClear implements gymbridge.API.
func (rt *Runtime) ErrClear() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.pending = nil
}

// Run implements gymbridge.API.
func (rt *Runtime) Run(code string, mode gymbridge.Mode, globals, locals gymbridge.Ref) gymbridge.Ref {
	rt.mu.Lock()
	rt.mustGIL("Run")
	rt.obj(globals)
	ns := locals
	if ns == 0 {
		ns = globals
	}
	rt.mu.Unlock()

	if mode == gymbridge.ModeEval {
		r, err := rt.eval(strings.TrimSpace(code), ns, globals)
		if err != nil {
			rt.mu.Lock()
			rt.raiseErr(err)
			rt.mu.Unlock()
			return 0
		}
		return r
	}

	for _, line := range strings.Split(code, "\n") {
		stmt := strings.TrimSpace(line)
		if stmt == "" || strings.HasPrefix(stmt, "#") {
			continue
		}
		if err := rt.exec(stmt, ns, globals); err != nil {
			rt.mu.Lock()
			rt.raiseErr(err)
			rt.mu.Unlock()
			return 0
		}
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.incref(rt.none)
	return rt.none
}

func (rt *Runtime) exec(stmt string, ns, globals gymbridge.Ref) error {
	for _, h := range rt.execs {
		ok, err := h(rt, stmt, ns)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	switch {
	case strings.HasPrefix(stmt, "import "), strings.HasPrefix(stmt, "from "):
		return nil
	case strings.HasPrefix(stmt, "del "):
		name := strings.TrimSpace(strings.TrimPrefix(stmt, "del "))
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if rt.dictDel(ns, name) {
			return nil
		}
		return Raise("NameError", fmt.Sprintf("name '%s' is not defined", name))
	}

	if i := strings.Index(stmt, " = "); i > 0 && isIdent(strings.TrimSpace(stmt[:i])) {
		name := strings.TrimSpace(stmt[:i])
		v, err := rt.eval(strings.TrimSpace(stmt[i+3:]), ns, globals)
		if err != nil {
			return err
		}
		rt.mu.Lock()
		defer rt.mu.Unlock()
		rt.dictSet(ns, rt.strRef(name), v)
		return nil
	}

	v, err := rt.eval(stmt, ns, globals)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.decref(v)
	return nil
}

func (rt *Runtime) eval(expr string, ns, globals gymbridge.Ref) (gymbridge.Ref, error) {
	for _, h := range rt.evals {
		r, ok, err := h(rt, expr, ns)
		if err != nil {
			return 0, err
		}
		if ok {
			return r, nil
		}
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if isIdent(expr) {
		switch expr {
		case "None":
			return rt.none, nil
		case "True":
			return rt.yes, nil
		case "False":
			return rt.no, nil
		}
		for _, d := range []gymbridge.Ref{ns, globals} {
			if v, ok := rt.dictGet(d, expr); ok {
				rt.incref(v)
				return v, nil
			}
		}
		return 0, Raise("NameError", fmt.Sprintf("name '%s' is not defined", expr))
	}
	if n, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return rt.alloc(&Object{Type: gymbridge.TypeInt, Int: n}), nil
	}
	if f, err := strconv.ParseFloat(expr, 64); err == nil {
		return rt.alloc(&Object{Type: gymbridge.TypeFloat, Float: f}), nil
	}
	if len(expr) >= 2 && (expr[0] == '\'' || expr[0] == '"') && expr[len(expr)-1] == expr[0] {
		return rt.alloc(&Object{Type: gymbridge.TypeStr, Str: expr[1 : len(expr)-1]}), nil
	}
	return 0, Raise("SyntaxError", "unsupported expression: "+expr)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// MainDict implements gymbridge.API.
func (rt *Runtime) MainDict() gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("MainDict")
	return rt.main
}

// NewDict implements gymbridge.API.
func (rt *Runtime) NewDict() gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("NewDict")
	return rt.alloc(&Object{Type: gymbridge.TypeDict})
}

func (rt *Runtime) strRef(s string) gymbridge.Ref {
	return rt.alloc(&Object{Type: gymbridge.TypeStr, Str: s})
}

func (rt *Runtime) dictIndex(d gymbridge.Ref, key string) int {
	o := rt.obj(d)
	for i, k := range o.Keys {
		ko := rt.obj(k)
		if ko.Type == gymbridge.TypeStr && ko.Str == key {
			return i
		}
	}
	return -1
}

func (rt *Runtime) dictGet(d gymbridge.Ref, key string) (gymbridge.Ref, bool) {
	i := rt.dictIndex(d, key)
	if i < 0 {
		return 0, false
	}
	return rt.obj(d).Values[i], true
}

// dictSet steals key and value.
func (rt *Runtime) dictSet(d, key, value gymbridge.Ref) {
	o := rt.obj(d)
	if ko := rt.obj(key); ko.Type == gymbridge.TypeStr {
		if i := rt.dictIndex(d, ko.Str); i >= 0 {
			old := o.Values[i]
			o.Values[i] = value
			rt.decref(key)
			rt.decref(old)
			return
		}
	}
	o.Keys = append(o.Keys, key)
	o.Values = append(o.Values, value)
}

func (rt *Runtime) dictDel(d gymbridge.Ref, key string) bool {
	i := rt.dictIndex(d, key)
	if i < 0 {
		return false
	}
	o := rt.obj(d)
	k, v := o.Keys[i], o.Values[i]
	o.Keys = append(o.Keys[:i], o.Keys[i+1:]...)
	o.Values = append(o.Values[:i], o.Values[i+1:]...)
	rt.decref(k)
	rt.decref(v)
	return true
}

// DictNext implements gymbridge.API.
func (rt *Runtime) DictNext(d gymbridge.Ref, pos *int) (gymbridge.Ref, gymbridge.Ref, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("DictNext")
	o := rt.obj(d)
	if o.Type != gymbridge.TypeDict || *pos >= len(o.Keys) {
		return 0, 0, false
	}
	i := *pos
	*pos++
	return o.Keys[i], o.Values[i], true
}

// DictSetItem implements gymbridge.API.
func (rt *Runtime) DictSetItem(d gymbridge.Ref, key string, value gymbridge.Ref) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("DictSetItem")
	if rt.obj(d).Type != gymbridge.TypeDict {
		rt.raise("SystemError", "bad internal call")
		return -1
	}
	rt.incref(value)
	rt.dictSet(d, rt.strRef(key), value)
	return 0
}

// DictDelItem implements gymbridge.API.
func (rt *Runtime) DictDelItem(d gymbridge.Ref, key string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("DictDelItem")
	if !rt.dictDel(d, key) {
		rt.raise("KeyError", "'%s'", key)
		return -1
	}
	return 0
}

// GetAttr implements gymbridge.API.
func (rt *Runtime) GetAttr(r gymbridge.Ref, name string) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("GetAttr")
	rt.calls["GetAttr:"+name]++
	o := rt.obj(r)

	if name == "__class__" {
		cls := rt.alloc(&Object{Type: gymbridge.TypeType, Class: "type", Repr: "<class '" + o.className() + "'>"})
		rt.obj(cls).Attrs = map[string]gymbridge.Ref{"__name__": rt.strRef(o.className())}
		return cls
	}
	if o.Array != nil {
		if v, ok := rt.arrayAttr(o.Array, name); ok {
			return v
		}
	}
	if v, ok := o.Attrs[name]; ok {
		rt.incref(v)
		return v
	}
	rt.raise("AttributeError", "'%s' object has no attribute '%s'", o.className(), name)
	return 0
}

func (rt *Runtime) arrayAttr(a *Array, name string) (gymbridge.Ref, bool) {
	switch name {
	case "shape":
		items := make([]gymbridge.Ref, len(a.Shape))
		for i, d := range a.Shape {
			items[i] = rt.alloc(&Object{Type: gymbridge.TypeInt, Int: int64(d)})
		}
		return rt.alloc(&Object{Type: gymbridge.TypeTuple, Items: items}), true
	case "ndim":
		return rt.alloc(&Object{Type: gymbridge.TypeInt, Int: int64(len(a.Shape))}), true
	case "dtype":
		dt := rt.alloc(&Object{Type: gymbridge.TypeObject, Class: "dtype", Repr: a.DType})
		rt.obj(dt).Attrs = map[string]gymbridge.Ref{"byteorder": rt.strRef(string(a.Order))}
		return dt, true
	case "__array_interface__":
		d := rt.alloc(&Object{Type: gymbridge.TypeDict})
		rt.dictSet(d, rt.strRef("version"), rt.alloc(&Object{Type: gymbridge.TypeInt, Int: 3}))
		return d, true
	}
	return 0, false
}

// HasAttr implements gymbridge.API.
func (rt *Runtime) HasAttr(r gymbridge.Ref, name string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("HasAttr")
	o := rt.obj(r)
	if name == "__class__" {
		return true
	}
	if o.Array != nil {
		switch name {
		case "shape", "ndim", "dtype", "__array_interface__":
			return true
		}
	}
	_, ok := o.Attrs[name]
	return ok
}

// Call implements gymbridge.API.
func (rt *Runtime) Call(callable, args gymbridge.Ref) gymbridge.Ref {
	rt.mu.Lock()
	rt.mustGIL("Call")
	fo := rt.obj(callable)
	ao := rt.obj(args)
	if fo.Fn == nil {
		rt.raise("TypeError", "'%s' object is not callable", fo.className())
		rt.mu.Unlock()
		return 0
	}
	fn := fo.Fn
	argv := append([]gymbridge.Ref(nil), ao.Items...)
	rt.mu.Unlock()

	r, err := fn(argv)
	if err != nil {
		rt.mu.Lock()
		rt.raiseErr(err)
		rt.mu.Unlock()
		return 0
	}
	return r
}

// Str implements gymbridge.API.
func (rt *Runtime) Str(r gymbridge.Ref) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("Str")
	o := rt.obj(r)
	if o.Type == gymbridge.TypeStr {
		rt.incref(r)
		return r
	}
	return rt.strRef(rt.repr(r, false))
}

func (rt *Runtime) repr(r gymbridge.Ref, quote bool) string {
	o := rt.obj(r)
	if o.Repr != "" {
		return o.Repr
	}
	join := func(refs []gymbridge.Ref) string {
		parts := make([]string, len(refs))
		for i, c := range refs {
			parts[i] = rt.repr(c, true)
		}
		return strings.Join(parts, ", ")
	}
	switch o.Type {
	case gymbridge.TypeNone:
		return "None"
	case gymbridge.TypeBool:
		if o.Int != 0 {
			return "True"
		}
		return "False"
	case gymbridge.TypeInt:
		return strconv.FormatInt(o.Int, 10)
	case gymbridge.TypeFloat:
		return pyFloat(o.Float)
	case gymbridge.TypeStr:
		if quote {
			return "'" + o.Str + "'"
		}
		return o.Str
	case gymbridge.TypeList:
		return "[" + join(o.Items) + "]"
	case gymbridge.TypeTuple:
		if len(o.Items) == 1 {
			return "(" + join(o.Items) + ",)"
		}
		return "(" + join(o.Items) + ")"
	case gymbridge.TypeDict:
		parts := make([]string, len(o.Keys))
		for i := range o.Keys {
			parts[i] = rt.repr(o.Keys[i], true) + ": " + rt.repr(o.Values[i], true)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "<" + o.className() + " object>"
}

// TypeName implements gymbridge.API.
func (rt *Runtime) TypeName(r gymbridge.Ref) string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("TypeName")
	return rt.obj(r).className()
}

// TypeOf implements gymbridge.API.
func (rt *Runtime) TypeOf(r gymbridge.Ref) gymbridge.Type {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("TypeOf")
	return rt.obj(r).Type
}

// NumberCheck implements gymbridge.API.
func (rt *Runtime) NumberCheck(r gymbridge.Ref) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("NumberCheck")
	switch rt.obj(r).Type {
	case gymbridge.TypeBool, gymbridge.TypeInt, gymbridge.TypeFloat, gymbridge.TypeComplex:
		return true
	}
	return false
}

// IndexCheck implements gymbridge.API.
func (rt *Runtime) IndexCheck(r gymbridge.Ref) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("IndexCheck")
	t := rt.obj(r).Type
	return t == gymbridge.TypeBool || t == gymbridge.TypeInt
}

// SequenceCheck implements gymbridge.API.
func (rt *Runtime) SequenceCheck(r gymbridge.Ref) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("SequenceCheck")
	o := rt.obj(r)
	if o.Array != nil {
		return true
	}
	switch o.Type {
	case gymbridge.TypeList, gymbridge.TypeTuple, gymbridge.TypeStr, gymbridge.TypeBytes, gymbridge.TypeByteArray:
		return true
	}
	return false
}

// None implements gymbridge.API.
func (rt *Runtime) None() gymbridge.Ref {
	return rt.none
}

// FromInt64 implements gymbridge.API.
func (rt *Runtime) FromInt64(v int64) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("FromInt64")
	return rt.alloc(&Object{Type: gymbridge.TypeInt, Int: v})
}

// FromFloat64 implements gymbridge.API.
func (rt *Runtime) FromFloat64(v float64) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("FromFloat64")
	return rt.alloc(&Object{Type: gymbridge.TypeFloat, Float: v})
}

// FromBool implements gymbridge.API.
func (rt *Runtime) FromBool(v bool) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("FromBool")
	r := rt.boolRef(v)
	rt.incref(r)
	return r
}

// FromString implements gymbridge.API.
func (rt *Runtime) FromString(v string) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("FromString")
	return rt.strRef(v)
}

// AsInt64 implements gymbridge.API.
func (rt *Runtime) AsInt64(r gymbridge.Ref) int64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("AsInt64")
	o := rt.obj(r)
	switch o.Type {
	case gymbridge.TypeInt, gymbridge.TypeBool:
		return o.Int
	}
	rt.raise("TypeError", "'%s' object cannot be interpreted as an integer", o.className())
	return -1
}

// AsFloat64 implements gymbridge.API.
func (rt *Runtime) AsFloat64(r gymbridge.Ref) float64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("AsFloat64")
	o := rt.obj(r)
	switch o.Type {
	case gymbridge.TypeFloat:
		return o.Float
	case gymbridge.TypeInt, gymbridge.TypeBool:
		return float64(o.Int)
	}
	rt.raise("TypeError", "must be real number, not %s", o.className())
	return -1
}

// IsTrue implements gymbridge.API.
func (rt *Runtime) IsTrue(r gymbridge.Ref) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("IsTrue")
	o := rt.obj(r)
	truth := true
	switch o.Type {
	case gymbridge.TypeNone:
		truth = false
	case gymbridge.TypeBool, gymbridge.TypeInt:
		truth = o.Int != 0
	case gymbridge.TypeFloat:
		truth = o.Float != 0
	case gymbridge.TypeStr:
		truth = o.Str != ""
	case gymbridge.TypeBytes, gymbridge.TypeByteArray:
		truth = len(o.Bytes) > 0
	case gymbridge.TypeList, gymbridge.TypeTuple:
		truth = len(o.Items) > 0
	case gymbridge.TypeDict:
		truth = len(o.Keys) > 0
	}
	if truth {
		return 1
	}
	return 0
}

// AsString implements gymbridge.API.
func (rt *Runtime) AsString(r gymbridge.Ref) (string, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("AsString")
	o := rt.obj(r)
	if o.Type != gymbridge.TypeStr {
		rt.raise("TypeError", "bad argument type for built-in operation")
		return "", false
	}
	return o.Str, true
}

// NewTuple implements gymbridge.API.
func (rt *Runtime) NewTuple(n int) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("NewTuple")
	return rt.alloc(&Object{Type: gymbridge.TypeTuple, Items: make([]gymbridge.Ref, n)})
}

func (rt *Runtime) setItem(seq gymbridge.Ref, want gymbridge.Type, i int, item gymbridge.Ref) int {
	o := rt.obj(seq)
	if o.Type != want {
		rt.decref(item)
		rt.raise("SystemError", "bad internal call")
		return -1
	}
	if i < 0 || i >= len(o.Items) {
		rt.decref(item)
		rt.raise("IndexError", "%s assignment index out of range", want)
		return -1
	}
	if old := o.Items[i]; old != 0 {
		rt.decref(old)
	}
	o.Items[i] = item
	return 0
}

// TupleSetItem implements gymbridge.API.
func (rt *Runtime) TupleSetItem(t gymbridge.Ref, i int, item gymbridge.Ref) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("TupleSetItem")
	return rt.setItem(t, gymbridge.TypeTuple, i, item)
}

// TupleGetItem implements gymbridge.API.
func (rt *Runtime) TupleGetItem(t gymbridge.Ref, i int) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("TupleGetItem")
	o := rt.obj(t)
	if o.Type != gymbridge.TypeTuple {
		rt.raise("SystemError", "bad argument to internal function")
		return 0
	}
	if i < 0 || i >= len(o.Items) {
		rt.raise("IndexError", "tuple index out of range")
		return 0
	}
	return o.Items[i]
}

// TupleSize implements gymbridge.API.
func (rt *Runtime) TupleSize(t gymbridge.Ref) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("TupleSize")
	o := rt.obj(t)
	if o.Type != gymbridge.TypeTuple {
		rt.raise("SystemError", "bad argument to internal function")
		return -1
	}
	return len(o.Items)
}

// NewList implements gymbridge.API.
func (rt *Runtime) NewList(n int) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("NewList")
	return rt.alloc(&Object{Type: gymbridge.TypeList, Items: make([]gymbridge.Ref, n)})
}

// ListSetItem implements gymbridge.API.
func (rt *Runtime) ListSetItem(l gymbridge.Ref, i int, item gymbridge.Ref) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("ListSetItem")
	return rt.setItem(l, gymbridge.TypeList, i, item)
}

// SequenceSize implements gymbridge.API.
func (rt *Runtime) SequenceSize(r gymbridge.Ref) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("SequenceSize")
	o := rt.obj(r)
	if o.Array != nil {
		if len(o.Array.Shape) == 0 {
			rt.raise("TypeError", "len() of unsized object")
			return -1
		}
		return o.Array.Shape[0]
	}
	switch o.Type {
	case gymbridge.TypeList, gymbridge.TypeTuple:
		return len(o.Items)
	case gymbridge.TypeStr:
		return len([]rune(o.Str))
	case gymbridge.TypeBytes, gymbridge.TypeByteArray:
		return len(o.Bytes)
	}
	rt.raise("TypeError", "object of type '%s' has no len()", o.className())
	return -1
}

// SequenceGetItem implements gymbridge.API.
func (rt *Runtime) SequenceGetItem(r gymbridge.Ref, i int) gymbridge.Ref {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("SequenceGetItem")
	o := rt.obj(r)
	if a := o.Array; a != nil {
		if len(a.Shape) == 0 || i < 0 || i >= a.Shape[0] {
			rt.raise("IndexError", "index %d is out of bounds", i)
			return 0
		}
		stride := a.stride0()
		if len(a.Shape) == 1 {
			return rt.alloc(a.element(i * stride))
		}
		sub := &Array{
			Shape: append([]int(nil), a.Shape[1:]...),
			DType: a.DType,
			Order: a.Order,
			Data:  a.Data[i*stride : (i+1)*stride],
		}
		return rt.alloc(&Object{Type: gymbridge.TypeObject, Class: "ndarray", Array: sub})
	}
	switch o.Type {
	case gymbridge.TypeList, gymbridge.TypeTuple:
		if i < 0 || i >= len(o.Items) {
			rt.raise("IndexError", "%s index out of range", o.Type)
			return 0
		}
		rt.incref(o.Items[i])
		return o.Items[i]
	case gymbridge.TypeStr:
		rs := []rune(o.Str)
		if i < 0 || i >= len(rs) {
			rt.raise("IndexError", "string index out of range")
			return 0
		}
		return rt.strRef(string(rs[i]))
	}
	rt.raise("TypeError", "'%s' object is not subscriptable", o.className())
	return 0
}

// GetBuffer implements gymbridge.API.
func (rt *Runtime) GetBuffer(r gymbridge.Ref) gymbridge.View {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.mustGIL("GetBuffer")
	o := rt.obj(r)
	var data []byte
	switch {
	case o.Array != nil && o.Array.Strided:
		rt.raise("BufferError", "ndarray is not C-contiguous")
		return nil
	case o.Array != nil:
		data = o.Array.Data
	case o.Type == gymbridge.TypeBytes || o.Type == gymbridge.TypeByteArray:
		data = o.Bytes
	default:
		rt.raise("TypeError", "a bytes-like object is required, not '%s'", o.className())
		return nil
	}
	rt.incref(r)
	rt.views++
	return &view{rt: rt, ref: r, data: data}
}

type view struct {
	rt   *Runtime
	data []byte
	ref  gymbridge.Ref
}

func (v *view) Bytes() []byte { return v.data }

func (v *view) Release() {
	if v.ref == 0 {
		return
	}
	v.rt.mu.Lock()
	defer v.rt.mu.Unlock()
	v.rt.mustGIL("ReleaseBuffer")
	v.rt.views--
	v.rt.decref(v.ref)
	v.ref = 0
	v.data = nil
}
