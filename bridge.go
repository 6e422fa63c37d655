package gymbridge

// Ref is a raw reference to an object living in the embedded interpreter.
// The zero Ref is null.
type Ref uintptr

// IsNull reports whether r is the null reference.
func (r Ref) IsNull() bool { return r == 0 }

// GILState is the token returned by API.Ensure.
type GILState int

// Mode selects how API.Run compiles source.
type Mode uint8

const (
	ModeExec Mode = iota // statements, result is None
	ModeEval             // single expression
)

// Type classifies a foreign object by its concrete builtin type.
type Type uint8

const (
	TypeNone Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeComplex
	TypeStr
	TypeBytes
	TypeByteArray
	TypeList
	TypeTuple
	TypeDict
	TypeSet
	TypeFrozenSet
	TypeFunction
	TypeMethod
	TypeModule
	TypeType
	TypeSlice
	TypeObject
)

var typeNames = [...]string{
	TypeNone:      "NoneType",
	TypeBool:      "bool",
	TypeInt:       "int",
	TypeFloat:     "float",
	TypeComplex:   "complex",
	TypeStr:       "str",
	TypeBytes:     "bytes",
	TypeByteArray: "bytearray",
	TypeList:      "list",
	TypeTuple:     "tuple",
	TypeDict:      "dict",
	TypeSet:       "set",
	TypeFrozenSet: "frozenset",
	TypeFunction:  "function",
	TypeMethod:    "method",
	TypeModule:    "module",
	TypeType:      "type",
	TypeSlice:     "slice",
	TypeObject:    "object",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// View is an open buffer-protocol view. Bytes aliases foreign memory and is
// valid only until Release.
type View interface {
	Bytes() []byte
	Release()
}

// API is the subset of the interpreter's C API the bridge drives.
//
// Methods mirror C semantics: functions returning a Ref return a new
// reference unless documented as borrowed, a null Ref or -1 signals failure
// with an exception left pending, and every call other than Initialize,
// Finalize and Ensure requires the GIL to be held by the calling thread.
type API interface {
	// Initialize starts the interpreter, prepends paths to sys.path and
	// releases the GIL before returning.
	Initialize(paths []string) error
	// Finalize tears the interpreter down. It acquires the GIL itself.
	Finalize() error

	Ensure() GILState
	Release(GILState)

	IncRef(Ref)
	DecRef(Ref)
	RefCount(Ref) int64

	ErrOccurred() bool
	// ErrFetch returns the pending exception's type name and message and
	// clears it.
	ErrFetch() (typeName, message string)
	ErrClear()

	// Run compiles and runs code against globals and locals.
	Run(code string, mode Mode, globals, locals Ref) Ref
	// MainDict returns the borrowed __main__ namespace.
	MainDict() Ref
	NewDict() Ref
	// DictNext iterates a dict in insertion order. key and value are
	// borrowed.
	DictNext(dict Ref, pos *int) (key, value Ref, ok bool)
	DictSetItem(dict Ref, key string, value Ref) int
	DictDelItem(dict Ref, key string) int

	GetAttr(obj Ref, name string) Ref
	HasAttr(obj Ref, name string) bool
	// Call invokes callable with a positional argument tuple.
	Call(callable, args Ref) Ref
	Str(obj Ref) Ref
	TypeName(obj Ref) string

	TypeOf(obj Ref) Type
	NumberCheck(obj Ref) bool
	IndexCheck(obj Ref) bool
	SequenceCheck(obj Ref) bool
	// None returns the borrowed None singleton.
	None() Ref

	FromInt64(v int64) Ref
	FromFloat64(v float64) Ref
	FromBool(v bool) Ref
	FromString(v string) Ref
	AsInt64(obj Ref) int64
	AsFloat64(obj Ref) float64
	IsTrue(obj Ref) int
	AsString(obj Ref) (string, bool)

	NewTuple(n int) Ref
	// TupleSetItem steals item.
	TupleSetItem(tuple Ref, i int, item Ref) int
	// TupleGetItem returns a borrowed reference.
	TupleGetItem(tuple Ref, i int) Ref
	TupleSize(tuple Ref) int
	NewList(n int) Ref
	// ListSetItem steals item.
	ListSetItem(list Ref, i int, item Ref) int
	SequenceSize(seq Ref) int
	SequenceGetItem(seq Ref, i int) Ref

	// GetBuffer requests a simple contiguous view. On failure it returns
	// nil with an exception pending.
	GetBuffer(obj Ref) View
}
