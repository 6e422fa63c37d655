//go:build cpython

package cpython

/*
#cgo pkg-config: python3-embed
#define PY_SSIZE_T_CLEAN
#include <Python.h>
#include <stdlib.h>

static void gb_incref(PyObject *o) { Py_IncRef(o); }
static void gb_decref(PyObject *o) { Py_DecRef(o); }
static Py_ssize_t gb_refcnt(PyObject *o) { return Py_REFCNT(o); }
static PyObject *gb_none(void) { return Py_None; }
static const char *gb_type_name(PyObject *o) { return Py_TYPE(o)->tp_name; }
static int gb_number_check(PyObject *o) { return PyNumber_Check(o); }
static int gb_index_check(PyObject *o) { return PyIndex_Check(o); }

static int gb_type(PyObject *o) {
	if (o == Py_None) return 0;
	if (PyBool_Check(o)) return 1;
	if (PyLong_Check(o)) return 2;
	if (PyFloat_Check(o)) return 3;
	if (PyComplex_Check(o)) return 4;
	if (PyUnicode_Check(o)) return 5;
	if (PyBytes_Check(o)) return 6;
	if (PyByteArray_Check(o)) return 7;
	if (PyList_Check(o)) return 8;
	if (PyTuple_Check(o)) return 9;
	if (PyDict_Check(o)) return 10;
	if (PyFrozenSet_Check(o)) return 12;
	if (PySet_Check(o)) return 11;
	if (PyFunction_Check(o) || PyCFunction_Check(o)) return 13;
	if (PyMethod_Check(o)) return 14;
	if (PyModule_Check(o)) return 15;
	if (PyType_Check(o)) return 16;
	if (PySlice_Check(o)) return 17;
	return 18;
}

static Py_buffer *gb_get_buffer(PyObject *o) {
	Py_buffer *b = malloc(sizeof(Py_buffer));
	if (b == NULL) {
		PyErr_NoMemory();
		return NULL;
	}
	if (PyObject_GetBuffer(o, b, PyBUF_SIMPLE) != 0) {
		free(b);
		return NULL;
	}
	return b;
}

static void *gb_buffer_ptr(Py_buffer *b) { return b->buf; }
static Py_ssize_t gb_buffer_len(Py_buffer *b) { return b->len; }

static void gb_release_buffer(Py_buffer *b) {
	PyBuffer_Release(b);
	free(b);
}

static int gb_prepend_paths(char **paths, int n) {
	PyObject *sys_path = PySys_GetObject("path");
	if (sys_path == NULL) return -1;
	for (int i = n - 1; i >= 0; i--) {
		PyObject *s = PyUnicode_FromString(paths[i]);
		if (s == NULL) return -1;
		int rc = PyList_Insert(sys_path, 0, s);
		Py_DecRef(s);
		if (rc != 0) return -1;
	}
	return 0;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	gymbridge "github.com/wippyai/gym-bridge"
)

// Backend binds gymbridge.API to libpython.
type Backend struct {
	main *C.PyThreadState
}

var _ gymbridge.API = (*Backend)(nil)

// New returns the libpython backend.
func New() (gymbridge.API, error) {
	return &Backend{}, nil
}

func ptr(r gymbridge.Ref) *C.PyObject {
	return (*C.PyObject)(unsafe.Pointer(r))
}

func ref(p *C.PyObject) gymbridge.Ref {
	return gymbridge.Ref(unsafe.Pointer(p))
}

func (b *Backend) Initialize(paths []string) error {
	if C.Py_IsInitialized() != 0 {
		return errors.New("cpython: interpreter already initialized")
	}
	C.Py_InitializeEx(0)
	if C.Py_IsInitialized() == 0 {
		return errors.New("cpython: Py_InitializeEx failed")
	}

	cpaths := make([]*C.char, len(paths))
	for i, p := range paths {
		cpaths[i] = C.CString(p)
	}
	defer func() {
		for _, p := range cpaths {
			C.free(unsafe.Pointer(p))
		}
	}()

	var argv **C.char
	if len(cpaths) > 0 {
		argv = (**C.char)(C.malloc(C.size_t(len(cpaths)) * C.size_t(unsafe.Sizeof(uintptr(0)))))
		defer C.free(unsafe.Pointer(argv))
		copy(unsafe.Slice(argv, len(cpaths)), cpaths)
	}
	if C.gb_prepend_paths(argv, C.int(len(cpaths))) != 0 {
		typ, msg := b.ErrFetch()
		return fmt.Errorf("cpython: extend sys.path: %s: %s", typ, msg)
	}

	// Py_InitializeEx leaves the GIL held by this thread.
	b.main = C.PyEval_SaveThread()
	return nil
}

func (b *Backend) Finalize() error {
	C.PyGILState_Ensure()
	if C.Py_FinalizeEx() != 0 {
		return errors.New("cpython: Py_FinalizeEx reported an error")
	}
	return nil
}

func (b *Backend) Ensure() gymbridge.GILState {
	return gymbridge.GILState(C.PyGILState_Ensure())
}

func (b *Backend) Release(st gymbridge.GILState) {
	C.PyGILState_Release(C.PyGILState_STATE(st))
}

func (b *Backend) IncRef(r gymbridge.Ref) { C.gb_incref(ptr(r)) }

func (b *Backend) DecRef(r gymbridge.Ref) { C.gb_decref(ptr(r)) }

func (b *Backend) RefCount(r gymbridge.Ref) int64 { return int64(C.gb_refcnt(ptr(r))) }

func (b *Backend) ErrOccurred() bool { return C.PyErr_Occurred() != nil }

func (b *Backend) ErrFetch() (string, string) {
	var typ, val, tb *C.PyObject
	C.PyErr_Fetch(&typ, &val, &tb)
	if typ == nil {
		return "", ""
	}
	C.PyErr_NormalizeException(&typ, &val, &tb)
	defer func() {
		for _, o := range []*C.PyObject{typ, val, tb} {
			if o != nil {
				C.gb_decref(o)
			}
		}
	}()

	name := "Exception"
	if typ != nil {
		name = C.GoString((*C.PyTypeObject)(unsafe.Pointer(typ)).tp_name)
	}
	msg := ""
	if val != nil {
		if s := C.PyObject_Str(val); s != nil {
			if str, ok := b.AsString(ref(s)); ok {
				msg = str
			}
			C.gb_decref(s)
		}
		C.PyErr_Clear()
	}
	return name, msg
}

func (b *Backend) ErrClear() { C.PyErr_Clear() }

func (b *Backend) Run(code string, mode gymbridge.Mode, globals, locals gymbridge.Ref) gymbridge.Ref {
	cs := C.CString(code)
	defer C.free(unsafe.Pointer(cs))
	start := C.int(C.Py_file_input)
	if mode == gymbridge.ModeEval {
		start = C.int(C.Py_eval_input)
	}
	return ref(C.PyRun_String(cs, start, ptr(globals), ptr(locals)))
}

func (b *Backend) MainDict() gymbridge.Ref {
	name := C.CString("__main__")
	defer C.free(unsafe.Pointer(name))
	mod := C.PyImport_AddModule(name)
	if mod == nil {
		return 0
	}
	return ref(C.PyModule_GetDict(mod))
}

func (b *Backend) NewDict() gymbridge.Ref { return ref(C.PyDict_New()) }

func (b *Backend) DictNext(d gymbridge.Ref, pos *int) (gymbridge.Ref, gymbridge.Ref, bool) {
	var k, v *C.PyObject
	p := C.Py_ssize_t(*pos)
	ok := C.PyDict_Next(ptr(d), &p, &k, &v) != 0
	*pos = int(p)
	return ref(k), ref(v), ok
}

func (b *Backend) DictSetItem(d gymbridge.Ref, key string, value gymbridge.Ref) int {
	ck := C.CString(key)
	defer C.free(unsafe.Pointer(ck))
	return int(C.PyDict_SetItemString(ptr(d), ck, ptr(value)))
}

func (b *Backend) DictDelItem(d gymbridge.Ref, key string) int {
	ck := C.CString(key)
	defer C.free(unsafe.Pointer(ck))
	return int(C.PyDict_DelItemString(ptr(d), ck))
}

func (b *Backend) GetAttr(obj gymbridge.Ref, name string) gymbridge.Ref {
	cn := C.CString(name)
	defer C.free(unsafe.Pointer(cn))
	return ref(C.PyObject_GetAttrString(ptr(obj), cn))
}

func (b *Backend) HasAttr(obj gymbridge.Ref, name string) bool {
	cn := C.CString(name)
	defer C.free(unsafe.Pointer(cn))
	return C.PyObject_HasAttrString(ptr(obj), cn) != 0
}

func (b *Backend) Call(callable, args gymbridge.Ref) gymbridge.Ref {
	return ref(C.PyObject_CallObject(ptr(callable), ptr(args)))
}

func (b *Backend) Str(obj gymbridge.Ref) gymbridge.Ref { return ref(C.PyObject_Str(ptr(obj))) }

func (b *Backend) TypeName(obj gymbridge.Ref) string { return C.GoString(C.gb_type_name(ptr(obj))) }

func (b *Backend) TypeOf(obj gymbridge.Ref) gymbridge.Type { return gymbridge.Type(C.gb_type(ptr(obj))) }

func (b *Backend) NumberCheck(obj gymbridge.Ref) bool { return C.gb_number_check(ptr(obj)) != 0 }

func (b *Backend) IndexCheck(obj gymbridge.Ref) bool { return C.gb_index_check(ptr(obj)) != 0 }

func (b *Backend) SequenceCheck(obj gymbridge.Ref) bool { return C.PySequence_Check(ptr(obj)) != 0 }

func (b *Backend) None() gymbridge.Ref { return ref(C.gb_none()) }

func (b *Backend) FromInt64(v int64) gymbridge.Ref { return ref(C.PyLong_FromLongLong(C.longlong(v))) }

func (b *Backend) FromFloat64(v float64) gymbridge.Ref { return ref(C.PyFloat_FromDouble(C.double(v))) }

func (b *Backend) FromBool(v bool) gymbridge.Ref {
	n := C.long(0)
	if v {
		n = 1
	}
	return ref(C.PyBool_FromLong(n))
}

func (b *Backend) FromString(v string) gymbridge.Ref {
	cs := C.CString(v)
	defer C.free(unsafe.Pointer(cs))
	return ref(C.PyUnicode_FromStringAndSize(cs, C.Py_ssize_t(len(v))))
}

func (b *Backend) AsInt64(obj gymbridge.Ref) int64 { return int64(C.PyLong_AsLongLong(ptr(obj))) }

func (b *Backend) AsFloat64(obj gymbridge.Ref) float64 { return float64(C.PyFloat_AsDouble(ptr(obj))) }

func (b *Backend) IsTrue(obj gymbridge.Ref) int { return int(C.PyObject_IsTrue(ptr(obj))) }

func (b *Backend) AsString(obj gymbridge.Ref) (string, bool) {
	var size C.Py_ssize_t
	cs := C.PyUnicode_AsUTF8AndSize(ptr(obj), &size)
	if cs == nil {
		return "", false
	}
	return C.GoStringN(cs, C.int(size)), true
}

func (b *Backend) NewTuple(n int) gymbridge.Ref { return ref(C.PyTuple_New(C.Py_ssize_t(n))) }

func (b *Backend) TupleSetItem(t gymbridge.Ref, i int, item gymbridge.Ref) int {
	return int(C.PyTuple_SetItem(ptr(t), C.Py_ssize_t(i), ptr(item)))
}

func (b *Backend) TupleGetItem(t gymbridge.Ref, i int) gymbridge.Ref {
	return ref(C.PyTuple_GetItem(ptr(t), C.Py_ssize_t(i)))
}

func (b *Backend) TupleSize(t gymbridge.Ref) int { return int(C.PyTuple_Size(ptr(t))) }

func (b *Backend) NewList(n int) gymbridge.Ref { return ref(C.PyList_New(C.Py_ssize_t(n))) }

func (b *Backend) ListSetItem(l gymbridge.Ref, i int, item gymbridge.Ref) int {
	return int(C.PyList_SetItem(ptr(l), C.Py_ssize_t(i), ptr(item)))
}

func (b *Backend) SequenceSize(seq gymbridge.Ref) int { return int(C.PySequence_Size(ptr(seq))) }

func (b *Backend) SequenceGetItem(seq gymbridge.Ref, i int) gymbridge.Ref {
	return ref(C.PySequence_GetItem(ptr(seq), C.Py_ssize_t(i)))
}

func (b *Backend) GetBuffer(obj gymbridge.Ref) gymbridge.View {
	buf := C.gb_get_buffer(ptr(obj))
	if buf == nil {
		return nil
	}
	return &view{buf: buf}
}

type view struct {
	buf *C.Py_buffer
}

func (v *view) Bytes() []byte {
	if v.buf == nil {
		return nil
	}
	n := int(C.gb_buffer_len(v.buf))
	if n == 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(C.gb_buffer_ptr(v.buf)), n)
}

func (v *view) Release() {
	if v.buf == nil {
		return
	}
	C.gb_release_buffer(v.buf)
	v.buf = nil
}
