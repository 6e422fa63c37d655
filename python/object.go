package python

import (
	"context"
	"sync/atomic"

	gymbridge "github.com/wippyai/gym-bridge"
	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/resource"
)

// Handle is anything that refers to an interpreter object.
type Handle interface {
	Ref() gymbridge.Ref
}

// Object is an owned reference. It must be closed exactly once.
type Object struct {
	host   *Host
	ref    gymbridge.Ref
	handle resource.Handle
	closed atomic.Bool
}

// Borrowed is a reference the holder does not own. It cannot be closed and
// is only valid while its owner keeps the object alive; Host.Retain turns it
// into an owned Object.
type Borrowed struct {
	ref gymbridge.Ref
}

// Ref returns the raw reference.
func (b Borrowed) Ref() gymbridge.Ref { return b.ref }

// IsNull reports whether b refers to nothing.
func (b Borrowed) IsNull() bool { return b.ref == 0 }

func (h *Host) own(r gymbridge.Ref) *Object {
	o := &Object{host: h, ref: r}
	o.handle = h.refs.Insert(resource.ClassObject, o)
	return o
}

// Ref returns the raw reference, or null once closed.
func (o *Object) Ref() gymbridge.Ref {
	if o == nil || o.closed.Load() {
		return 0
	}
	return o.ref
}

// Borrow returns a non-owning view of o.
func (o *Object) Borrow() Borrowed {
	return Borrowed{ref: o.Ref()}
}

// Closed reports whether Close has run.
func (o *Object) Closed() bool {
	return o.closed.Load()
}

// Close releases the reference. A second Close is an ownership bug and
// returns a double-release error.
func (o *Object) Close(ctx context.Context) error {
	if o == nil {
		return errors.NilPointer(errors.PhaseCall, nil, "object")
	}
	if o.closed.Load() {
		return errors.DoubleRelease(errors.PhaseCall, "object")
	}
	return o.host.locked(ctx, o.release)
}

// release drops the reference. Caller holds the lock.
func (o *Object) release() error {
	if !o.closed.CompareAndSwap(false, true) {
		return errors.DoubleRelease(errors.PhaseCall, "object")
	}
	if o.handle != 0 {
		if _, ok := o.host.refs.Remove(o.handle); !ok {
			o.closed.Store(false)
			return errors.IllegalState(errors.PhaseBuffer, "object has an open buffer view")
		}
	}
	o.host.api.DecRef(o.ref)
	return nil
}

func (h *Host) deref(x Handle, phase errors.Phase) (gymbridge.Ref, error) {
	if x == nil {
		return 0, errors.NilPointer(phase, nil, "handle")
	}
	if o, ok := x.(*Object); ok {
		if o == nil {
			return 0, errors.NilPointer(phase, nil, "object")
		}
		if o.closed.Load() {
			return 0, errors.IllegalState(phase, "use of a released object")
		}
	}
	r := x.Ref()
	if r == 0 {
		return 0, errors.NilPointer(phase, nil, "reference")
	}
	return r, nil
}

// Retain takes a new owned reference to x.
func (h *Host) Retain(ctx context.Context, x Handle) (*Object, error) {
	var out *Object
	err := h.locked(ctx, func() error {
		r, err := h.deref(x, errors.PhaseCall)
		if err != nil {
			return err
		}
		h.api.IncRef(r)
		out = h.own(r)
		return nil
	})
	return out, err
}

// RefCount reports x's interpreter reference count.
func (h *Host) RefCount(ctx context.Context, x Handle) (int64, error) {
	var n int64
	err := h.locked(ctx, func() error {
		r, err := h.deref(x, errors.PhaseCall)
		if err != nil {
			return err
		}
		n = h.api.RefCount(r)
		return nil
	})
	return n, err
}

// Attr returns the owned attribute name of x.
func (h *Host) Attr(ctx context.Context, x Handle, name string) (*Object, error) {
	var out *Object
	err := h.locked(ctx, func() error {
		var err error
		out, err = h.attr(x, name)
		return err
	})
	return out, err
}

func (h *Host) attr(x Handle, name string) (*Object, error) {
	r, err := h.deref(x, errors.PhaseCall)
	if err != nil {
		return nil, err
	}
	v := h.api.GetAttr(r, name)
	if v == 0 {
		cause := h.check(errors.PhaseCall)
		if fe, ok := cause.(*errors.Error); ok && fe.PyType != "AttributeError" {
			return nil, cause
		}
		return nil, errors.AttributeNotFound(name, cause)
	}
	return h.result(v, errors.PhaseCall)
}

// HasAttr reports whether x has attribute name.
func (h *Host) HasAttr(ctx context.Context, x Handle, name string) (bool, error) {
	var ok bool
	err := h.locked(ctx, func() error {
		r, err := h.deref(x, errors.PhaseCall)
		if err != nil {
			return err
		}
		ok = h.api.HasAttr(r, name)
		return h.check(errors.PhaseCall)
	})
	return ok, err
}

// Str returns str(x).
func (h *Host) Str(ctx context.Context, x Handle) (string, error) {
	var s string
	err := h.locked(ctx, func() error {
		var err error
		s, err = h.str(x)
		return err
	})
	return s, err
}

func (h *Host) str(x Handle) (string, error) {
	r, err := h.deref(x, errors.PhaseCall)
	if err != nil {
		return "", err
	}
	so, err := h.result(h.api.Str(r), errors.PhaseCall)
	if err != nil {
		return "", err
	}
	defer so.release()
	s, ok := h.api.AsString(so.ref)
	if !ok {
		return "", h.check(errors.PhaseMarshal)
	}
	return s, nil
}

// TypeName returns the interpreter's name for x's type.
func (h *Host) TypeName(ctx context.Context, x Handle) (string, error) {
	var s string
	err := h.locked(ctx, func() error {
		r, err := h.deref(x, errors.PhaseCall)
		if err != nil {
			return err
		}
		s = h.api.TypeName(r)
		return nil
	})
	return s, err
}

// ClassName returns x.__class__.__name__.
func (h *Host) ClassName(ctx context.Context, x Handle) (string, error) {
	var s string
	err := h.locked(ctx, func() error {
		cls, err := h.attr(x, "__class__")
		if err != nil {
			return err
		}
		defer cls.release()
		name, err := h.attr(cls, "__name__")
		if err != nil {
			return err
		}
		defer name.release()
		s, err = h.asString(name)
		return err
	})
	return s, err
}

// CallFunction calls fn with positional args and returns the owned result.
func (h *Host) CallFunction(ctx context.Context, fn Handle, args ...Handle) (*Object, error) {
	var out *Object
	err := h.locked(ctx, func() error {
		var err error
		out, err = h.call(fn, args)
		return err
	})
	return out, err
}

// CallMethod calls x.name(args...) and returns the owned result.
func (h *Host) CallMethod(ctx context.Context, x Handle, name string, args ...Handle) (*Object, error) {
	var out *Object
	err := h.locked(ctx, func() error {
		r, err := h.deref(x, errors.PhaseCall)
		if err != nil {
			return err
		}
		m := h.api.GetAttr(r, name)
		if m == 0 {
			return errors.MethodNotFound(name, h.check(errors.PhaseCall))
		}
		method := h.own(m)
		defer method.release()
		out, err = h.call(method, args)
		return err
	})
	return out, err
}

func (h *Host) call(fn Handle, args []Handle) (*Object, error) {
	f, err := h.deref(fn, errors.PhaseCall)
	if err != nil {
		return nil, err
	}
	t, err := h.tuple(args)
	if err != nil {
		return nil, err
	}
	defer h.api.DecRef(t)
	return h.result(h.api.Call(f, t), errors.PhaseCall)
}

func (h *Host) tuple(args []Handle) (gymbridge.Ref, error) {
	t := h.api.NewTuple(len(args))
	if t == 0 {
		return 0, h.check(errors.PhaseCall)
	}
	for i, a := range args {
		r, err := h.deref(a, errors.PhaseCall)
		if err != nil {
			h.api.DecRef(t)
			return 0, err
		}
		h.api.IncRef(r)
		if h.api.TupleSetItem(t, i, r) != 0 {
			h.api.DecRef(t)
			return 0, h.check(errors.PhaseCall)
		}
	}
	return t, nil
}
