package python

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	gymbridge "github.com/wippyai/gym-bridge"
	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/resource"
)

// View is an open buffer-protocol view of an object's memory. The bytes are
// the exporter's own memory: they are valid until Release and must not be
// written.
type View struct {
	host     *Host
	view     gymbridge.View
	data     []byte
	handle   resource.Handle
	pinned   resource.Handle
	released atomic.Bool
}

// AcquireView opens a simple contiguous view of x. While the view is open an
// owned x cannot be closed.
func (h *Host) AcquireView(ctx context.Context, x Handle) (*View, error) {
	var out *View
	err := h.locked(ctx, func() error {
		var err error
		out, err = h.acquire(x)
		return err
	})
	return out, err
}

func (h *Host) acquire(x Handle) (*View, error) {
	r, err := h.deref(x, errors.PhaseBuffer)
	if err != nil {
		return nil, err
	}
	bv := h.api.GetBuffer(r)
	if bv == nil {
		return nil, errors.Contiguity(h.api.TypeName(r), h.check(errors.PhaseBuffer))
	}
	v := &View{host: h, view: bv, data: bv.Bytes()}
	if o, ok := x.(*Object); ok && o.handle != 0 && h.refs.Borrow(o.handle) {
		v.pinned = o.handle
	}
	v.handle = h.refs.Insert(resource.ClassView, v)
	return v, nil
}

// Bytes returns the viewed memory, or nil once released.
func (v *View) Bytes() []byte {
	if v.released.Load() {
		return nil
	}
	return v.data
}

// Len returns the view length in bytes.
func (v *View) Len() int {
	return len(v.Bytes())
}

// Release closes the view. Releasing twice is a no-op.
func (v *View) Release(ctx context.Context) error {
	if v.released.Load() {
		return nil
	}
	return v.host.locked(ctx, func() error {
		v.release()
		return nil
	})
}

func (v *View) release() {
	if !v.released.CompareAndSwap(false, true) {
		return
	}
	v.view.Release()
	v.data = nil
	v.host.refs.Remove(v.handle)
	if v.pinned != 0 {
		v.host.refs.ReturnBorrow(v.pinned)
	}
}

// Buffer is a reusable host-side destination for buffer transfers. It keeps
// the byte order of the array it was sized for.
type Buffer struct {
	data  []byte
	n     int
	order binary.ByteOrder
}

// NewBuffer allocates a buffer of size bytes.
func NewBuffer(size int, order binary.ByteOrder) *Buffer {
	if order == nil {
		order = binary.NativeEndian
	}
	return &Buffer{data: make([]byte, size), order: order}
}

// Cap returns the capacity in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of valid bytes.
func (b *Buffer) Len() int { return b.n }

// Bytes returns the valid bytes. The slice is overwritten by the next Fill.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Order returns the byte order of the contents.
func (b *Buffer) Order() binary.ByteOrder { return b.order }

// Reset empties the buffer.
func (b *Buffer) Reset() { b.n = 0 }

// Fill copies x's contiguous memory into dst. dst is emptied first, so after
// a failed Fill it holds no stale data.
func (h *Host) Fill(ctx context.Context, x Handle, dst *Buffer) error {
	if dst == nil {
		return errors.NilPointer(errors.PhaseBuffer, nil, "destination buffer")
	}
	dst.Reset()
	return h.locked(ctx, func() error {
		v, err := h.acquire(x)
		if err != nil {
			return err
		}
		defer v.release()
		need := len(v.data)
		if need > dst.Cap() {
			return errors.Capacity(dst.Cap(), need)
		}
		dst.n = copy(dst.data, v.data)
		return nil
	})
}
