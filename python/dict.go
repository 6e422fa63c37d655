package python

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	gymbridge "github.com/wippyai/gym-bridge"
	"github.com/wippyai/gym-bridge/errors"
)

// maxDepth bounds recursive conversion. Deeper values, and cycles, are
// rendered with str().
const maxDepth = 32

// Dict is an insertion-ordered map with string keys, the Go form of a
// foreign dict.
type Dict struct {
	keys   []string
	values map[string]any
}

// NewDict returns an empty Dict.
func NewDict() *Dict {
	return &Dict{values: make(map[string]any)}
}

// Set binds key. A new key is appended; an existing one keeps its position.
func (d *Dict) Set(key string, v any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get returns the value bound to key.
func (d *Dict) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Delete removes key.
func (d *Dict) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.keys...)
}

// Len returns the number of keys.
func (d *Dict) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Each calls fn for every entry in order until fn returns false.
func (d *Dict) Each(fn func(key string, v any) bool) {
	if d == nil {
		return
	}
	for _, k := range d.keys {
		if !fn(k, d.values[k]) {
			return
		}
	}
}

func (d *Dict) String() string {
	b, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Dict(%d)", d.Len())
	}
	return string(b)
}

// MarshalJSON encodes d as a JSON object in key order.
func (d *Dict) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalValue encodes v, writing non-finite floats as strings at any
// depth of nested lists.
func marshalValue(v any) ([]byte, error) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return json.Marshal(strconv.FormatFloat(x, 'g', -1, 64))
		}
	case []any:
		if x == nil {
			return []byte("null"), nil
		}
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := marshalValue(e)
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON decodes a JSON object, keeping key order. Nested objects
// become *Dict, integral numbers int64 and other numbers float64.
func (d *Dict) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("dict: expected object, got %v", tok)
	}
	out, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*d = *out
	return nil
}

func decodeObject(dec *json.Decoder) (*Dict, error) {
	d := NewDict()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("dict: expected key, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		d.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return d, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			var out []any
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			if out == nil {
				out = []any{}
			}
			return out, nil
		}
		return nil, fmt.Errorf("dict: unexpected %v", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		return t.Float64()
	default:
		return t, nil
	}
}

// ToDict converts a foreign dict. Keys that are not str use str(key).
func (h *Host) ToDict(ctx context.Context, x Handle) (*Dict, error) {
	var out *Dict
	err := h.locked(ctx, func() error {
		r, err := h.deref(x, errors.PhaseMarshal)
		if err != nil {
			return err
		}
		if h.api.TypeOf(r) != gymbridge.TypeDict {
			return h.mismatch(r, "*python.Dict")
		}
		out, err = h.toDict(r, 0)
		return err
	})
	return out, err
}

func (h *Host) toDict(r gymbridge.Ref, depth int) (*Dict, error) {
	d := NewDict()
	pos := 0
	for {
		k, v, ok := h.api.DictNext(r, &pos)
		if !ok {
			break
		}
		key, err := h.key(k)
		if err != nil {
			return nil, err
		}
		val, err := h.toGo(v, depth+1)
		if err != nil {
			return nil, err
		}
		d.Set(key, val)
	}
	return d, nil
}

func (h *Host) key(k gymbridge.Ref) (string, error) {
	if h.api.TypeOf(k) == gymbridge.TypeStr {
		if s, ok := h.api.AsString(k); ok {
			return s, nil
		}
		return "", h.check(errors.PhaseMarshal)
	}
	return h.str(Borrowed{ref: k})
}

// toGo converts r to its natural Go value. Values with no Go form, and
// values whose conversion raises, fall back to str().
func (h *Host) toGo(r gymbridge.Ref, depth int) (any, error) {
	if depth > maxDepth {
		return h.str(Borrowed{ref: r})
	}
	switch h.api.TypeOf(r) {
	case gymbridge.TypeNone:
		return nil, nil
	case gymbridge.TypeBool:
		return h.api.IsTrue(r) == 1, nil
	case gymbridge.TypeInt:
		v := h.api.AsInt64(r)
		if h.api.ErrOccurred() {
			h.api.ErrClear()
			return h.str(Borrowed{ref: r})
		}
		return v, nil
	case gymbridge.TypeFloat:
		return h.api.AsFloat64(r), h.check(errors.PhaseMarshal)
	case gymbridge.TypeStr:
		s, ok := h.api.AsString(r)
		if !ok {
			return nil, h.check(errors.PhaseMarshal)
		}
		return s, nil
	case gymbridge.TypeBytes, gymbridge.TypeByteArray:
		v := h.api.GetBuffer(r)
		if v == nil {
			return nil, h.check(errors.PhaseMarshal)
		}
		b := append([]byte(nil), v.Bytes()...)
		v.Release()
		return b, nil
	case gymbridge.TypeList, gymbridge.TypeTuple:
		return h.toSlice(r, depth)
	case gymbridge.TypeDict:
		return h.toDict(r, depth)
	}
	return h.toOther(r, depth)
}

func (h *Host) toSlice(r gymbridge.Ref, depth int) ([]any, error) {
	n := h.api.SequenceSize(r)
	if n < 0 {
		return nil, h.check(errors.PhaseMarshal)
	}
	out := make([]any, n)
	for i := range n {
		item := h.api.SequenceGetItem(r, i)
		if item == 0 {
			return nil, h.check(errors.PhaseMarshal)
		}
		v, err := h.toGo(item, depth+1)
		h.api.DecRef(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// toOther handles numpy scalars and arrays: arrays become nested slices,
// scalars numbers.
func (h *Host) toOther(r gymbridge.Ref, depth int) (any, error) {
	if h.api.HasAttr(r, "__array_interface__") && h.api.SequenceCheck(r) {
		if n := h.api.SequenceSize(r); n >= 0 {
			return h.toSlice(r, depth)
		}
		h.api.ErrClear()
	}
	if h.api.IndexCheck(r) {
		v := h.api.AsInt64(r)
		if !h.api.ErrOccurred() {
			return v, nil
		}
		h.api.ErrClear()
	}
	if h.api.NumberCheck(r) {
		v := h.api.AsFloat64(r)
		if !h.api.ErrOccurred() {
			return v, nil
		}
		h.api.ErrClear()
	}
	return h.str(Borrowed{ref: r})
}
