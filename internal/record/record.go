// Package record is the in-memory attribute tree the anonymizer works on.
//
// A Record is an ordered-by-tag list of elements. Leaves hold text, raw
// bytes or an opaque payload; sequence elements hold nested Records.
package record

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Element is one attribute of a Record.
type Element struct {
	Tag   tag.Tag
	VR    string
	Value Value
}

// NewString builds a textual element.
func NewString(t tag.Tag, vr string, vals ...string) *Element {
	return &Element{Tag: t, VR: vr, Value: StringsValue(vals...)}
}

// NewBytes builds a binary element.
func NewBytes(t tag.Tag, vr string, raw []byte) *Element {
	return &Element{Tag: t, VR: vr, Value: BytesValue(raw)}
}

// NewSequence builds a sequence element.
func NewSequence(t tag.Tag, items ...*Record) *Element {
	return &Element{Tag: t, VR: "SQ", Value: SequenceValue(items...)}
}

// IsSequence reports whether the element holds nested items.
func (e *Element) IsSequence() bool { return e.Value.kind == KindSequence }

// Strings returns the textual values of the element.
func (e *Element) Strings() []string { return e.Value.Strings() }

// First returns the first textual value, or "".
func (e *Element) First() string {
	vals := e.Value.Strings()
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// SetStrings assigns new textual values after checking them against the VR.
// Binary elements receive the joined text as raw bytes.
func (e *Element) SetStrings(vals ...string) error {
	switch e.Value.kind {
	case KindStrings:
		for _, v := range vals {
			if err := ValidateValue(e.VR, v); err != nil {
				return errors.Wrapf(err, "tag %s", e.Tag)
			}
		}
		e.Value.strings = vals
		return nil
	case KindBytes:
		e.Value.raw = PadEven([]byte(strings.Join(vals, `\`)), 0)
		return nil
	default:
		if allEmpty(vals) {
			e.Clear()
			return nil
		}
		return errors.Wrapf(ErrWrongKind, "set strings on %s element %s", e.Value.kind, e.Tag)
	}
}

// ReplaceRaw patches the raw buffer of a binary element in place.
func (e *Element) ReplaceRaw(raw []byte) error {
	return e.Value.ReplaceRaw(raw)
}

// Clear empties the element's value.
func (e *Element) Clear() { e.Value.clear() }

func (e *Element) String() string {
	return fmt.Sprintf("%s %s %s", e.Tag, e.VR, e.Value.kind)
}

// Record is an ordered-by-tag list of elements.
type Record struct {
	elements []*Element
}

// New builds a Record from elements, sorting them by tag. A later element
// replaces an earlier one with the same tag.
func New(elems ...*Element) *Record {
	r := &Record{}
	for _, e := range elems {
		r.Put(e)
	}
	return r
}

// Elements returns the elements in tag order. The slice must not be modified.
func (r *Record) Elements() []*Element { return r.elements }

// Len returns the number of elements.
func (r *Record) Len() int { return len(r.elements) }

func (r *Record) search(t tag.Tag) int {
	return sort.Search(len(r.elements), func(i int) bool {
		return !Less(r.elements[i].Tag, t)
	})
}

// Find returns the element with tag t.
func (r *Record) Find(t tag.Tag) (*Element, bool) {
	i := r.search(t)
	if i < len(r.elements) && r.elements[i].Tag == t {
		return r.elements[i], true
	}
	return nil, false
}

// GetString returns the first textual value of t, or "".
func (r *Record) GetString(t tag.Tag) string {
	e, ok := r.Find(t)
	if !ok {
		return ""
	}
	return e.First()
}

// Put inserts e, replacing any element with the same tag.
func (r *Record) Put(e *Element) {
	i := r.search(e.Tag)
	if i < len(r.elements) && r.elements[i].Tag == e.Tag {
		r.elements[i] = e
		return
	}
	r.elements = append(r.elements, nil)
	copy(r.elements[i+1:], r.elements[i:])
	r.elements[i] = e
}

// Remove deletes the element with tag t.
func (r *Record) Remove(t tag.Tag) bool {
	i := r.search(t)
	if i < len(r.elements) && r.elements[i].Tag == t {
		r.elements = append(r.elements[:i], r.elements[i+1:]...)
		return true
	}
	return false
}

// Less orders tags by group then element.
func Less(a, b tag.Tag) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.Element < b.Element
}

// PadEven pads b with pad to an even length, as DICOM requires.
func PadEven(b []byte, pad byte) []byte {
	if len(b)%2 == 1 {
		return append(b, pad)
	}
	return b
}

func allEmpty(vals []string) bool {
	for _, v := range vals {
		if v != "" {
			return false
		}
	}
	return true
}
