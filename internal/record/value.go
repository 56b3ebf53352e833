package record

import (
	"github.com/cockroachdb/errors"
)

// Kind discriminates the variants a Value can hold.
type Kind int

const (
	// KindStrings is a (possibly multi-valued) textual leaf.
	KindStrings Kind = iota
	// KindBytes is an opaque or binary leaf (OB, OW, UN).
	KindBytes
	// KindSequence holds nested sequence items.
	KindSequence
	// KindOpaque carries a payload the anonymizer never interprets
	// (numbers, pixel data). It passes through unchanged.
	KindOpaque
)

func (k Kind) String() string {
	switch k {
	case KindStrings:
		return "strings"
	case KindBytes:
		return "bytes"
	case KindSequence:
		return "sequence"
	case KindOpaque:
		return "opaque"
	default:
		return "unknown"
	}
}

// ErrWrongKind is returned when an operation does not apply to the value's kind.
var ErrWrongKind = errors.New("operation not supported for value kind")

// Value is a tagged variant holding one of the Kind payloads.
type Value struct {
	kind    Kind
	strings []string
	raw     []byte
	items   []*Record
	native  any
}

// StringsValue builds a textual value.
func StringsValue(vals ...string) Value {
	return Value{kind: KindStrings, strings: vals}
}

// BytesValue builds a binary value.
func BytesValue(raw []byte) Value {
	return Value{kind: KindBytes, raw: raw}
}

// SequenceValue builds a sequence of nested records.
func SequenceValue(items ...*Record) Value {
	return Value{kind: KindSequence, items: items}
}

// OpaqueValue wraps a payload the core does not interpret.
func OpaqueValue(native any) Value {
	return Value{kind: KindOpaque, native: native}
}

// Kind returns the variant held.
func (v Value) Kind() Kind { return v.kind }

// Strings returns the textual values, nil for other kinds.
func (v Value) Strings() []string {
	if v.kind != KindStrings {
		return nil
	}
	return v.strings
}

// Bytes returns the raw buffer, nil for other kinds.
func (v Value) Bytes() []byte {
	if v.kind != KindBytes {
		return nil
	}
	return v.raw
}

// Items returns the nested records of a sequence.
func (v Value) Items() []*Record {
	if v.kind != KindSequence {
		return nil
	}
	return v.items
}

// Native returns the payload of an opaque value.
func (v Value) Native() any {
	if v.kind != KindOpaque {
		return nil
	}
	return v.native
}

// IsEmpty reports whether the value carries no data.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindStrings:
		for _, s := range v.strings {
			if s != "" {
				return false
			}
		}
		return true
	case KindBytes:
		return len(v.raw) == 0
	case KindSequence:
		return len(v.items) == 0
	default:
		return v.native == nil
	}
}

// ReplaceRaw swaps the raw buffer of a binary value without re-encoding.
func (v *Value) ReplaceRaw(raw []byte) error {
	if v.kind != KindBytes {
		return errors.Wrapf(ErrWrongKind, "replace raw bytes on %s value", v.kind)
	}
	v.raw = raw
	return nil
}

// clear empties the payload, keeping the kind.
func (v *Value) clear() {
	switch v.kind {
	case KindStrings:
		v.strings = []string{}
	case KindBytes:
		v.raw = []byte{}
	case KindSequence:
		v.items = nil
	default:
		v.native = nil
	}
}
