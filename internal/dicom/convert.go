package dicom

import (
	"github.com/cockroachdb/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom-cleaner/internal/record"
)

// FromDataset converts a parsed dataset into a record. Text, bytes and
// sequences become editable values; numbers and pixel data are carried as
// opaque values and written back untouched.
func FromDataset(ds dicom.Dataset) (*record.Record, error) {
	return fromElements(ds.Elements)
}

func fromElements(elems []*dicom.Element) (*record.Record, error) {
	rec := record.New()
	for _, e := range elems {
		re, err := fromElement(e)
		if err != nil {
			return nil, err
		}
		rec.Put(re)
	}
	return rec, nil
}

func fromElement(e *dicom.Element) (*record.Element, error) {
	out := &record.Element{Tag: e.Tag, VR: e.RawValueRepresentation}
	if e.Value == nil {
		out.Value = record.StringsValue()
		return out, nil
	}

	switch e.Value.ValueType() {
	case dicom.Strings:
		vals, _ := e.Value.GetValue().([]string)
		out.Value = record.StringsValue(append([]string(nil), vals...)...)

	case dicom.Bytes:
		raw, _ := e.Value.GetValue().([]byte)
		out.Value = record.BytesValue(append([]byte(nil), raw...))

	case dicom.Sequences:
		seqItems, _ := e.Value.GetValue().([]*dicom.SequenceItemValue)
		items := make([]*record.Record, 0, len(seqItems))
		for i, item := range seqItems {
			elems, _ := item.GetValue().([]*dicom.Element)
			child, err := fromElements(elems)
			if err != nil {
				return nil, errors.Wrapf(err, "%s item %d", e.Tag, i)
			}
			items = append(items, child)
		}
		out.Value = record.SequenceValue(items...)
		if out.VR == "" {
			out.VR = "SQ"
		}

	default:
		out.Value = record.OpaqueValue(e.Value)
	}
	return out, nil
}

// ToDataset converts a record back into a dataset for writing.
func ToDataset(rec *record.Record) (dicom.Dataset, error) {
	elems, err := toElements(rec)
	if err != nil {
		return dicom.Dataset{}, err
	}
	return dicom.Dataset{Elements: elems}, nil
}

func toElements(rec *record.Record) ([]*dicom.Element, error) {
	elems := make([]*dicom.Element, 0, rec.Len())
	for _, e := range rec.Elements() {
		de, err := toElement(e)
		if err != nil {
			return nil, err
		}
		elems = append(elems, de)
	}
	return elems, nil
}

func toElement(e *record.Element) (*dicom.Element, error) {
	var (
		data   any
		length uint32
	)

	switch e.Value.Kind() {
	case record.KindStrings:
		vals := e.Value.Strings()
		data = vals
		length = stringsLength(vals)

	case record.KindBytes:
		raw := e.Value.Bytes()
		data = raw
		length = uint32(len(raw))

	case record.KindSequence:
		items := make([][]*dicom.Element, 0, len(e.Value.Items()))
		for i, item := range e.Value.Items() {
			elems, err := toElements(item)
			if err != nil {
				return nil, errors.Wrapf(err, "%s item %d", e.Tag, i)
			}
			items = append(items, elems)
		}
		data = items
		length = tag.VLUndefinedLength

	case record.KindOpaque:
		if v, ok := e.Value.Native().(dicom.Value); ok {
			return &dicom.Element{
				Tag:                    e.Tag,
				ValueRepresentation:    tag.GetVRKind(e.Tag, e.VR),
				RawValueRepresentation: e.VR,
				ValueLength:            opaqueLength(v),
				Value:                  v,
			}, nil
		}
		// Cleared opaque value.
		data = []int{}
	}

	value, err := dicom.NewValue(data)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create value for %s", e.Tag)
	}

	return &dicom.Element{
		Tag:                    e.Tag,
		ValueRepresentation:    tag.GetVRKind(e.Tag, e.VR),
		RawValueRepresentation: e.VR,
		ValueLength:            length,
		Value:                  value,
	}, nil
}

// stringsLength is the encoded length of vals joined by backslashes.
func stringsLength(vals []string) uint32 {
	n := 0
	for i, v := range vals {
		if i > 0 {
			n++
		}
		n += len(v)
	}
	if n%2 == 1 {
		n++
	}
	return uint32(n)
}

func opaqueLength(v dicom.Value) uint32 {
	if v.ValueType() == dicom.PixelData {
		if info, ok := v.GetValue().(dicom.PixelDataInfo); ok && info.IsEncapsulated {
			return tag.VLUndefinedLength
		}
	}
	return 0
}
