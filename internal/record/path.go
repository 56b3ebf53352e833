package record

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Step is one hop in a Path: an element, optionally inside a sequence item.
type Step struct {
	Tag  tag.Tag
	Item int // -1 for the leaf itself
}

// Path addresses an element within nested sequences.
type Path []Step

// Child returns p extended by a leaf step for t.
func (p Path) Child(t tag.Tag) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Step{Tag: t, Item: -1})
}

// Item returns p with its last step pointing into sequence item i.
func (p Path) Item(i int) Path {
	out := make(Path, len(p))
	copy(out, p)
	out[len(out)-1].Item = i
	return out
}

// String renders p like "(0008,1115)[0].(0008,1155)".
func (p Path) String() string {
	var sb strings.Builder
	for i, s := range p {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(s.Tag.String())
		if s.Item >= 0 {
			fmt.Fprintf(&sb, "[%d]", s.Item)
		}
	}
	return sb.String()
}
