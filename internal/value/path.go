package value

import (
	"strconv"
	"strings"
	"unicode"
)

// SegmentKind distinguishes map-key steps from array-index steps.
type SegmentKind int

const (
	SegmentKey SegmentKind = iota
	SegmentIndex
)

// Segment is one step of a Path.
type Segment struct {
	Kind  SegmentKind
	Key   string
	Index int
}

// Key returns a map-key segment.
func Key(k string) Segment { return Segment{Kind: SegmentKey, Key: k} }

// Index returns an array-index segment.
func Index(i int) Segment { return Segment{Kind: SegmentIndex, Index: i} }

// String renders the segment as `key "k"` or `index i`.
func (s Segment) String() string {
	if s.Kind == SegmentIndex {
		return "index " + strconv.Itoa(s.Index)
	}
	return "key " + strconv.Quote(s.Key)
}

// Path is the sequence of segments leading from a binding to a nested value.
// Paths are values: Append never modifies the receiver's backing array.
type Path []Segment

// Append returns a new path with seg added.
func (p Path) Append(seg Segment) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

// Prepend returns a new path with seg added at the front.
func (p Path) Prepend(seg Segment) Path {
	out := make(Path, 0, len(p)+1)
	out = append(out, seg)
	return append(out, p...)
}

// Describe renders the segments as `key "user" > index 2`, or "top level"
// for an empty path.
func (p Path) Describe() string {
	if len(p) == 0 {
		return "top level"
	}
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = seg.String()
	}
	return strings.Join(parts, " > ")
}

// Render renders the path below root in dotted/bracketed form, such as
// `user.address.city`, `items[2]` or `labels["two words"]`.
func (p Path) Render(root string) string {
	var b strings.Builder
	b.WriteString(root)
	for _, seg := range p {
		switch {
		case seg.Kind == SegmentIndex:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
		case IsIdentifier(seg.Key):
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(seg.Key)
		default:
			b.WriteByte('[')
			b.WriteString(strconv.Quote(seg.Key))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// IsIdentifier reports whether s is a valid engine identifier: a letter or
// underscore followed by letters, digits, underscores or hyphens.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)):
		default:
			return false
		}
	}
	return true
}

var keywords = map[string]bool{
	"none": true, "auto": true, "true": true, "false": true,
	"not": true, "and": true, "or": true, "let": true, "set": true,
	"show": true, "context": true, "if": true, "else": true, "for": true,
	"in": true, "while": true, "break": true, "continue": true,
	"return": true, "import": true, "include": true, "as": true,
}

// IsBindable reports whether name can be bound as a top-level variable.
func IsBindable(name string) bool {
	return IsIdentifier(name) && !keywords[name]
}
