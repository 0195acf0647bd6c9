package value

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Repr renders v as an engine source expression that evaluates back to v.
// The output never contains a newline.
func Repr(v Value) string {
	var b strings.Builder
	writeRepr(&b, v)
	return b.String()
}

func writeRepr(b *strings.Builder, v Value) {
	switch v.kind {
	case KindNone:
		b.WriteString("none")
	case KindBool:
		b.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		if v.i == math.MinInt64 {
			// The literal's magnitude does not fit in an int.
			b.WriteString("(-9223372036854775807 - 1)")
			return
		}
		b.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		b.WriteString(formatFloat(v.f))
	case KindString:
		writeString(b, v.s)
	case KindDatetime:
		writeDatetime(b, v.dt)
	case KindArray:
		b.WriteByte('(')
		for i, item := range v.arr {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, item)
		}
		if len(v.arr) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	case KindDict:
		if len(v.dict) == 0 {
			b.WriteString("(:)")
			return
		}
		b.WriteByte('(')
		for i, k := range v.Keys() {
			if i > 0 {
				b.WriteString(", ")
			}
			writeString(b, k)
			b.WriteString(": ")
			writeRepr(b, v.dict[k])
		}
		b.WriteByte(')')
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "float.nan"
	case math.IsInf(f, 1):
		return "float.inf"
	case math.IsInf(f, -1):
		return "-float.inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	s = strings.Replace(s, "e+", "e", 1)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f || r == 0x2028 || r == 0x2029 {
				b.WriteString(`\u{`)
				b.WriteString(strconv.FormatInt(int64(r), 16))
				b.WriteByte('}')
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

func writeDatetime(b *strings.Builder, d Datetime) {
	b.WriteString("datetime(")
	var fields []string
	if d.HasDate {
		fields = append(fields,
			"year: "+strconv.Itoa(d.Year),
			"month: "+strconv.Itoa(d.Month),
			"day: "+strconv.Itoa(d.Day))
	}
	if d.HasTime {
		fields = append(fields,
			"hour: "+strconv.Itoa(d.Hour),
			"minute: "+strconv.Itoa(d.Minute),
			"second: "+strconv.Itoa(d.Second))
	}
	b.WriteString(strings.Join(fields, ", "))
	b.WriteByte(')')
}

// Prelude renders bindings as source, one `#let name = expr` line per
// binding in sorted name order. The result ends with a newline unless it is
// empty, and has exactly len(bindings) lines.
func Prelude(bindings map[string]Value) string {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString("#let ")
		b.WriteString(name)
		b.WriteString(" = ")
		writeRepr(&b, bindings[name])
		b.WriteByte('\n')
	}
	return b.String()
}
