// Package value implements the engine's typed document-value model and the
// conversion of arbitrary Go host data into it.
//
// A Value is a closed variant: none, bool, int, float, str, datetime, array
// or dict. Host data is converted with Convert or ConvertBindings, which fail
// fast on the first unsupported value with a ConversionError that records
// the binding name, the path to the offending value and its Go type.
package value

import (
	"fmt"
	"sort"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindDatetime
	KindArray
	KindDict
)

// String returns the engine-side type name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "str"
	case KindDatetime:
		return "datetime"
	case KindArray:
		return "array"
	case KindDict:
		return "dictionary"
	default:
		return "unknown"
	}
}

// Value is an immutable document value. The zero Value is none.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	dt   Datetime
	arr  []Value
	dict map[string]Value
}

// None returns the none value.
func None() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Str returns a string value.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// DatetimeValue returns a datetime value.
func DatetimeValue(dt Datetime) Value { return Value{kind: KindDatetime, dt: dt} }

// Array returns an array value holding a copy of items.
func Array(items ...Value) Value {
	arr := make([]Value, len(items))
	copy(arr, items)
	return Value{kind: KindArray, arr: arr}
}

// Dict returns a dictionary value holding a copy of entries.
func Dict(entries map[string]Value) Value {
	dict := make(map[string]Value, len(entries))
	for k, v := range entries {
		dict[k] = v
	}
	return Value{kind: KindDict, dict: dict}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v is none.
func (v Value) IsNone() bool { return v.kind == KindNone }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer held by v.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float held by v.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsNumber returns v as a float64 for either numeric kind.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsDatetime returns the datetime held by v.
func (v Value) AsDatetime() (Datetime, bool) { return v.dt, v.kind == KindDatetime }

// Len returns the number of elements of an array or entries of a dict.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindDict:
		return len(v.dict)
	default:
		return 0
	}
}

// Index returns the i-th array element.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Get returns the dict entry for key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindDict {
		return Value{}, false
	}
	item, ok := v.dict[key]
	return item, ok
}

// Keys returns the dict keys in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindDict {
		return nil
	}
	keys := make([]string, 0, len(v.dict))
	for k := range v.dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns a copy of the array elements.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	out := make([]Value, len(v.arr))
	copy(out, v.arr)
	return out
}

// Equal reports deep equality. Int and Float are distinct kinds.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNone:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (v.f != v.f && o.f != o.f)
	case KindString:
		return v.s == o.s
	case KindDatetime:
		return v.dt == o.dt
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindDict:
		if len(v.dict) != len(o.dict) {
			return false
		}
		for k, item := range v.dict {
			other, ok := o.dict[k]
			if !ok || !item.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v as engine source code; see Repr.
func (v Value) String() string { return Repr(v) }

// Datetime carries whichever calendar fields were present on the host value.
// A value with no time of day is date-only; a value with no date is
// time-only. Offset is informational: the engine's datetime has no zone, so
// fields are kept as wall-clock values in the host's offset.
type Datetime struct {
	HasDate bool
	Year    int
	Month   int
	Day     int

	HasTime bool
	Hour    int
	Minute  int
	Second  int

	HasOffset     bool
	OffsetSeconds int
}

// DateOf returns a date-only Datetime.
func DateOf(year int, month time.Month, day int) Datetime {
	return Datetime{HasDate: true, Year: year, Month: int(month), Day: day}
}

// DatetimeOf returns a Datetime with date and time of day.
func DatetimeOf(year int, month time.Month, day, hour, minute, second int) Datetime {
	return Datetime{
		HasDate: true, Year: year, Month: int(month), Day: day,
		HasTime: true, Hour: hour, Minute: minute, Second: second,
	}
}

// TimeOf returns a time-only Datetime.
func TimeOf(hour, minute, second int) Datetime {
	return Datetime{HasTime: true, Hour: hour, Minute: minute, Second: second}
}

// FromTime converts t, keeping its wall-clock fields and UTC offset.
func FromTime(t time.Time) Datetime {
	_, offset := t.Zone()
	dt := DatetimeOf(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
	dt.HasOffset = true
	dt.OffsetSeconds = offset
	return dt
}

// Validate checks field ranges, including the day against the month length.
func (d Datetime) Validate() error {
	if !d.HasDate && !d.HasTime {
		return fmt.Errorf("datetime has neither date nor time")
	}
	if d.HasDate {
		if d.Month < 1 || d.Month > 12 {
			return fmt.Errorf("month %d out of range", d.Month)
		}
		last := time.Date(d.Year, time.Month(d.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
		if d.Day < 1 || d.Day > last {
			return fmt.Errorf("day %d out of range for %04d-%02d", d.Day, d.Year, d.Month)
		}
	}
	if d.HasTime {
		if d.Hour < 0 || d.Hour > 23 || d.Minute < 0 || d.Minute > 59 || d.Second < 0 || d.Second > 59 {
			return fmt.Errorf("time %02d:%02d:%02d out of range", d.Hour, d.Minute, d.Second)
		}
	}
	return nil
}

// String renders the datetime in ISO 8601 form.
func (d Datetime) String() string {
	var s string
	if d.HasDate {
		s = fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
	}
	if d.HasTime {
		if s != "" {
			s += "T"
		}
		s += fmt.Sprintf("%02d:%02d:%02d", d.Hour, d.Minute, d.Second)
	}
	return s
}
