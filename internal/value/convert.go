package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// MaxDepth bounds the nesting of converted host values so cyclic pointer
// graphs fail with an error instead of exhausting the stack.
const MaxDepth = 256

// RecordKindKey is the synthetic map key naming a record's kind. Go structs
// are converted as maps of their exported fields plus this key; maps may
// carry it explicitly.
const RecordKindKey = "__struct__"

// SupportedTypes is the fixed list of host types the converter accepts, in
// the order they are reported in errors.
var SupportedTypes = []string{
	"nil",
	"bool",
	"int",
	"uint",
	"float",
	"string",
	"json.Number",
	"slice",
	"array",
	"map[string]",
	"struct",
	"time.Time",
	"value.Date",
	"value.LocalDateTime",
	"value.TimeOfDay",
	"cty.Value",
	"value.Value",
}

// Date is a host calendar date with no time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// LocalDateTime is a host date and time of day without a UTC offset.
type LocalDateTime struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// TimeOfDay is a host time of day with no date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ConversionError reports the first host value that could not be converted.
type ConversionError struct {
	// Binding is the top-level variable name; empty for bare Convert calls.
	Binding string
	// Path leads from the binding to the rejected value.
	Path Path
	// TypeName is the Go type (or record kind) of the rejected value.
	TypeName string
	// Reason is set when the type is supported but the value is not, such
	// as an out-of-range date.
	Reason string
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	var b strings.Builder
	if e.Binding != "" {
		fmt.Fprintf(&b, "cannot convert variable %q: ", e.Binding)
	} else {
		b.WriteString("cannot convert value: ")
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, "invalid %s (%s)", e.TypeName, e.Reason)
	} else {
		fmt.Fprintf(&b, "unsupported type %s", e.TypeName)
	}
	location := e.Path.Render(e.Binding)
	if location == "" {
		location = "value"
	}
	fmt.Fprintf(&b, " at %s (%s); supported types: %s",
		location, e.Path.Describe(), strings.Join(SupportedTypes, ", "))
	return b.String()
}

// Convert converts a host value into a Value. path is the location of host
// within its enclosing binding and may be nil.
func Convert(host any, path Path) (Value, error) {
	c := converter{}
	return c.convert(host, path, 0)
}

// ConvertBindings converts every top-level binding. Names must be valid
// identifiers. Bindings are converted in sorted name order and the first
// failure is returned with its Binding set.
func ConvertBindings(bindings map[string]any) (map[string]Value, error) {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]Value, len(bindings))
	for _, name := range names {
		if !IsBindable(name) {
			return nil, &ConversionError{
				Binding:  name,
				TypeName: "variable name",
				Reason:   "not a valid identifier",
			}
		}
		v, err := Convert(bindings[name], nil)
		if err != nil {
			if ce, ok := err.(*ConversionError); ok {
				ce.Binding = name
			}
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

type converter struct{}

func reject(path Path, typeName, reason string) error {
	return &ConversionError{Path: path, TypeName: typeName, Reason: reason}
}

func (c converter) convert(host any, path Path, depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, reject(path, fmt.Sprintf("%T", host), "nesting exceeds maximum depth")
	}

	switch v := host.(type) {
	case nil:
		return None(), nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case string:
		return Str(v), nil
	case int:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case int32:
		return Int(int64(v)), nil
	case float64:
		return Float(v), nil
	case float32:
		return Float(float64(v)), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, reject(path, "json.Number", err.Error())
		}
		return Float(f), nil
	case time.Time:
		return DatetimeValue(FromTime(v)), nil
	case *time.Time:
		if v == nil {
			return None(), nil
		}
		return DatetimeValue(FromTime(*v)), nil
	case Date:
		return datetime(path, "value.Date", DateOf(v.Year, v.Month, v.Day))
	case LocalDateTime:
		return datetime(path, "value.LocalDateTime",
			DatetimeOf(v.Year, v.Month, v.Day, v.Hour, v.Minute, v.Second))
	case TimeOfDay:
		return datetime(path, "value.TimeOfDay", TimeOf(v.Hour, v.Minute, v.Second))
	case cty.Value:
		return c.convertCty(v, path, depth)
	case []any:
		return c.convertList(len(v), func(i int) any { return v[i] }, path, depth)
	case map[string]any:
		return c.convertMap(v, path, depth)
	}

	return c.convertReflect(reflect.ValueOf(host), path, depth)
}

func datetime(path Path, typeName string, dt Datetime) (Value, error) {
	if err := dt.Validate(); err != nil {
		return Value{}, reject(path, typeName, err.Error())
	}
	return DatetimeValue(dt), nil
}

func (c converter) convertList(n int, at func(int) any, path Path, depth int) (Value, error) {
	items := make([]Value, n)
	for i := 0; i < n; i++ {
		item, err := c.convert(at(i), path.Append(Index(i)), depth+1)
		if err != nil {
			return Value{}, err
		}
		items[i] = item
	}
	return Value{kind: KindArray, arr: items}, nil
}

func (c converter) convertMap(m map[string]any, path Path, depth int) (Value, error) {
	if kind, ok := m[RecordKindKey]; ok {
		if name, ok := kind.(string); ok {
			return c.convertRecord(name, m, path, depth)
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dict := make(map[string]Value, len(m))
	for _, k := range keys {
		item, err := c.convert(m[k], path.Append(Key(k)), depth+1)
		if err != nil {
			return Value{}, err
		}
		dict[k] = item
	}
	return Value{kind: KindDict, dict: dict}, nil
}

// Record kinds that name calendar values, with their required fields. Go
// structs never match since their kind is package-qualified.
var (
	dateFields     = []string{"year", "month", "day"}
	datetimeFields = []string{"year", "month", "day", "hour", "minute", "second"}
	timeFields     = []string{"hour", "minute", "second"}

	calendarKinds = map[string][]string{
		"Date":          dateFields,
		"DateTime":      datetimeFields,
		"NaiveDateTime": datetimeFields,
		"Time":          timeFields,
	}
)

// convertRecord handles maps carrying a record kind. A calendar kind with all
// of its fields becomes a datetime; anything else becomes a dict without the
// kind key.
func (c converter) convertRecord(kind string, fields map[string]any, path Path, depth int) (Value, error) {
	if names, ok := calendarKinds[kind]; ok && hasFields(fields, names) {
		f, err := recordInts(fields, path, names...)
		if err != nil {
			return Value{}, err
		}
		switch kind {
		case "Date":
			return datetime(path, kind, DateOf(f[0], time.Month(f[1]), f[2]))
		case "Time":
			return datetime(path, kind, TimeOf(f[0], f[1], f[2]))
		default:
			return datetime(path, kind, DatetimeOf(f[0], time.Month(f[1]), f[2], f[3], f[4], f[5]))
		}
	}

	rest := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != RecordKindKey {
			rest[k] = v
		}
	}
	return c.convertMap(rest, path, depth)
}

func hasFields(fields map[string]any, names []string) bool {
	for _, name := range names {
		if _, ok := lookupFold(fields, name); !ok {
			return false
		}
	}
	return true
}

// recordInts extracts integer fields, matching names case-insensitively so
// both "year" and "Year" keys work.
func recordInts(fields map[string]any, path Path, names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		raw, _ := lookupFold(fields, name)
		n, ok := asInt(raw)
		if !ok {
			return nil, reject(path.Append(Key(name)), fmt.Sprintf("%T", raw), "record field is not an integer")
		}
		out[i] = n
	}
	return out, nil
}

func lookupFold(fields map[string]any, name string) (any, bool) {
	if v, ok := fields[name]; ok {
		return v, true
	}
	for k, v := range fields {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func asInt(v any) (int, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == math.Trunc(f) {
			return int(f), true
		}
	}
	return 0, false
}

func (c converter) convertReflect(rv reflect.Value, path Path, depth int) (Value, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Float(float64(u)), nil
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return Str(rv.String()), nil
	case reflect.Slice:
		if rv.IsNil() {
			return Array(), nil
		}
		return c.convertList(rv.Len(), func(i int) any { return rv.Index(i).Interface() }, path, depth)
	case reflect.Array:
		return c.convertList(rv.Len(), func(i int) any { return rv.Index(i).Interface() }, path, depth)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, reject(path, rv.Type().String(), "")
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return c.convertMap(m, path, depth)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return None(), nil
		}
		elem := rv.Elem()
		if elem.Kind() == reflect.Struct && !hasExportedFields(elem.Type()) {
			return Value{}, reject(path, rv.Type().String(), "")
		}
		return c.convert(elem.Interface(), path, depth+1)
	case reflect.Struct:
		if !hasExportedFields(rv.Type()) {
			return Value{}, reject(path, rv.Type().String(), "")
		}
		return c.convertMap(structFields(rv), path, depth)
	}

	if !rv.IsValid() {
		return None(), nil
	}
	return Value{}, reject(path, rv.Type().String(), "")
}

func hasExportedFields(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() {
			return true
		}
	}
	return false
}

// structFields returns the exported fields keyed by their `typst` tag or
// field name, plus the record kind key set to the struct's qualified type
// name.
func structFields(rv reflect.Value) map[string]any {
	t := rv.Type()
	m := make(map[string]any, t.NumField()+1)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("typst"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		m[name] = rv.Field(i).Interface()
	}
	m[RecordKindKey] = structKind(t)
	return m
}

func structKind(t reflect.Type) string {
	if t.Name() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
