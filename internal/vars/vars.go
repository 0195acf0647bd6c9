// Package vars loads template variables from files and command-line
// assignments.
//
// Supported files, chosen by extension:
//
//	.json         numbers keep their integer or float form
//	.yaml, .yml   timestamps stay strings
//	.hcl          attributes only; expressions are evaluated without functions
//	.toml         local dates and times become datetimes
//
// The top level of every file must be a mapping from variable names to
// values.
package vars

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/typster/internal/value"
)

// Extensions lists the recognized variables file extensions.
var Extensions = []string{".json", ".yaml", ".yml", ".hcl", ".toml"}

// LoadFile reads the variables in path.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vars, err := Parse(filepath.Base(path), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vars, nil
}

// Parse decodes data in the format implied by name's extension.
func Parse(name string, data []byte) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return parseJSON(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	case ".hcl":
		return parseHCL(name, data)
	case ".toml":
		return parseTOML(data)
	default:
		return nil, fmt.Errorf("unsupported variables file %q (supported: %s)", name, strings.Join(Extensions, ", "))
	}
}

func parseJSON(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var top any
	if err := dec.Decode(&top); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after the top-level value")
	}
	m, ok := top.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top level must be an object, got %T", top)
	}
	return m, nil
}

func parseYAML(data []byte) (map[string]any, error) {
	var top any
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	if top == nil {
		return map[string]any{}, nil
	}
	m, ok := top.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top level must be a mapping with string keys, got %T", top)
	}
	return m, nil
}

func parseHCL(name string, data []byte) (map[string]any, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, name)
	if diags.HasErrors() {
		return nil, diags
	}
	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	out := make(map[string]any, len(attrs))
	for attrName, attr := range attrs {
		v, diags := attr.Expr.Value(&hcl.EvalContext{})
		if diags.HasErrors() {
			return nil, diags
		}
		out[attrName] = v
	}
	return out, nil
}

func parseTOML(data []byte) (map[string]any, error) {
	var top map[string]any
	if err := toml.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	for k, v := range top {
		top[k] = fromTOML(v)
	}
	return top, nil
}

// fromTOML maps go-toml local date and time types onto calendar values.
func fromTOML(v any) any {
	switch t := v.(type) {
	case toml.LocalDate:
		return value.Date{Year: t.Year, Month: time.Month(t.Month), Day: t.Day}
	case toml.LocalTime:
		return value.TimeOfDay{Hour: t.Hour, Minute: t.Minute, Second: t.Second}
	case toml.LocalDateTime:
		return value.LocalDateTime{
			Year: t.Year, Month: time.Month(t.Month), Day: t.Day,
			Hour: t.Hour, Minute: t.Minute, Second: t.Second,
		}
	case map[string]any:
		for k, item := range t {
			t[k] = fromTOML(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = fromTOML(item)
		}
		return t
	default:
		return v
	}
}

// ParseAssignment splits "name=value". A value that parses as JSON keeps
// its JSON type; anything else is a string.
func ParseAssignment(s string) (string, any, error) {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid variable %q (expected name=value)", s)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil {
		if _, err := dec.Token(); err == io.EOF {
			return name, v, nil
		}
	}
	return name, raw, nil
}

// Load merges files in order, then assignments. Later sources override
// earlier ones by top-level name.
func Load(files, assignments []string) (map[string]any, error) {
	out := map[string]any{}
	for _, f := range files {
		vars, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		for k, v := range vars {
			out[k] = v
		}
	}
	for _, a := range assignments {
		name, v, err := ParseAssignment(a)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// Names returns the sorted variable names.
func Names(vars map[string]any) []string {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
