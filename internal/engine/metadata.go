package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/conneroisu/typster/internal/value"
)

// DateMode selects how the document date is set.
type DateMode int

const (
	// DateAuto uses the export-time clock.
	DateAuto DateMode = iota
	// DateNone removes the date.
	DateNone
	// DateExplicit uses Date.Value.
	DateExplicit
)

// DateSetting is the metadata date.
type DateSetting struct {
	Mode  DateMode
	Value time.Time
	// DateOnly drops the time of day from Value.
	DateOnly bool
}

// ParseDate accepts "auto", "none", an ISO date (2006-01-02) or an RFC 3339
// timestamp.
func ParseDate(s string) (DateSetting, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DateSetting{Mode: DateAuto}, nil
	case "none":
		return DateSetting{Mode: DateNone}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return DateSetting{Mode: DateExplicit, Value: t, DateOnly: true}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateSetting{Mode: DateExplicit, Value: t}, nil
	}
	return DateSetting{}, fmt.Errorf("invalid date %q: want auto, none, YYYY-MM-DD or RFC 3339", s)
}

// Metadata is the PDF document information.
type Metadata struct {
	Title       string
	Author      string
	Description string
	Keywords    []string
	Date        DateSetting
}

// SplitKeywords splits a comma-separated keyword list, dropping blanks.
func SplitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Prelude renders the metadata as a single `#set document(...)` line,
// resolving an automatic date from now. It returns "" for nil metadata.
func (m *Metadata) Prelude(now time.Time) string {
	if m == nil {
		return ""
	}

	var args []string
	if m.Title != "" {
		args = append(args, "title: "+value.Repr(value.Str(m.Title)))
	}
	if m.Author != "" {
		args = append(args, "author: "+value.Repr(value.Str(m.Author)))
	}
	if m.Description != "" {
		args = append(args, "description: "+value.Repr(value.Str(m.Description)))
	}
	if len(m.Keywords) > 0 {
		items := make([]value.Value, len(m.Keywords))
		for i, k := range m.Keywords {
			items[i] = value.Str(k)
		}
		args = append(args, "keywords: "+value.Repr(value.Array(items...)))
	}

	switch m.Date.Mode {
	case DateNone:
		args = append(args, "date: none")
	case DateExplicit:
		dt := value.FromTime(m.Date.Value)
		if m.Date.DateOnly {
			dt = value.DateOf(dt.Year, time.Month(dt.Month), dt.Day)
		}
		args = append(args, "date: "+value.Repr(value.DatetimeValue(dt)))
	default:
		args = append(args, "date: "+value.Repr(value.DatetimeValue(value.FromTime(now))))
	}

	return "#set document(" + strings.Join(args, ", ") + ")\n"
}
