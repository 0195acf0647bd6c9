package errors

import (
	"fmt"
	"strings"
)

// Severity represents the severity of a diagnostic
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Diagnostic is a single engine-reported message with an optional source span.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Message  string   `json:"message"`
	Hints    []string `json:"hints,omitempty"`
}

// Error implements the error interface
func (d Diagnostic) Error() string {
	return d.String()
}

// String renders the diagnostic as "file:line:col: severity: message".
func (d Diagnostic) String() string {
	var b strings.Builder
	if d.File != "" {
		b.WriteString(d.File)
		if d.Line > 0 {
			fmt.Fprintf(&b, ":%d", d.Line)
			if d.Column > 0 {
				fmt.Fprintf(&b, ":%d", d.Column)
			}
		}
		b.WriteString(": ")
	}
	b.WriteString(d.Severity.String())
	b.WriteString(": ")
	b.WriteString(d.Message)
	for _, hint := range d.Hints {
		b.WriteString(" (hint: ")
		b.WriteString(hint)
		b.WriteString(")")
	}
	return b.String()
}

// DiagnosticList is an ordered list of diagnostics. As an error it is only
// ever returned non-empty.
type DiagnosticList []Diagnostic

// Error joins every diagnostic into one message.
func (l DiagnosticList) Error() string {
	return strings.Join(l.Strings(), "; ")
}

// Strings renders every diagnostic in order.
func (l DiagnosticList) Strings() []string {
	out := make([]string, len(l))
	for i, d := range l {
		out[i] = d.String()
	}
	return out
}

// Errors returns only the error-severity diagnostics.
func (l DiagnosticList) Errors() DiagnosticList {
	return l.filter(SeverityError)
}

// Warnings returns only the warning-severity diagnostics.
func (l DiagnosticList) Warnings() DiagnosticList {
	return l.filter(SeverityWarning)
}

// HasErrors returns true if any diagnostic has error severity
func (l DiagnosticList) HasErrors() bool {
	for _, d := range l {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (l DiagnosticList) filter(s Severity) DiagnosticList {
	var out DiagnosticList
	for _, d := range l {
		if d.Severity == s {
			out = append(out, d)
		}
	}
	return out
}

// ShiftLines moves diagnostics located in file up by n lines, to account for
// generated prelude lines prepended to the source. Diagnostics that land
// inside the prelude are re-attributed to preludeName with no line.
func (l DiagnosticList) ShiftLines(file string, n int, preludeName string) DiagnosticList {
	if n == 0 {
		return l
	}
	out := make(DiagnosticList, len(l))
	for i, d := range l {
		if d.File == file && d.Line > 0 {
			d.Line -= n
			if d.Line <= 0 {
				d.File = preludeName
				d.Line = 0
				d.Column = 0
			}
		}
		out[i] = d
	}
	return out
}
