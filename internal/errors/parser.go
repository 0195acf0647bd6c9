package errors

import (
	"regexp"
	"strconv"
	"strings"
)

// DiagnosticParser parses the engine's short diagnostic output into
// structured diagnostics.
type DiagnosticParser struct {
	patterns []diagnosticPattern
}

type diagnosticPattern struct {
	regex       *regexp.Regexp
	parseFields func(matches []string) Diagnostic
}

var (
	hintPattern = regexp.MustCompile(`^\s*(?:hint|help): (.+)$`)

	defaultParser = NewDiagnosticParser()
)

// NewDiagnosticParser creates a new diagnostic parser
func NewDiagnosticParser() *DiagnosticParser {
	return &DiagnosticParser{patterns: buildDiagnosticPatterns()}
}

// ParseDiagnostics parses output with the default parser.
func ParseDiagnostics(output string) DiagnosticList {
	return defaultParser.Parse(output)
}

// Parse parses engine output into diagnostics. Hint lines attach to the
// diagnostic preceding them; lines that match no pattern are ignored.
func (p *DiagnosticParser) Parse(output string) DiagnosticList {
	var diags DiagnosticList

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if m := hintPattern.FindStringSubmatch(line); m != nil {
			if len(diags) > 0 {
				last := &diags[len(diags)-1]
				last.Hints = append(last.Hints, strings.TrimSpace(m[1]))
			}
			continue
		}

		for _, pattern := range p.patterns {
			if m := pattern.regex.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				diags = append(diags, pattern.parseFields(m))
				break
			}
		}
	}

	return diags
}

func parseSeverity(s string) Severity {
	if strings.EqualFold(s, "warning") {
		return SeverityWarning
	}
	return SeverityError
}

func buildDiagnosticPatterns() []diagnosticPattern {
	return []diagnosticPattern{
		{
			regex: regexp.MustCompile(`^(.+?):(\d+):(\d+): (error|warning): (.+)$`),
			parseFields: func(m []string) Diagnostic {
				line, _ := strconv.Atoi(m[2])
				column, _ := strconv.Atoi(m[3])
				return Diagnostic{
					Severity: parseSeverity(m[4]),
					File:     m[1],
					Line:     line,
					Column:   column,
					Message:  m[5],
				}
			},
		},
		{
			regex: regexp.MustCompile(`^(.+?): (error|warning): (.+)$`),
			parseFields: func(m []string) Diagnostic {
				return Diagnostic{Severity: parseSeverity(m[2]), File: m[1], Message: m[3]}
			},
		},
		{
			regex: regexp.MustCompile(`^(error|warning): (.+)$`),
			parseFields: func(m []string) Diagnostic {
				return Diagnostic{Severity: parseSeverity(m[1]), Message: m[2]}
			},
		},
	}
}
