package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDiagnostics(t *testing.T) {
	testCases := []struct {
		name     string
		output   string
		expected DiagnosticList
	}{
		{
			name:   "located error",
			output: "<stdin>:3:12: error: unclosed delimiter",
			expected: DiagnosticList{
				{Severity: SeverityError, File: "<stdin>", Line: 3, Column: 12, Message: "unclosed delimiter"},
			},
		},
		{
			name:   "warning with hint",
			output: "chapter.typ:1:1: warning: unknown font family: nope\nhint: check the font name",
			expected: DiagnosticList{
				{
					Severity: SeverityWarning, File: "chapter.typ", Line: 1, Column: 1,
					Message: "unknown font family: nope", Hints: []string{"check the font name"},
				},
			},
		},
		{
			name:   "unlocated error",
			output: "error: failed to load package",
			expected: DiagnosticList{
				{Severity: SeverityError, Message: "failed to load package"},
			},
		},
		{
			name:   "several in order",
			output: "a.typ:1:2: error: one\n\nb.typ:3:4: error: two\nnoise line\n",
			expected: DiagnosticList{
				{Severity: SeverityError, File: "a.typ", Line: 1, Column: 2, Message: "one"},
				{Severity: SeverityError, File: "b.typ", Line: 3, Column: 4, Message: "two"},
			},
		},
		{
			name:     "empty",
			output:   "",
			expected: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseDiagnostics(tc.output))
		})
	}
}

func TestParseDiagnosticsIgnoresLeadingHint(t *testing.T) {
	diags := ParseDiagnostics("hint: orphan\nmain.typ:2:1: error: bad")
	require.Len(t, diags, 1)
	assert.Empty(t, diags[0].Hints)
}
