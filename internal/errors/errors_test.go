package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityString(t *testing.T) {
	testCases := []struct {
		severity Severity
		expected string
	}{
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{Severity(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.severity.String())
		})
	}
}

func TestDiagnosticString(t *testing.T) {
	d := Diagnostic{
		Severity: SeverityError,
		File:     "main.typ",
		Line:     3,
		Column:   7,
		Message:  "unclosed delimiter",
		Hints:    []string{"add a closing bracket"},
	}

	assert.Equal(t, "main.typ:3:7: error: unclosed delimiter (hint: add a closing bracket)", d.String())
	assert.Equal(t, "warning: unused", Diagnostic{Severity: SeverityWarning, Message: "unused"}.String())
}

func TestDiagnosticListErrorKeepsEveryEntry(t *testing.T) {
	list := DiagnosticList{
		{Severity: SeverityError, Message: "first"},
		{Severity: SeverityWarning, Message: "second"},
		{Severity: SeverityError, Message: "third"},
	}

	msg := list.Error()
	assert.Contains(t, msg, "first")
	assert.Contains(t, msg, "second")
	assert.Contains(t, msg, "third")
	assert.Len(t, list.Errors(), 2)
	assert.Len(t, list.Warnings(), 1)
	assert.True(t, list.HasErrors())
	assert.False(t, list.Warnings().HasErrors())
}

func TestShiftLines(t *testing.T) {
	list := DiagnosticList{
		{File: "<stdin>", Line: 5, Column: 2, Message: "in body"},
		{File: "<stdin>", Line: 1, Column: 9, Message: "in prelude"},
		{File: "other.typ", Line: 1, Message: "elsewhere"},
	}

	shifted := list.ShiftLines("<stdin>", 2, "<variables>")

	assert.Equal(t, 3, shifted[0].Line)
	assert.Equal(t, "<variables>", shifted[1].File)
	assert.Zero(t, shifted[1].Line)
	assert.Equal(t, 1, shifted[2].Line)
	assert.Equal(t, 5, list[0].Line, "original list must not be modified")
}

func TestTypsterErrorFormatting(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewPackageError(ErrCodePackageDownload, "download @preview/foo:0.1.0", cause).
		WithLocation("main.typ", 4, 2)

	assert.Equal(t, "[ERR_PACKAGE_DOWNLOAD] main.typ:4:2 download @preview/foo:0.1.0: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsPackageError(err))
	assert.False(t, IsWorldError(err))
}

func TestTypsterErrorIsComparesTypeAndCode(t *testing.T) {
	a := NewExportError(ErrCodeExportFailed, "one", nil)
	b := NewExportError(ErrCodeExportFailed, "two", nil)
	c := NewExportError(ErrCodeInvalidPixelSize, "three", nil)

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestNestedTypeDetection(t *testing.T) {
	inner := NewPackageError(ErrCodePackageNotFound, "missing", nil)
	outer := NewWorldError(ErrCodeFileNotFound, "resolve import", inner)

	assert.True(t, IsWorldError(outer))
	assert.True(t, IsPackageError(outer))
	assert.Equal(t, ErrorTypeWorld, TypeOf(outer))
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "x", "y"))
}

func TestWithContext(t *testing.T) {
	err := NewInternalError("ERR_X", "boom", nil).WithContext("key", "value")
	require.NotNil(t, err.Context)
	assert.Equal(t, "value", err.Context["key"])
}
