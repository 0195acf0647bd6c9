// Package errors defines the error taxonomy shared by the conversion,
// package, world, compile and export stages, plus the diagnostic model used
// to report engine errors with their source locations.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeConversion ErrorType = "conversion"
	ErrorTypePackage    ErrorType = "package"
	ErrorTypeWorld      ErrorType = "world"
	ErrorTypeCompile    ErrorType = "compile"
	ErrorTypeExport     ErrorType = "export"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeUnsupportedType  = "ERR_UNSUPPORTED_TYPE"
	ErrCodeInvalidVariable  = "ERR_INVALID_VARIABLE"
	ErrCodePackageNotFound  = "ERR_PACKAGE_NOT_FOUND"
	ErrCodePackageDownload  = "ERR_PACKAGE_DOWNLOAD"
	ErrCodeFileNotFound     = "ERR_FILE_NOT_FOUND"
	ErrCodePathEscapesRoot  = "ERR_PATH_ESCAPES_ROOT"
	ErrCodeFont             = "ERR_FONT"
	ErrCodeCompileFailed    = "ERR_COMPILE_FAILED"
	ErrCodeExportFailed     = "ERR_EXPORT_FAILED"
	ErrCodeInvalidFormat    = "ERR_INVALID_FORMAT"
	ErrCodeInvalidPixelSize = "ERR_INVALID_PIXEL_PER_PT"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeEngine           = "ERR_ENGINE"
)

// TypsterError is a structured error type with context.
type TypsterError struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Context  map[string]interface{}
	FilePath string
	Line     int
	Column   int
}

// Error implements the error interface.
func (e *TypsterError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *TypsterError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by type and code.
func (e *TypsterError) Is(target error) bool {
	var t *TypsterError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *TypsterError) WithContext(key string, value interface{}) *TypsterError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *TypsterError) WithLocation(filePath string, line, column int) *TypsterError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// Wrap wraps err into a TypsterError of the given type. A nil err yields nil.
func Wrap(err error, errType ErrorType, code, message string) *TypsterError {
	if err == nil {
		return nil
	}

	return &TypsterError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// NewConversionError creates a conversion error.
func NewConversionError(code, message string, cause error) *TypsterError {
	return &TypsterError{Type: ErrorTypeConversion, Code: code, Message: message, Cause: cause}
}

// NewPackageError creates a package resolution error.
func NewPackageError(code, message string, cause error) *TypsterError {
	return &TypsterError{Type: ErrorTypePackage, Code: code, Message: message, Cause: cause}
}

// NewWorldError creates a compilation environment error.
func NewWorldError(code, message string, cause error) *TypsterError {
	return &TypsterError{Type: ErrorTypeWorld, Code: code, Message: message, Cause: cause}
}

// NewCompileError creates a compile error, normally wrapping a DiagnosticList.
func NewCompileError(cause error) *TypsterError {
	return &TypsterError{Type: ErrorTypeCompile, Code: ErrCodeCompileFailed, Message: "compilation failed", Cause: cause}
}

// NewExportError creates an export error.
func NewExportError(code, message string, cause error) *TypsterError {
	return &TypsterError{Type: ErrorTypeExport, Code: code, Message: message, Cause: cause}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *TypsterError {
	return &TypsterError{Type: ErrorTypeValidation, Code: code, Message: message}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *TypsterError {
	return &TypsterError{Type: ErrorTypeConfig, Code: code, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *TypsterError {
	return &TypsterError{Type: ErrorTypeInternal, Code: code, Message: message, Cause: cause}
}

// TypeOf returns the ErrorType of the outermost TypsterError in err's chain,
// or the empty string if there is none.
func TypeOf(err error) ErrorType {
	var te *TypsterError
	if errors.As(err, &te) {
		return te.Type
	}

	return ""
}

// IsConversionError checks if an error is conversion-related.
func IsConversionError(err error) bool { return TypeOf(err) == ErrorTypeConversion }

// IsPackageError checks if an error is package-related.
func IsPackageError(err error) bool { return hasType(err, ErrorTypePackage) }

// IsWorldError checks if an error came from the compilation environment.
func IsWorldError(err error) bool { return TypeOf(err) == ErrorTypeWorld }

// IsCompileError checks if an error carries compile diagnostics.
func IsCompileError(err error) bool { return TypeOf(err) == ErrorTypeCompile }

// IsExportError checks if an error came from the export step.
func IsExportError(err error) bool { return TypeOf(err) == ErrorTypeExport }

// hasType reports whether any TypsterError in the chain has the given type.
func hasType(err error, t ErrorType) bool {
	for err != nil {
		var te *TypsterError
		if !errors.As(err, &te) {
			return false
		}
		if te.Type == t {
			return true
		}
		err = te.Cause
	}

	return false
}

// Re-exported standard library helpers so callers can use a single import.
var (
	As     = errors.As
	Is     = errors.Is
	New    = errors.New
	Join   = errors.Join
	Unwrap = errors.Unwrap
)
