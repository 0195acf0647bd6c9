package typster

import (
	"github.com/conneroisu/typster/internal/errors"
)

// ErrorKind names the stage a failure came from.
type ErrorKind string

const (
	KindConversion ErrorKind = "conversion"
	KindPackage    ErrorKind = "package"
	KindWorld      ErrorKind = "world"
	KindCompile    ErrorKind = "compile"
	KindExport     ErrorKind = "export"
	KindInvalid    ErrorKind = "invalid"
	KindInternal   ErrorKind = "internal"
)

// Error is returned, and panicked by the Must variants, for every failure.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	// Diagnostics holds every compile diagnostic when Kind is KindCompile.
	Diagnostics []string
	err         error
}

// Error returns the message unchanged.
func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.err }

func newError(err error) *Error {
	if te, ok := err.(*Error); ok {
		return te
	}

	out := &Error{Kind: KindInternal, Message: err.Error(), err: err}

	var te *errors.TypsterError
	if errors.As(err, &te) {
		out.Code = te.Code
		switch te.Type {
		case errors.ErrorTypeConversion:
			out.Kind = KindConversion
		case errors.ErrorTypePackage:
			out.Kind = KindPackage
		case errors.ErrorTypeWorld:
			out.Kind = KindWorld
		case errors.ErrorTypeCompile:
			out.Kind = KindCompile
		case errors.ErrorTypeExport:
			out.Kind = KindExport
		case errors.ErrorTypeValidation, errors.ErrorTypeConfig:
			out.Kind = KindInvalid
		}
		if te.Cause != nil && te.Message == "" {
			out.Message = te.Cause.Error()
		}
	}

	var diags errors.DiagnosticList
	if errors.As(err, &diags) {
		out.Diagnostics = diags.Strings()
		out.Message = diags.Error()
	}
	return out
}
