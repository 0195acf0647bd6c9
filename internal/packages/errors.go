package packages

import (
	"errors"
	"fmt"
)

// ErrorKind classifies package resolution failures.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota
	KindVersionNotFound
	KindNetwork
	KindCorrupt
	KindIO
	KindTimeout
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindVersionNotFound:
		return "version not found"
	case KindNetwork:
		return "network error"
	case KindCorrupt:
		return "corrupt archive"
	case KindIO:
		return "cache i/o error"
	case KindTimeout:
		return "download timed out"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown error"
	}
}

// Error is returned by Cache operations. Failures are never cached: the next
// Resolve for the same package starts over.
type Error struct {
	Kind ErrorKind
	Spec Spec
	// Available lists the registry's versions of the package when Kind is
	// KindVersionNotFound.
	Available []Version
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("package %s: %s", e.Spec, e.Kind)
	if len(e.Available) > 0 {
		msg += fmt.Sprintf(" (available: %s)", joinVersions(e.Available))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

func joinVersions(vs []Version) string {
	s := ""
	for i, v := range vs {
		if i > 0 {
			s += ", "
		}
		s += v.String()
	}
	return s
}
