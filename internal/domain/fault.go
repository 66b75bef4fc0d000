package domain

import (
	"errors"
	"fmt"
)

// FaultCode classifies the terminal outcome of a failed operation.
type FaultCode string

const (
	// FaultInvalid marks malformed input, such as a missing activity name.
	FaultInvalid FaultCode = "invalid"
	// FaultNotFound marks a lookup for an activity or profile that does not exist.
	FaultNotFound FaultCode = "not_found"
	// FaultForbidden marks a mutation attempted by a caller who is not the owner.
	FaultForbidden FaultCode = "forbidden"
	// FaultConflict marks duplicate registrations, sold-out activities, and
	// capacity edits that would violate the seat invariant.
	FaultConflict FaultCode = "conflict"
	// FaultUnavailable marks exhausted transaction retries. Callers may retry.
	FaultUnavailable FaultCode = "unavailable"
)

// Fault is the single structured failure shape returned by coordinator
// operations. Transactions return either a value or one Fault, never both.
type Fault struct {
	Code    FaultCode
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Faultf builds a Fault with a formatted message.
func Faultf(code FaultCode, format string, args ...interface{}) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the fault code from err, or "" when err is not a Fault.
func CodeOf(err error) FaultCode {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Code
	}
	return ""
}

// IsFault reports whether err carries the given code.
func IsFault(err error, code FaultCode) bool {
	return CodeOf(err) == code
}
