package parapng

import "fmt"

// ErrorKind classifies why an Encoder operation failed, grounded on
// naufaldi-go-pixo's PngError (internal/_examples/naufaldi-go-pixo/src/png/errors.go)
// but extended with a Kind() accessor so callers can branch on failure
// category instead of matching error strings.
type ErrorKind int

const (
	// InvalidState means the operation is not valid for the Encoder's
	// current state (e.g. calling WriteImageRows before WriteHeader).
	InvalidState ErrorKind = iota
	// InvalidParameter means a caller-supplied value is out of range or
	// otherwise malformed (e.g. an illegal color-type/bit-depth pairing).
	InvalidParameter
	// IoFailure means the caller-supplied Sink returned an error or a
	// short write.
	IoFailure
	// InputFailure means the caller-supplied pixel source (Pull reader or
	// Push data) returned an error or a short/misaligned read.
	InputFailure
	// CompressFailure means the DEFLATE engine itself returned an error.
	CompressFailure
	// Poisoned means a previous operation already failed and the Encoder
	// has latched into Failed; every later call returns this until
	// Release.
	Poisoned
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidState:
		return "invalid_state"
	case InvalidParameter:
		return "invalid_parameter"
	case IoFailure:
		return "io_failure"
	case InputFailure:
		return "input_failure"
	case CompressFailure:
		return "compress_failure"
	case Poisoned:
		return "poisoned"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the concrete error type every Encoder method returns on
// failure.
type Error struct {
	kind    ErrorKind
	message string
	cause   error
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("parapng: %s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("parapng: %s: %s", e.kind, e.message)
}

// Unwrap exposes the underlying cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Kind reports the category of failure.
func (e *Error) Kind() ErrorKind {
	return e.kind
}
