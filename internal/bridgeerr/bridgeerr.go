// Package bridgeerr defines the failure categories surfaced by the inference bridge.
//
// Every failure returned by the bridge is an *Error carrying one Kind, so a caller can
// render "environment not ready" differently from "could not read result":
//
//	if errors.Is(err, bridgeerr.ErrParse) { ... }
package bridgeerr

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind is the failure category of an *Error.
type Kind int

const (
	KindInput Kind = iota + 1
	KindEnvironment
	KindLaunch
	KindExecution
	KindParse
)

// maxAttached bounds how much stderr/stdout an error keeps.
const maxAttached = 4096

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input_error"
	case KindEnvironment:
		return "environment_error"
	case KindLaunch:
		return "launch_error"
	case KindExecution:
		return "execution_error"
	case KindParse:
		return "parse_error"
	default:
		return "unknown_error"
	}
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrInput       = &Error{Kind: KindInput}
	ErrEnvironment = &Error{Kind: KindEnvironment}
	ErrLaunch      = &Error{Kind: KindLaunch}
	ErrExecution   = &Error{Kind: KindExecution}
	ErrParse       = &Error{Kind: KindParse}
)

// Error annotates a bridge failure with its category and diagnostics.
type Error struct {
	Kind      Kind
	Op        string
	RequestID string
	Err       error

	// Diagnostics, populated where relevant.
	ExitStatus int
	Timeout    bool
	Stderr     string
	Output     string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.String()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %s", e.Op, e.RequestID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an *Error of the given kind from a format string.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithStderr attaches the tail of the process stderr.
func (e *Error) WithStderr(stderr []byte) *Error {
	e.Stderr = Tail(string(stderr), maxAttached)
	return e
}

// WithOutput attaches the tail of the raw process output.
func (e *Error) WithOutput(output string) *Error {
	e.Output = Tail(output, maxAttached)
	return e
}

// WithRequest stamps the request id on err if it is an *Error that has none yet.
func WithRequest(err error, requestID string) error {
	var be *Error
	if errors.As(err, &be) && be.RequestID == "" {
		be.RequestID = requestID
	}
	return err
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return 0, false
}

// Tail keeps the last n bytes of s, which is where Python puts the traceback.
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}
