// Package kerr defines the kernel's closed status-code taxonomy (spec.md
// §7) and a wrapped error type that carries it through call stacks.
package kerr

import (
	"errors"
	"fmt"
)

// Code is one of the kernel's fixed return statuses. The zero value is
// never used as a sentinel for success - Go callers use a nil error for
// that; Code only ever labels a failure.
type Code int

const (
	_ Code = iota
	InvalidArgument
	InvalidName
	InvalidRight
	InvalidAddress
	ProtectionFailure
	NoSpace
	ResourceShortage
	PortDead
	QueueFull
	TimedOut
	Interrupted
	Aborted
	TooLarge
	Empty
)

var names = map[Code]string{
	InvalidArgument:   "invalid-argument",
	InvalidName:       "invalid-name",
	InvalidRight:      "invalid-right",
	InvalidAddress:    "invalid-address",
	ProtectionFailure: "protection-failure",
	NoSpace:           "no-space",
	ResourceShortage:  "resource-shortage",
	PortDead:          "port-dead",
	QueueFull:         "queue-full",
	TimedOut:          "timed-out",
	Interrupted:       "interrupted",
	Aborted:           "aborted",
	TooLarge:          "too-large",
	Empty:             "empty",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "unknown-code"
}

// Error implements the error interface so a bare Code can be returned
// and compared with errors.Is.
func (c Code) Error() string { return c.String() }

// KernelError wraps a Code with the operation that failed and, when
// the failure was caused by a lower layer, the underlying error.
type KernelError struct {
	Code Code
	Op   string
	Err  error
}

func (e *KernelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *KernelError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Code
}

// New builds a KernelError for op that failed with code.
func New(op string, code Code) *KernelError {
	return &KernelError{Code: code, Op: op}
}

// Wrap builds a KernelError for op that failed with code because of err.
func Wrap(op string, code Code, err error) *KernelError {
	return &KernelError{Code: code, Op: op, Err: err}
}

// Is reports whether err ultimately carries code, so callers can write
// `kerr.Is(err, kerr.PortDead)`.
func Is(err error, code Code) bool {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Code == code
	}
	return errors.Is(err, code)
}
