package base

import (
	"fmt"
	"syscall"
)

// Kind classifies an Error the way the original base/exc.h distinguished
// system errors, path errors, DNS errors, and TLS errors from each other.
type Kind int

const (
	// KindSystem wraps a failed system call.
	KindSystem Kind = iota
	// KindPath is a KindSystem error adorned with a filesystem path.
	KindPath
	// KindAddress is a DNS lookup failure.
	KindAddress
	// KindTLS is a TLS library error, possibly carrying stack messages.
	KindTLS
	// KindLogical is a checked invariant violation at a system boundary
	// (as opposed to base.Check, which is for invariants inside the core).
	KindLogical
)

func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindPath:
		return "path"
	case KindAddress:
		return "address"
	case KindTLS:
		return "tls"
	case KindLogical:
		return "logical"
	default:
		return "unknown"
	}
}

// Error is the formattable error value carried at every core boundary.
type Error struct {
	Kind    Kind
	What    string
	Path    string
	Errno   syscall.Errno
	TLSCode int
	Stack   []string
}

// NewSystemError builds a KindSystem error wrapping errno, in the style of
// the original's "<what> [<errno>: <strerror>]" formatting.
func NewSystemError(what string, errno syscall.Errno) *Error {
	return &Error{Kind: KindSystem, What: what, Errno: errno}
}

// NewPathError builds a KindPath error.
func NewPathError(what, path string, errno syscall.Errno) *Error {
	return &Error{Kind: KindPath, What: what, Path: path, Errno: errno}
}

// NewAddressError builds a KindAddress error for a failed DNS lookup.
func NewAddressError(what string) *Error {
	return &Error{Kind: KindAddress, What: what}
}

// NewTLSError builds a KindTLS error with an optional accumulated stack.
func NewTLSError(what string, code int, stack []string) *Error {
	return &Error{Kind: KindTLS, What: what, TLSCode: code, Stack: stack}
}

// NewLogicalError builds a KindLogical error for a checked invariant
// violation at a system boundary (e.g. bad user-supplied configuration).
func NewLogicalError(what string) *Error {
	return &Error{Kind: KindLogical, What: what}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPath:
		return fmt.Sprintf("%s: %s%s", e.Path, e.What, e.errnoSuffix())
	case KindTLS:
		s := fmt.Sprintf("%s [tls %d]", e.What, e.TLSCode)
		for _, line := range e.Stack {
			s += ": " + line
		}
		return s
	default:
		return e.What + e.errnoSuffix()
	}
}

func (e *Error) errnoSuffix() string {
	if e.Errno == 0 {
		return ""
	}
	return fmt.Sprintf(" [%d: %s]", int(e.Errno), e.Errno.Error())
}

// Unwrap exposes the wrapped errno so callers can errors.Is(err, syscall.EINTR).
func (e *Error) Unwrap() error {
	if e.Errno == 0 {
		return nil
	}
	return e.Errno
}

// Check panics with a *base.Error of KindLogical if cond is false. It
// marks an invariant that, inside the core, signals a programmer bug
// rather than a recoverable condition.
func Check(cond bool, what string) {
	if !cond {
		panic(NewLogicalError("assertion failed: " + what))
	}
}

// Checkf is Check with a formatted message.
func Checkf(cond bool, format string, args ...any) {
	if !cond {
		panic(NewLogicalError("assertion failed: " + fmt.Sprintf(format, args...)))
	}
}
