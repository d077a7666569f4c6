package dberr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCategory classifies errors by their nature and appropriate handling strategy.
// This classification helps determine whether an error should trigger retries,
// user notifications, or system alerts.
type ErrorCategory int

const (
	// ErrCategoryUser represents errors caused by invalid caller input or operations.
	// Examples: operations on a completed transaction, use of a released handle.
	// These errors are typically fixable by modifying the caller's request.
	ErrCategoryUser ErrorCategory = iota

	// ErrCategoryTransient represents temporary errors that might succeed on retry.
	// Examples: temporary resource exhaustion when every cached page is dirty.
	// Clients should retry after other transactions commit.
	ErrCategoryTransient

	// ErrCategorySystem represents errors requiring administrator intervention.
	// Examples: disk full, missing files, permission issues.
	// These errors typically cannot be resolved by retrying or changing input.
	ErrCategorySystem

	// ErrCategoryData represents errors related to data absence or integrity.
	// Examples: pages missing from the backing store, checksum failures.
	ErrCategoryData

	// ErrCategoryConcurrency represents errors from concurrent transaction conflicts.
	// Examples: lock wait timeouts and the transaction aborts they trigger.
	// These errors are often resolved by transaction retry with proper backoff.
	ErrCategoryConcurrency
)

// Error represents a structured storage-engine error with rich context information.
type Error struct {
	// Code is a unique identifier for this error type (e.g., CodeLockTimeout).
	Code string

	// Category classifies the error for appropriate handling strategy.
	Category ErrorCategory

	// Message is a human-readable description of what went wrong.
	Message string

	// Detail provides additional context about the specific error instance.
	// Example: "page table:7 page:3" where Message might be "page not found".
	Detail string

	// Hint suggests how the caller might fix or work around this error.
	// Example: "retry after other transactions commit, or enlarge the pool".
	Hint string

	// Operation identifies the operation that was being performed when the
	// error occurred. Examples: "Get", "FlushPage", "Commit".
	Operation string

	// Component identifies the system component where the error originated.
	// Examples: "PageStore", "LockManager", "HeapFile".
	Component string

	// Cause is the underlying error that triggered this one.
	// This enables error chaining while preserving the original context.
	Cause error

	// Stack contains the call stack where this error was created.
	// Automatically captured in New() and Wrap().
	Stack []uintptr
}

// New creates a new Error with the specified category, code, and message.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Code:     code,
		Category: category,
		Message:  message,
		Stack:    captureStack(),
	}
}

// Wrap creates a new Error that carries err as its cause. Unlike New, the
// resulting chain keeps every code reachable through Unwrap, so a
// transaction-abort error wrapping a lock timeout reports both codes to
// HasCode.
func Wrap(err error, category ErrorCategory, code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:     code,
		Category: category,
		Message:  message,
		Cause:    err,
		Stack:    captureStack(),
	}
}

// WithDetail attaches instance-specific context and returns the error for chaining.
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithHint attaches a suggested remedy and returns the error for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithOperation records the operation in progress and returns the error for chaining.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent records the originating component and returns the error for chaining.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// captureStack captures the current call stack for debugging purposes.
// It skips the first 3 frames to exclude captureStack, New/Wrap, and the
// immediate caller, focusing on the actual error origin.
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}

// Error implements the standard Go error interface.
//
// The format follows the pattern:
// [ERROR_CODE] Message: Detail (operation: Operation, component: Component) caused by: underlying error
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Detail != "" {
		b.WriteString(fmt.Sprintf(": %s", e.Detail))
	}

	if e.Operation != "" {
		b.WriteString(fmt.Sprintf(" (operation: %s", e.Operation))
		if e.Component != "" {
			b.WriteString(fmt.Sprintf(", component: %s", e.Component))
		}
		b.WriteString(")")
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(" caused by: %v", e.Cause))
	}

	return b.String()
}

// Unwrap returns the underlying cause error, enabling error chain traversal
// with Go's standard error handling functions like errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HasCode reports whether any error in err's chain carries the given code.
func HasCode(err error, code string) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// CategoryOf returns the category of the outermost *Error in err's chain.
func CategoryOf(err error) (ErrorCategory, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Category, true
	}
	return 0, false
}

// FormatStack returns a human-readable stack trace for debugging purposes.
func (e *Error) FormatStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(e.Stack)

	b.WriteString("Stack trace:\n")
	for {
		f, more := frames.Next()
		b.WriteString(fmt.Sprintf("  %s\n    %s:%d\n",
			f.Function, f.File, f.Line))
		if !more {
			break
		}
	}

	return b.String()
}
