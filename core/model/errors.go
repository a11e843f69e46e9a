package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies node and run failures. The engine branches only on
// the kind, never on error strings.
type ErrorKind string

const (
	KindValidation   ErrorKind = "ValidationError"
	KindRegistry     ErrorKind = "RegistryError"
	KindExpression   ErrorKind = "ExpressionError"
	KindExecution    ErrorKind = "ExecutionError"
	KindTimeout      ErrorKind = "Timeout"
	KindBudget       ErrorKind = "BudgetExceeded"
	KindDepth        ErrorKind = "DepthExceeded"
	KindSandbox      ErrorKind = "SandboxViolation"
	KindHumanTimeout ErrorKind = "HumanTimeout"
)

func (k ErrorKind) String() string { return string(k) }

// Error carries a failure together with its taxonomy kind
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps an error with a kind
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds a kinded error from a format string
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the taxonomy kind of err. Unclassified errors are
// treated as execution errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindExecution
}

// Retryable reports whether a failure of this kind is subject to per-node
// retries. Structural failures are never retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindExecution, KindTimeout:
		return true
	default:
		return false
	}
}
