// Package errors provides comprehensive error handling utilities for stepwise.
//
// This file contains panic recovery utilities. gonum's mat package panics on
// shape mismatches and some degenerate inputs; a model fit that panics inside a
// worker goroutine would otherwise take the whole selection run down without
// telling the caller which candidate or fold was responsible.

package errors

import (
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
)

// PanicError represents an error that was created from a recovered panic.
// It includes the original panic value and stack trace information.
type PanicError struct {
	// PanicValue is the original value passed to panic()
	PanicValue interface{}

	// StackTrace contains the stack trace at the time of panic
	StackTrace string

	// Operation identifies where the panic was recovered
	Operation string
}

// Error implements the error interface for PanicError.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// String provides detailed information including stack trace.
func (e *PanicError) String() string {
	return fmt.Sprintf("panic in %s: %v\nStack trace:\n%s",
		e.Operation, e.PanicValue, e.StackTrace)
}

// NewPanicError creates a new PanicError with the given operation context and panic value.
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover is meant to be deferred with a pointer to the enclosing function's
// named error result. A recovered panic becomes a *PanicError; when the
// function had already set an error, that error is kept in the chain.
//
// Usage:
//
//	func (m *MNLogit) Fit(X, y mat.Matrix) (err error) {
//	    defer errors.Recover(&err, "MNLogit.Fit")
//	    ...
//	}
func Recover(err *error, operation string) {
	if r := recover(); r != nil {
		panicErr := NewPanicError(operation, r)

		if *err != nil {
			*err = errors.Wrapf(*err, "panic in %s: %v (original error)", operation, r)
			return
		}
		*err = panicErr
	}
}

// SafeExecute executes fn and converts any panic into a *PanicError.
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}

// SafeCall is SafeExecute for functions that also return a value. On panic the
// zero value of T is returned together with the *PanicError.
//
//	res, err := errors.SafeCall("candidate 3", func() (model.LikelihoodModel, error) {
//	    return fitter.Fit(Xc, y)
//	})
func SafeCall[T any](operation string, fn func() (T, error)) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			res = zero
			err = NewPanicError(operation, r)
		}
	}()
	return fn()
}
