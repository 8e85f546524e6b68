package teax

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrComponentStopped is the cause reported after Shutdown.
	ErrComponentStopped = errors.New("teax: component stopped")
	// ErrResolveContextReleased is returned when a ResolveContext is used after
	// the resolution it was handed to has returned.
	ErrResolveContextReleased = errors.New("teax: resolve context used after resolution returned")
	// ErrInvalidOptions is returned by RunComponent for unusable arguments.
	ErrInvalidOptions = errors.New("teax: invalid options")
)

// InitializationError reports that the initial source failed.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("teax: initialization failed: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// TransitionError reports that the updater failed for Message.
type TransitionError struct {
	Message any
	Err     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("teax: update of message %v failed: %v", e.Message, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// ResolutionError reports that resolving Command, or a job it spawned, failed.
type ResolutionError struct {
	Command any
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("teax: resolution of command %v failed: %v", e.Command, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// PanicError carries a value recovered from a user callback.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func recovered(v any) error {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isFailure reports whether err already carries one of the runtime's failure types.
func isFailure(err error) bool {
	var (
		ie *InitializationError
		te *TransitionError
		re *ResolutionError
	)
	return errors.As(err, &ie) || errors.As(err, &te) || errors.As(err, &re)
}
