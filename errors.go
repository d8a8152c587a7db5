package zerohack

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySession is returned when a feature transform receives no events.
	ErrEmptySession = errors.New("session contains no events")

	// ErrArtifactNotLoaded marks a detector whose model and scaler pair has
	// never loaded successfully.
	ErrArtifactNotLoaded = errors.New("model/scaler not loaded")
)

// InputError marks malformed caller input. Handlers translate it to a 400
// instead of a 500.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return e.Reason }

func inputErrorf(format string, args ...any) *InputError {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

// CollaboratorError wraps a failed dispatch to an external system. The
// dispatcher logs it and leaves the corresponding reference empty.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s dispatch failed: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
