// Package apperr defines the error taxonomy shared by the captioning pipeline
// and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	MsgEmptyFile     = "Empty file received"
	MsgProcessImage  = "Failed to process image"
	MsgInternalError = "Internal server error"
)

// InputError is a client mistake: empty or malformed upload. Its message is
// safe to return to the caller.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

// Input returns an InputError with a formatted message.
func Input(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// ProcessingError is a failure during feature extraction or inference.
// Only Message leaves the process; Err is for the logs.
type ProcessingError struct {
	Message string
	Err     error
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Processing wraps err with a public message.
func Processing(message string, err error) error {
	return &ProcessingError{Message: message, Err: err}
}

// StartupError marks a missing or corrupt artifact. The process must not start.
type StartupError struct {
	Artifact string
	Err      error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Artifact, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// Startup wraps err for the named artifact. An error that is already a
// StartupError is returned unchanged.
func Startup(artifact string, err error) error {
	if err == nil {
		return nil
	}
	var se *StartupError
	if errors.As(err, &se) {
		return err
	}
	return &StartupError{Artifact: artifact, Err: err}
}

// StatusCode maps an error to the HTTP status it is reported with.
func StatusCode(err error) int {
	var ie *InputError
	if errors.As(err, &ie) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the text that may be shown to the caller. Anything
// outside the taxonomy gets the generic message.
func PublicMessage(err error) string {
	var ie *InputError
	if errors.As(err, &ie) {
		return ie.Message
	}
	var pe *ProcessingError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return MsgInternalError
}
