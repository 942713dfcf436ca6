package synth

import (
	"errors"
	"fmt"
)

// Kind identifies a failure class. The set is closed: every error surfaced
// by this package and its collaborators maps onto exactly one Kind.
type Kind string

const (
	// KindGeneric covers failures that fit no other class.
	KindGeneric Kind = "GENERIC"

	// KindEngineLoad indicates the inference engine could not be constructed
	// or its model could not be loaded.
	KindEngineLoad Kind = "ENGINE_LOAD"

	// KindSynthesis indicates an inference-time failure, including invalid
	// input text, a missing reference voice, or a backend/runtime error.
	KindSynthesis Kind = "SYNTHESIS"

	// KindDevice indicates the device detection probe itself failed.
	// Absence of acceleration hardware is not a Device error.
	KindDevice Kind = "DEVICE"

	// KindAudioWrite indicates the audio encoder could not produce a
	// complete, valid container file.
	KindAudioWrite Kind = "AUDIO_WRITE"
)

// Error is a classified synthesis failure with an optional chained cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a classified error without a cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error chaining cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Classify returns err unchanged if it already carries a recognized Kind.
// Anything else is wrapped under fallback with the original type name and
// message preserved as diagnostic text.
func Classify(err error, fallback Kind) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	return &Error{
		Kind:    fallback,
		Message: fmt.Sprintf("%T: %v", err, err),
		Cause:   err,
	}
}

// KindOf extracts the Kind of err, or KindGeneric for unclassified errors.
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return KindGeneric
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Kind == kind
}
