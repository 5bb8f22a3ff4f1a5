// Package errors provides standardized error handling for the search pipeline.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeTranslationFailed  ErrorCode = "TRANSLATION_FAILED"
	ErrCodeTranslationTimeout ErrorCode = "TRANSLATION_TIMEOUT"
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"

	ErrCodeNameNotFound     ErrorCode = "NAME_NOT_FOUND"
	ErrCodeResolutionFailed ErrorCode = "RESOLUTION_FAILED"

	ErrCodeSearchFailed  ErrorCode = "SEARCH_FAILED"
	ErrCodeSearchTimeout ErrorCode = "SEARCH_TIMEOUT"

	ErrCodeBadRequest ErrorCode = "BAD_REQUEST"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewTranslationFailedError is the terminal error of the translation stage.
// Shown to the user as "could not interpret query"; there is no safe default
// parameter set to fall back to.
func NewTranslationFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTranslationFailed,
		Message:   "could not interpret query",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTranslationTimeoutError reports a translation that ran out of time.
func NewTranslationTimeoutError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTranslationTimeout,
		Message:   "query interpretation timed out",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchFailedError is the terminal error of the search stage.
func NewSearchFailedError(status int, message string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchFailed,
		Message:   "search failed, try again",
		Details:   fmt.Sprintf("status: %d, message: %s", status, message),
		Retryable: status >= 500 || status == 0,
		Timestamp: time.Now().UTC(),
	}
}

// NewBadRequestError reports malformed client input to the HTTP surface.
func NewBadRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBadRequest,
		Message:   "invalid request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
