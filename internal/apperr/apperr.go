// Package apperr defines the stable error codes surfaced to participants.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a participant-facing failure class. Codes are part of the
// wire contract and must not change between releases.
type Code string

const (
	CodeAlreadyQueued       Code = "AlreadyQueued"
	CodeNotQueued           Code = "NotQueued"
	CodeInvalidCredential   Code = "InvalidCredential"
	CodeDuplicateSubmission Code = "DuplicateSubmission"
	CodeRoomNotFound        Code = "RoomNotFound"
	CodeRoundClosed         Code = "RoundClosed"
	CodeChainRejected       Code = "ChainRejected"
	CodeTimeout             Code = "Timeout"
)

// Error is a coded error suitable for returning to participants.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a coded error preserving the cause for errors.Is/As chains.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from an error chain, or "" when uncoded.
func CodeOf(err error) Code {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// HTTPStatus maps a code to the HTTP status used by the API layer.
func HTTPStatus(code Code) int {
	switch code {
	case CodeAlreadyQueued, CodeDuplicateSubmission:
		return http.StatusConflict
	case CodeNotQueued, CodeRoomNotFound:
		return http.StatusNotFound
	case CodeInvalidCredential:
		return http.StatusUnauthorized
	case CodeRoundClosed, CodeTimeout:
		return http.StatusGone
	case CodeChainRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
