package common

import (
	"errors"
	"net/http"
)

// AppError is an error the HTTP layer can render directly: a stable code for
// clients, a safe message and the status to answer with.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil:
		return e.Code + ": " + e.Err.Error()
	default:
		return e.Code + ": " + e.Message
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches AppErrors by code so package-level sentinels work with errors.Is
// after Wrap or WithDetails.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Wrap returns a copy of e carrying cause.
func (e *AppError) Wrap(cause error) *AppError {
	c := *e
	c.Err = cause
	return &c
}

// WithDetails returns a copy of e carrying details for the client.
func (e *AppError) WithDetails(details any) *AppError {
	c := *e
	c.Details = details
	return &c
}

func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// StatusOf reports the HTTP status err renders with.
func StatusOf(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	if appErr.HTTPStatus == 0 {
		return http.StatusBadRequest
	}
	return appErr.HTTPStatus
}
