package http

import (
	"fmt"
	"net/http"
)

// AppError is an error with the HTTP status it maps to.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

var statusCodes = map[int]string{
	http.StatusBadRequest:          "ERR_BAD_REQUEST",
	http.StatusNotFound:            "ERR_NOT_FOUND",
	http.StatusConflict:            "ERR_CONFLICT",
	http.StatusBadGateway:          "ERR_UPSTREAM",
	http.StatusInternalServerError: "ERR_INTERNAL",
}

// Errorf builds an AppError for status; the code is derived from it.
func Errorf(status int, format string, a ...interface{}) *AppError {
	code, ok := statusCodes[status]
	if !ok {
		code = "ERR_INTERNAL"
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, a...), Status: status}
}

// WithParam attaches a detail to the response body.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return Errorf(http.StatusNotFound, format, a...)
}

func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return Errorf(http.StatusBadRequest, format, a...)
}

// ConflictErrorf reports work already in progress, e.g. a held repair lock.
func ConflictErrorf(format string, a ...interface{}) *AppError {
	return Errorf(http.StatusConflict, format, a...)
}

// BadGatewayErrorf reports an upstream API failure.
func BadGatewayErrorf(format string, a ...interface{}) *AppError {
	return Errorf(http.StatusBadGateway, format, a...)
}

func InternalErrorf(format string, a ...interface{}) *AppError {
	return Errorf(http.StatusInternalServerError, format, a...)
}
