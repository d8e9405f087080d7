package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// CustomError is a user-facing failure: Code is the HTTP status the API
// answers with, Message is safe to show.
type CustomError struct {
	Code    int
	Message string
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

func New(code int, message string) error {
	return &CustomError{
		Code:    code,
		Message: message,
	}
}

func NotFound(message string) error   { return New(http.StatusNotFound, message) }
func Conflict(message string) error   { return New(http.StatusConflict, message) }
func BadRequest(message string) error { return New(http.StatusBadRequest, message) }

// StatusOf returns the status carried by err, or 500.
func StatusOf(err error) (int, string) {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Code, ce.Message
	}
	return http.StatusInternalServerError, "internal error"
}
