package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/server"
)

// ApiError is the JSON body of every failed REST call. Err stays server side.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func newApiError(code int, cause error) *ApiError {
	return &ApiError{
		StatusCode: code,
		Message:    strings.ToLower(http.StatusText(code)),
		Err:        cause,
	}
}

func NewBadRequestError() *ApiError { return newApiError(http.StatusBadRequest, nil) }

func NewUnauthorizedError() *ApiError { return newApiError(http.StatusUnauthorized, nil) }

func NewForbiddenError() *ApiError { return newApiError(http.StatusForbidden, nil) }

func NewNotFoundError() *ApiError { return newApiError(http.StatusNotFound, nil) }

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

// errorFor maps a domain error to the response the caller sees.
func errorFor(err error) *ApiError {
	switch {
	case errors.Is(err, server.ErrValidation):
		return newApiError(http.StatusBadRequest, err)
	case errors.Is(err, database.ErrNotFound):
		return NewNotFoundError()
	default:
		return NewInternalServerError(err)
	}
}
