// Package errs provides the error values returned to API callers.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrCode represents an error code in the system.
type ErrCode struct {
	value string
}

// Value returns the code as sent on the wire.
func (ec ErrCode) Value() string { return ec.value }

// String implements fmt.Stringer.
func (ec ErrCode) String() string { return ec.value }

// MarshalText implements encoding.TextMarshaler.
func (ec ErrCode) MarshalText() ([]byte, error) { return []byte(ec.value), nil }

// Error codes and their HTTP status.
var (
	InvalidArgument = ErrCode{value: "invalid_argument"}
	NotFound        = ErrCode{value: "not_found"}
	Unavailable     = ErrCode{value: "unavailable"}
	Internal        = ErrCode{value: "internal"}
)

var httpStatus = map[ErrCode]int{
	InvalidArgument: http.StatusBadRequest,
	NotFound:        http.StatusNotFound,
	Unavailable:     http.StatusServiceUnavailable,
	Internal:        http.StatusInternalServerError,
}

// Error represents an error in the system.
type Error struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// New constructs an error based on an app error. Validation failures keep
// their per-field messages.
func New(code ErrCode, err error) *Error {
	e := Error{Code: code, Message: err.Error()}

	var fe FieldErrors
	if errors.As(err, &fe) {
		e.Message = "request validation failed"
		e.Fields = fe.Fields()
	}
	return &e
}

// Newf constructs an error based on an error message.
func Newf(code ErrCode, format string, v ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, v...)}
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Encode implements the web.Encoder interface.
func (e *Error) Encode() ([]byte, string, error) {
	data, err := json.Marshal(e)
	return data, "application/json", err
}

// HTTPStatus implements the web.HTTPStatusSetter interface.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsError tests the concrete error is of the Error type.
func IsError(err error) bool {
	var er *Error
	return errors.As(err, &er)
}

// GetError returns a copy of the Error pointer.
func GetError(err error) *Error {
	var er *Error
	if !errors.As(err, &er) {
		return nil
	}
	return er
}
