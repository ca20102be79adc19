package types

import "fmt"

type CustomError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("%d: %s [type: %s]", e.Code, e.Message, e.Type)
}

// Forbidden builds the error raised by failed course/user verification.
func Forbidden(message, errorType string) *CustomError {
	return &CustomError{Code: 403, Message: message, Type: errorType}
}

// NotFound builds the error raised for a missing annotation id.
func NotFound(message string) *CustomError {
	return &CustomError{Code: 404, Message: message, Type: "store.notfound"}
}

// BadRequest builds the error raised for an unusable annotation payload.
func BadRequest(message string) *CustomError {
	return &CustomError{Code: 400, Message: message, Type: "store.badrequest"}
}
