// Package apperr provides a coded, wrappable application error used at
// component boundaries so log lines carry a stable machine-readable code.
package apperr

import "fmt"

// Known error codes used across the proxy.
const (
	CodeUpstreamDial         = "UPSTREAM_DIAL"
	CodeUpstreamSend         = "UPSTREAM_SEND"
	CodeUpstreamRead         = "UPSTREAM_READ"
	CodeMalformedXML         = "MALFORMED_XML"
	CodeDisallowedEndpoint   = "DISALLOWED_ENDPOINT"
	CodeDownstreamWrite      = "DOWNSTREAM_WRITE"
	CodeResponseQueueClosed  = "RESPONSE_QUEUE_CLOSED"
	CodeRateLimited          = "RATE_LIMITED"
)

// AppError carries a stable code alongside a human message and an
// optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with no wrapped cause.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates a new AppError wrapping another error.
func Wrap(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}
