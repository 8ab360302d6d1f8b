package errors

import (
	"context"
	"errors"
	"fmt"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeInvalidRecord is returned when a syntactically valid request names
	// a line outside the corpus.
	CodeInvalidRecord = -32001
	// CodeTimeout is returned when a request exceeds its deadline.
	CodeTimeout = -32003
)

var (
	ErrLineNotFound   = errors.New("line not found")
	ErrInvalidParams  = errors.New("invalid parameters")
	ErrInvalidRequest = errors.New("invalid request")
	ErrMethodNotFound = errors.New("method not found")
	ErrCorpusLoad     = errors.New("corpus could not be loaded")
	ErrNoAddresses    = errors.New("no listen addresses provided")
	ErrNoListeners    = errors.New("no listener could be started")
	ErrInternal       = errors.New("internal error")
	ErrTimeout        = errors.New("operation timed out")
)

type AppError struct {
	Err     error
	Message string
	Code    int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, code int, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: message,
		Code:    code,
	}
}

func Newf(sentinel error, code int, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	}
}

// RPCCode maps err to the JSON-RPC error code reported to clients.
func RPCCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	switch {
	case errors.Is(err, ErrLineNotFound):
		return CodeInvalidRecord
	case errors.Is(err, ErrInvalidParams):
		return CodeInvalidParams
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrMethodNotFound):
		return CodeMethodNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternalError
	}
}

// RPCMessage returns the client-facing message for err. Internal errors are
// not echoed to clients.
func RPCMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch RPCCode(err) {
	case CodeInvalidRecord:
		return "Invalid record ID"
	case CodeInvalidParams:
		return "Invalid params"
	case CodeInvalidRequest:
		return "Invalid request"
	case CodeMethodNotFound:
		return "Method not found"
	case CodeTimeout:
		return "Request timed out"
	default:
		return "Internal error"
	}
}
