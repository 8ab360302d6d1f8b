package jsonrpc

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/linesearch/pkg/errors"
)

// Version is the only protocol version accepted in the "jsonrpc" member.
const Version = "2.0"

// Request is the wire format for a JSON-RPC 2.0 request. A nil ID marks a
// notification; an explicit null ID decodes to the literal "null".
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carried no id member.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is the wire format for a JSON-RPC 2.0 response. Exactly one of
// Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is a JSON-RPC 2.0 error object. Handlers may return it directly to
// control the code and message sent to the client.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// InvalidParams builds a -32602 error with the given message.
func InvalidParams(message string) *Error {
	return NewError(apperrors.CodeInvalidParams, message)
}

var (
	errParse          = NewError(apperrors.CodeParseError, "Parse error")
	errInvalidRequest = NewError(apperrors.CodeInvalidRequest, "Invalid request")
	errMethodNotFound = NewError(apperrors.CodeMethodNotFound, "Method not found")
	errInternal       = NewError(apperrors.CodeInternalError, "Internal error")
)

func newErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}

func newResultResponse(id json.RawMessage, result json.RawMessage) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: id}
}

// validID accepts the id forms JSON-RPC 2.0 allows: string, number or null.
func validID(id json.RawMessage) bool {
	if len(id) == 0 {
		return true
	}
	switch id[0] {
	case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	default:
		return false
	}
}
