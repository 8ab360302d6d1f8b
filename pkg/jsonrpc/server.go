// Package jsonrpc implements JSON-RPC 2.0 over HTTP POST.
//
// A Server is an http.Handler holding a method table. Each request body is a
// single call or a batch; calls without an id are notifications and produce
// no response. The same Server may be mounted on any number of listeners.
//
// Example server:
//
//	s := jsonrpc.NewServer()
//	s.Register("search", func(ctx context.Context, params json.RawMessage) (any, error) {
//	    var args []string
//	    if err := json.Unmarshal(params, &args); err != nil {
//	        return nil, jsonrpc.InvalidParams("expected a query")
//	    }
//	    return engine.Search(args[0]), nil
//	})
//	http.ListenAndServe("127.0.0.1:8080", s)
//
// Example client:
//
//	c := jsonrpc.NewClient("http://127.0.0.1:8080", nil)
//	var lines []int
//	err := c.Call(ctx, "search", []string{"hello"}, &lines)
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/linesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/tracing"
)

// DefaultMaxBodyBytes bounds a request body when no limit is configured.
const DefaultMaxBodyBytes = 5 << 20

// HandlerFunc processes the raw params of one call. Returning a *Error sends
// it unchanged; any other error is mapped through pkg/errors.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Observer is told about every dispatched call. code is 0 on success.
type Observer func(method string, code int, duration time.Duration)

type Option func(*Server)

// WithMaxBodyBytes limits the accepted request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithObserver installs a per-call observer, typically for metrics.
func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// Server dispatches JSON-RPC calls to registered handlers.
type Server struct {
	handlers     map[string]HandlerFunc
	mu           sync.RWMutex
	logger       *slog.Logger
	maxBodyBytes int64
	observer     Observer
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		handlers:     make(map[string]HandlerFunc),
		logger:       slog.Default().With("component", "jsonrpc"),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a handler for the given method name, replacing any
// previous one.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	out := s.Handle(r.Context(), body)
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(out); err != nil {
		s.logger.Warn("write error", "error", err)
	}
}

// Handle processes one request body and returns the encoded response, or nil
// when the body held only notifications.
func (s *Server) Handle(ctx context.Context, body []byte) []byte {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return s.encode(newErrorResponse(nil, errParse))
	}

	if trimmed[0] != '[' {
		resp := s.handleOne(ctx, trimmed)
		if resp == nil {
			return nil
		}
		return s.encode(resp)
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return s.encode(newErrorResponse(nil, errParse))
	}
	if len(batch) == 0 {
		return s.encode(newErrorResponse(nil, errInvalidRequest))
	}

	responses := make([]*Response, 0, len(batch))
	for _, raw := range batch {
		if resp := s.handleOne(ctx, raw); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	return s.encode(responses)
}

func (s *Server) handleOne(ctx context.Context, raw json.RawMessage) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return newErrorResponse(nil, errInvalidRequest)
	}
	if req.JSONRPC != Version || req.Method == "" || !validID(req.ID) {
		id := req.ID
		if !validID(id) {
			id = nil
		}
		return newErrorResponse(id, errInvalidRequest)
	}

	result, rpcErr := s.dispatch(ctx, &req)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return newErrorResponse(req.ID, rpcErr)
	}
	return newResultResponse(req.ID, result)
}

func (s *Server) dispatch(ctx context.Context, req *Request) (json.RawMessage, *Error) {
	s.mu.RLock()
	handler, exists := s.handlers[req.Method]
	s.mu.RUnlock()

	ctx, span := tracing.StartSpan(ctx, "rpc."+req.Method, logger.RequestIDFromContext(ctx))
	span.SetAttr("method", req.Method)

	var (
		result json.RawMessage
		rpcErr *Error
	)
	if !exists {
		rpcErr = errMethodNotFound
	} else {
		result, rpcErr = s.invoke(ctx, req.Method, handler, req.Params)
	}

	duration := span.End()
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
		span.SetError(rpcErr)
	}
	span.Log(ctx, logger.FromContext(ctx))
	if s.observer != nil {
		s.observer(req.Method, code, duration)
	}
	return result, rpcErr
}

func (s *Server) invoke(ctx context.Context, method string, handler HandlerFunc, params json.RawMessage) (result json.RawMessage, rpcErr *Error) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error("handler panic", "method", method, "panic", fmt.Sprint(r))
			result, rpcErr = nil, errInternal
		}
	}()

	value, err := handler(ctx, params)
	if err != nil {
		return nil, s.toError(ctx, method, err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		logger.FromContext(ctx).Error("encoding result", "method", method, "error", err)
		return nil, errInternal
	}
	return data, nil
}

func (s *Server) toError(ctx context.Context, method string, err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	code := apperrors.RPCCode(err)
	if code == apperrors.CodeInternalError {
		logger.FromContext(ctx).Error("handler failed", "method", method, "error", err)
	}
	return NewError(code, apperrors.RPCMessage(err))
}

func (s *Server) encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encoding response", "error", err)
		data, _ = json.Marshal(newErrorResponse(nil, errInternal))
	}
	return data
}
