package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/Adithya-Monish-Kumar-K/linesearch/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func echoServer(opts ...Option) *Server {
	s := NewServer(opts...)
	s.Register("echo", func(_ context.Context, params json.RawMessage) (any, error) {
		var args []any
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParams("expected an array")
		}
		return args, nil
	})
	s.Register("nothing", func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})
	s.Register("missing", func(context.Context, json.RawMessage) (any, error) {
		return nil, apperrors.New(apperrors.ErrLineNotFound, apperrors.CodeInvalidRecord, "Invalid record ID: gone")
	})
	s.Register("broken", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("disk on fire")
	})
	s.Register("panics", func(context.Context, json.RawMessage) (any, error) {
		panic("boom")
	})
	return s
}

func handle(t *testing.T, s *Server, body string) map[string]any {
	t.Helper()
	out := s.Handle(context.Background(), []byte(body))
	require.NotNil(t, out)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	return resp
}

func errorCode(t *testing.T, resp map[string]any) float64 {
	t.Helper()
	e, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected error member in %v", resp)
	return e["code"].(float64)
}

func TestHandleSuccess(t *testing.T) {
	resp := handle(t, echoServer(), `{"jsonrpc":"2.0","method":"echo","params":["a",1],"id":7}`)
	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.Equal(t, []any{"a", float64(1)}, resp["result"])
	assert.Equal(t, float64(7), resp["id"])
	assert.NotContains(t, resp, "error")
}

func TestHandleEchoesIDVerbatim(t *testing.T) {
	s := echoServer()
	for _, id := range []string{`"abc"`, `42`, `-3`, `1.5`, `null`} {
		out := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"echo","params":[],"id":`+id+`}`))
		require.NotNil(t, out, "id %s", id)
		assert.Contains(t, string(out), `"id":`+id)
	}
}

func TestHandleNullResultIsPresent(t *testing.T) {
	out := echoServer().Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"nothing","id":1}`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":null,"id":1}`, string(out))
}

func TestHandleErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, apperrors.CodeParseError},
		{"empty body", ``, apperrors.CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"echo","id":1}`, apperrors.CodeInvalidRequest},
		{"missing version", `{"method":"echo","id":1}`, apperrors.CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, apperrors.CodeInvalidRequest},
		{"object id", `{"jsonrpc":"2.0","method":"echo","id":{}}`, apperrors.CodeInvalidRequest},
		{"not an object", `"hello"`, apperrors.CodeInvalidRequest},
		{"empty batch", `[]`, apperrors.CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"nope","id":1}`, apperrors.CodeMethodNotFound},
		{"handler rpc error", `{"jsonrpc":"2.0","method":"echo","params":{},"id":1}`, apperrors.CodeInvalidParams},
		{"app error", `{"jsonrpc":"2.0","method":"missing","id":1}`, apperrors.CodeInvalidRecord},
		{"plain error", `{"jsonrpc":"2.0","method":"broken","id":1}`, apperrors.CodeInternalError},
		{"panic", `{"jsonrpc":"2.0","method":"panics","id":1}`, apperrors.CodeInternalError},
	}
	s := echoServer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := handle(t, s, tt.body)
			assert.Equal(t, float64(tt.code), errorCode(t, resp))
			assert.NotContains(t, resp, "result")
		})
	}
}

func TestHandleParseErrorHasNullID(t *testing.T) {
	out := echoServer().Handle(context.Background(), []byte(`{bad json`))
	assert.JSONEq(t, `{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`, string(out))
}

func TestHandleAppErrorMessage(t *testing.T) {
	resp := handle(t, echoServer(), `{"jsonrpc":"2.0","method":"missing","id":1}`)
	assert.Equal(t, "Invalid record ID: gone", resp["error"].(map[string]any)["message"])
}

func TestHandleInternalErrorHidesDetail(t *testing.T) {
	resp := handle(t, echoServer(), `{"jsonrpc":"2.0","method":"broken","id":1}`)
	assert.Equal(t, "Internal error", resp["error"].(map[string]any)["message"])
}

func TestHandleNotification(t *testing.T) {
	s := NewServer()
	called := make(chan string, 1)
	s.Register("note", func(_ context.Context, params json.RawMessage) (any, error) {
		called <- string(params)
		return "ignored", nil
	})
	out := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"note","params":["x"]}`))
	assert.Nil(t, out)
	assert.Equal(t, `["x"]`, <-called)
}

func TestHandleBatch(t *testing.T) {
	body := `[
		{"jsonrpc":"2.0","method":"echo","params":["a"],"id":1},
		{"jsonrpc":"2.0","method":"echo","params":["b"]},
		{"jsonrpc":"2.0","method":"nope","id":"x"},
		1
	]`
	out := echoServer().Handle(context.Background(), []byte(body))
	require.NotNil(t, out)

	var resps []map[string]any
	require.NoError(t, json.Unmarshal(out, &resps))
	require.Len(t, resps, 3)
	assert.Equal(t, []any{"a"}, resps[0]["result"])
	assert.Equal(t, float64(1), resps[0]["id"])
	assert.Equal(t, float64(apperrors.CodeMethodNotFound), errorCode(t, resps[1]))
	assert.Equal(t, "x", resps[1]["id"])
	assert.Equal(t, float64(apperrors.CodeInvalidRequest), errorCode(t, resps[2]))
	assert.Nil(t, resps[2]["id"])
}

func TestHandleBatchOfNotifications(t *testing.T) {
	body := `[{"jsonrpc":"2.0","method":"echo","params":[]},{"jsonrpc":"2.0","method":"echo","params":[]}]`
	assert.Nil(t, echoServer().Handle(context.Background(), []byte(body)))
}

func TestObserver(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	s := echoServer(WithObserver(func(method string, code int, d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		seen[method] = code
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}))
	handle(t, s, `{"jsonrpc":"2.0","method":"echo","params":[],"id":1}`)
	handle(t, s, `{"jsonrpc":"2.0","method":"missing","id":2}`)
	handle(t, s, `{"jsonrpc":"2.0","method":"nope","id":3}`)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{
		"echo":    0,
		"missing": apperrors.CodeInvalidRecord,
		"nope":    apperrors.CodeMethodNotFound,
	}, seen)
}

func TestServeHTTPRejectsNonPost(t *testing.T) {
	rec := httptest.NewRecorder()
	echoServer().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestServeHTTPBodyLimit(t *testing.T) {
	s := echoServer(WithMaxBodyBytes(64))
	body := `{"jsonrpc":"2.0","method":"echo","params":["` + strings.Repeat("x", 128) + `"],"id":1}`
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServeHTTPNotificationNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	body := `{"jsonrpc":"2.0","method":"echo","params":[]}`
	echoServer().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestServeHTTPJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	body := `{"jsonrpc":"2.0","method":"echo","params":[true],"id":1}`
	echoServer().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	data, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":[true],"id":1}`, string(data))
}

func TestMethodCount(t *testing.T) {
	assert.Equal(t, 5, echoServer().MethodCount())
}
