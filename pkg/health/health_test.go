package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func up(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} }

func TestRunAggregatesWorstStatus(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("a", up)
	assert.Equal(t, StatusUp, c.Run(context.Background()).Status)

	c.Register("b", func(context.Context) ComponentHealth { return ComponentHealth{Status: StatusDegraded} })
	assert.Equal(t, StatusDegraded, c.Run(context.Background()).Status)

	c.Register("c", func(context.Context) ComponentHealth { return ComponentHealth{Status: StatusDown} })
	report := c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Len(t, report.Components, 3)
	assert.NotEmpty(t, report.Components["a"].Latency)
}

func TestIndexCheck(t *testing.T) {
	lines, terms := 0, 0
	check := IndexCheck(func() int { return lines }, func() int { return terms })
	assert.Equal(t, StatusDegraded, check(context.Background()).Status)

	lines, terms = 10, 42
	got := check(context.Background())
	assert.Equal(t, StatusUp, got.Status)
	assert.Equal(t, "10 lines, 42 terms", got.Message)
}

func TestPingCheck(t *testing.T) {
	assert.Equal(t, StatusDegraded, PingCheck(nil)(context.Background()).Status)

	ok := pingerFunc(func(context.Context) error { return nil })
	assert.Equal(t, StatusUp, PingCheck(ok)(context.Background()).Status)

	failing := pingerFunc(func(context.Context) error { return errors.New("connection refused") })
	got := PingCheck(failing)(context.Background())
	assert.Equal(t, StatusDegraded, got.Status)
	assert.Equal(t, "connection refused", got.Message)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("index", up)
	c.Register("redis", PingCheck(nil))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)

	c.Register("index", func(context.Context) ComponentHealth { return ComponentHealth{Status: StatusDown} })
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker(0).LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
