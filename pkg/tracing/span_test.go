package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpansInheritTraceID(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "rpc.search", "req-7")
	_, child := StartChildSpan(ctx, "engine.search")
	child.End()
	root.End()

	assert.Equal(t, "req-7", child.TraceID)
	assert.Equal(t, []*Span{child}, root.Children())
	assert.Same(t, root, FromContext(ctx))
}

func TestChildSpanWithoutParent(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, span.TraceID)
	assert.Same(t, span, FromContext(ctx))
}

func TestLogWritesTreeAtDebug(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, root := StartSpan(context.Background(), "rpc.fetch", "req-1")
	root.SetAttr("method", "fetch")
	root.SetError(errors.New("out of bounds"))
	_, child := StartChildSpan(ctx, "engine.fetch")
	child.End()
	root.End()
	root.Log(ctx, log)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "rpc.fetch", first["span"])
	assert.Equal(t, "fetch", first["method"])
	assert.Equal(t, "out of bounds", first["error"])
	assert.EqualValues(t, 0, first["depth"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "engine.fetch", second["span"])
	assert.EqualValues(t, 1, second["depth"])
}

func TestLogSilentAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, span := StartSpan(context.Background(), "quiet", "")
	span.End()
	span.Log(ctx, log)
	assert.Empty(t, buf.String())
}
