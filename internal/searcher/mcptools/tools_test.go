package mcptools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/indexer"
)

func connect(t *testing.T) *mcp.ClientSession {
	t.Helper()
	engine, err := indexer.Load(strings.NewReader("alpha beta\nBeta gamma\n\n"))
	require.NoError(t, err)
	srv := New(engine, "test")

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func structured[T any](t *testing.T, res *mcp.CallToolResult) T {
	t.Helper()
	data, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestListTools(t *testing.T) {
	session := connect(t)
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search", "fetch"}, names)
}

func TestSearchTool(t *testing.T) {
	session := connect(t)
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": "BETA"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, []int{0, 1}, structured[SearchOutput](t, res).Lines)

	res, err = session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": "delta"},
	})
	require.NoError(t, err)
	assert.Empty(t, structured[SearchOutput](t, res).Lines)
}

func TestFetchTool(t *testing.T) {
	session := connect(t)
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "fetch",
		Arguments: map[string]any{"line": 1},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, FetchOutput{Line: 1, Text: "Beta gamma"}, structured[FetchOutput](t, res))

	res, err = session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "fetch",
		Arguments: map[string]any{"line": 3},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
