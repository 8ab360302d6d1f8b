// Package handler implements the JSON-RPC methods of the search service and
// the HTTP endpoints that inspect its query cache.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/linesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/jsonrpc"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/metrics"
)

const (
	msgSearchParams  = "Invalid parameters: Expected a single string query."
	msgFetchParams   = "Invalid parameters: Expected a single unsigned integer line number."
	msgLineNotFound  = "Invalid record ID: Line number out of bounds."
	msgInitialize    = "Invalid parameters for initialize: "
	clientVersionNA  = "N/A"
	maxLineParamBits = 64
)

// Engine is the read-only index the handlers query. *indexer.Engine
// satisfies it.
type Engine interface {
	Search(query string) []int
	Fetch(line int) (string, bool)
	Terms(query string) []string
}

// Capabilities is the result of initialize.
type Capabilities struct {
	Capabilities ServerCapabilities `json:"capabilities"`
}

type ServerCapabilities struct {
	Tools  ToolCapabilities    `json:"tools"`
	Search FeatureCapabilities `json:"search"`
	Fetch  FeatureCapabilities `json:"fetch"`
}

type ToolCapabilities struct {
	ListChanged bool `json:"listChanged"`
}

type FeatureCapabilities struct {
	Enabled bool `json:"enabled"`
}

type Option func(*Handler)

// WithCache memoises search results in c.
func WithCache(c *cache.QueryCache) Option {
	return func(h *Handler) { h.cache = c }
}

// WithCollector reports every search and fetch to c.
func WithCollector(c *analytics.Collector) Option {
	return func(h *Handler) { h.collector = c }
}

// WithMetrics records result sizes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

type Handler struct {
	engine    Engine
	cache     *cache.QueryCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(engine Engine, opts ...Option) *Handler {
	h := &Handler{
		engine: engine,
		logger: slog.Default().With("component", "rpc-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register installs search, fetch and initialize on s.
func (h *Handler) Register(s *jsonrpc.Server) {
	s.Register("search", h.Search)
	s.Register("fetch", h.Fetch)
	s.Register("initialize", h.Initialize)
}

// Search expects params of the form ["query"] and returns the matching line
// numbers in ascending order.
func (h *Handler) Search(ctx context.Context, params json.RawMessage) (any, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	query, err := singleString(params)
	if err != nil {
		log.Error("failed to parse search params", "params", string(params), "error", err)
		return nil, jsonrpc.InvalidParams(msgSearchParams)
	}
	log.Log(ctx, logger.LevelTrace, "parsed search query", "query", query)

	terms := h.engine.Terms(query)
	var (
		lines    []int
		cacheHit bool
	)
	if h.cache != nil && len(terms) > 0 {
		lines, cacheHit = h.cache.GetOrCompute(ctx, terms, func() []int {
			return h.engine.Search(query)
		})
	} else {
		lines = h.engine.Search(query)
	}
	if lines == nil {
		lines = []int{}
	}

	log.Debug("search completed",
		"query", query,
		"hits", len(lines),
		"cache_hit", cacheHit,
	)
	log.Log(ctx, logger.LevelTrace, "search results", "query", query, "lines", lines)

	if h.metrics != nil {
		h.metrics.SearchResultsCount.Observe(float64(len(lines)))
	}
	h.track(ctx, analytics.QueryEvent{
		Type:      analytics.EventSearch,
		Query:     query,
		Terms:     terms,
		Hits:      len(lines),
		CacheHit:  cacheHit,
		LatencyUs: time.Since(start).Microseconds(),
	})
	return lines, nil
}

// Fetch expects params of the form [line] and returns the literal text of
// that line.
func (h *Handler) Fetch(ctx context.Context, params json.RawMessage) (any, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	n, err := singleUnsigned(params)
	if err != nil {
		log.Error("failed to parse fetch params", "params", string(params), "error", err)
		return nil, jsonrpc.InvalidParams(msgFetchParams)
	}

	text, found := "", false
	line := -1
	if n <= math.MaxInt {
		line = int(n)
		text, found = h.engine.Fetch(line)
	}

	h.track(ctx, analytics.QueryEvent{
		Type:      analytics.EventFetch,
		Line:      line,
		Found:     found,
		LatencyUs: time.Since(start).Microseconds(),
	})

	if !found {
		log.Warn("fetch line out of bounds", "line", n)
		return nil, apperrors.New(apperrors.ErrLineNotFound, apperrors.CodeInvalidRecord, msgLineNotFound)
	}
	log.Log(ctx, logger.LevelTrace, "fetched line", "line", line, "text", text)
	return text, nil
}

type clientInfo struct {
	Name    *string `json:"name"`
	Version *string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion *string         `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ClientInfo      *clientInfo     `json:"clientInfo"`
}

// Initialize performs the capability handshake and logs the client identity.
func (h *Handler) Initialize(ctx context.Context, params json.RawMessage) (any, error) {
	log := logger.FromContext(ctx)

	p, err := parseInitialize(params)
	if err != nil {
		log.Error("failed to parse initialize params", "error", err)
		return nil, jsonrpc.InvalidParams(msgInitialize + err.Error())
	}

	attrs := []any{"capabilities", string(p.Capabilities)}
	if p.ProtocolVersion != nil {
		attrs = append(attrs, "protocol_version", *p.ProtocolVersion)
	}
	log.Info("initialize", attrs...)
	if p.ClientInfo != nil {
		version := clientVersionNA
		if p.ClientInfo.Version != nil {
			version = *p.ClientInfo.Version
		}
		log.Info("client connected", "client_name", *p.ClientInfo.Name, "client_version", version)
	}

	return Capabilities{
		Capabilities: ServerCapabilities{
			Tools:  ToolCapabilities{ListChanged: true},
			Search: FeatureCapabilities{Enabled: true},
			Fetch:  FeatureCapabilities{Enabled: true},
		},
	}, nil
}

func parseInitialize(params json.RawMessage) (*initializeParams, error) {
	if !isObject(params) {
		return nil, errors.New("expected an object")
	}
	var p initializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	// capabilities may hold any JSON value, null included, but must be present.
	if len(p.Capabilities) == 0 {
		return nil, errors.New("missing field `capabilities`")
	}
	if p.ClientInfo != nil && p.ClientInfo.Name == nil {
		return nil, errors.New("missing field `name` in `clientInfo`")
	}
	return &p, nil
}

func (h *Handler) track(ctx context.Context, event analytics.QueryEvent) {
	if h.collector == nil {
		return
	}
	event.Timestamp = time.Now().UTC()
	event.RequestID = logger.RequestIDFromContext(ctx)
	h.collector.Track(event)
}

// singleParam decodes params as a positional array of exactly one element.
func singleParam(params json.RawMessage) (json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("expected 1 parameter, got %d", len(args))
	}
	return args[0], nil
}

func singleString(params json.RawMessage) (string, error) {
	arg, err := singleParam(params)
	if err != nil {
		return "", err
	}
	if len(arg) == 0 || arg[0] != '"' {
		return "", fmt.Errorf("expected a string, got %s", arg)
	}
	var s string
	if err := json.Unmarshal(arg, &s); err != nil {
		return "", err
	}
	return s, nil
}

// singleUnsigned accepts only a plain JSON integer literal: no sign, fraction
// or exponent.
func singleUnsigned(params json.RawMessage) (uint64, error) {
	arg, err := singleParam(params)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(arg), 10, maxLineParamBits)
}

func isObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// CacheStats reports query cache counters.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	stats := h.cache.Stats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":        stats.Hits,
		"remote_hits": stats.RemoteHits,
		"misses":      stats.Misses,
		"entries":     stats.Entries,
		"remote":      stats.Remote,
		"hit_rate":    fmt.Sprintf("%.1f%%", stats.HitRate()*100),
	})
}

// CacheInvalidate drops every cached search result.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "remote_keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
