package analytics

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/kafka"
)

const (
	// latencyWindow bounds the number of samples kept for percentiles.
	latencyWindow = 10000
	// maxTrackedQueries bounds each per-query counter table. The least
	// recently seen query is evicted first.
	maxTrackedQueries = 10000
	// maxQueryKeyLen is the longest query key kept, in bytes.
	maxQueryKeyLen = 256
)

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	TotalFetches      int64        `json:"total_fetches"`
	FetchMisses       int64        `json:"fetch_misses"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyUs      float64      `json:"avg_latency_us"`
	P50LatencyUs      int64        `json:"p50_latency_us"`
	P95LatencyUs      int64        `json:"p95_latency_us"`
	P99LatencyUs      int64        `json:"p99_latency_us"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	Since             time.Time    `json:"since"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds query events into running totals. It is safe for
// concurrent use.
type Aggregator struct {
	mu                sync.Mutex
	totalSearches     int64
	totalFetches      int64
	fetchMisses       int64
	cacheHits         int64
	cacheMisses       int64
	zeroResults       int64
	latencies         []int64
	next              int
	queryCounts       *lru.Cache[string, int64]
	zeroResultQueries *lru.Cache[string, int64]
	startTime         time.Time
	topN              int
	now               func() time.Time
	logger            *slog.Logger
}

func NewAggregator(topN int) *Aggregator {
	return newAggregator(topN, maxTrackedQueries)
}

func newAggregator(topN, tracked int) *Aggregator {
	if topN <= 0 {
		topN = 10
	}
	// lru.New fails only for a non-positive size.
	queryCounts, _ := lru.New[string, int64](tracked)
	zeroResultQueries, _ := lru.New[string, int64](tracked)
	return &Aggregator{
		latencies:         make([]int64, 0, 1024),
		queryCounts:       queryCounts,
		zeroResultQueries: zeroResultQueries,
		startTime:         time.Now(),
		topN:              topN,
		now:               time.Now,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// Record folds one event into the totals.
func (a *Aggregator) Record(event QueryEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch event.Type {
	case EventSearch:
		a.totalSearches++
		if event.CacheHit {
			a.cacheHits++
		} else {
			a.cacheMisses++
		}
		key := queryKey(event)
		increment(a.queryCounts, key)
		if event.Hits == 0 {
			a.zeroResults++
			increment(a.zeroResultQueries, key)
		}
	case EventFetch:
		a.totalFetches++
		if !event.Found {
			a.fetchMisses++
		}
	default:
		a.logger.Debug("ignoring event", "type", event.Type)
		return
	}
	a.addLatency(event.LatencyUs)
}

func increment(counts *lru.Cache[string, int64], key string) {
	n, _ := counts.Get(key)
	counts.Add(key, n+1)
}

// queryKey groups queries by their normalised terms so that "Hello" and
// "hello!" count as one query. Keys are cut to maxQueryKeyLen.
func queryKey(event QueryEvent) string {
	key := event.Query
	if len(event.Terms) > 0 {
		key = strings.Join(event.Terms, " ")
	}
	return truncate(key, maxQueryKeyLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	// Clone so the tail of a large query is not retained.
	return strings.Clone(s[:n])
}

func (a *Aggregator) addLatency(us int64) {
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, us)
		return
	}
	a.latencies[a.next] = us
	a.next = (a.next + 1) % latencyWindow
}

// HandleMessage adapts the aggregator to a Kafka consumer.
func (a *Aggregator) HandleMessage(_ context.Context, _ []byte, value []byte) error {
	event, err := kafka.DecodeJSON[QueryEvent](value)
	if err != nil {
		// A poison message would otherwise block the partition forever.
		a.logger.Error("failed to decode query event", "error", err)
		return nil
	}
	a.Record(event)
	return nil
}

// Stats returns a snapshot of the totals. Sorting happens after the lock is
// released.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.Lock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches,
		TotalFetches:    a.totalFetches,
		FetchMisses:     a.fetchMisses,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
		Since:           a.startTime.UTC(),
	}
	sorted := slices.Clone(a.latencies)
	queries := counts(a.queryCounts)
	zeroResults := counts(a.zeroResultQueries)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches+stats.TotalFetches) / elapsed
	}
	a.mu.Unlock()

	if len(sorted) > 0 {
		slices.Sort(sorted)

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyUs = float64(sum) / float64(len(sorted))
		stats.P50LatencyUs = percentile(sorted, 50)
		stats.P95LatencyUs = percentile(sorted, 95)
		stats.P99LatencyUs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(queries, a.topN)
	stats.ZeroResultQueries = topN(zeroResults, a.topN)
	return stats
}

func counts(c *lru.Cache[string, int64]) []QueryCount {
	result := make([]QueryCount, 0, c.Len())
	for _, query := range c.Keys() {
		if count, ok := c.Peek(query); ok {
			result = append(result, QueryCount{Query: query, Count: count})
		}
	}
	return result
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n most frequent queries, ties broken alphabetically.
func topN(result []QueryCount, n int) []QueryCount {
	slices.SortFunc(result, func(a, b QueryCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Query, b.Query)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
