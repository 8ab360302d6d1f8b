package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/resilience"
)

const keyPrefix = "linesearch:search:"

// Remote is the shared cache tier. *redis.Client satisfies it.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPrefix(ctx context.Context, prefix string) (int64, error)
}

type Config struct {
	Size       int
	TTL        time.Duration
	OpTimeout  time.Duration
	Generation uint64
	Breaker    resilience.CircuitBreakerConfig
}

// QueryCache memoises search results per normalised term set. Lookups go to
// an in-process LRU first and then, if configured, to a Remote guarded by a
// circuit breaker. Concurrent misses for one key are computed once.
//
// Result slices are shared between callers and must not be modified.
type QueryCache struct {
	local     *lru.Cache[uint64, []int]
	remote    Remote
	breaker   *resilience.CircuitBreaker
	group     singleflight.Group
	ttl       time.Duration
	opTimeout time.Duration
	prefix    string
	logger    *slog.Logger

	hits       atomic.Int64
	remoteHits atomic.Int64
	misses     atomic.Int64
}

// New builds a cache. remote may be nil to run with the local tier only.
func New(cfg Config, remote Remote) (*QueryCache, error) {
	local, err := lru.New[uint64, []int](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("creating lru cache: %w", err)
	}
	c := &QueryCache{
		local:     local,
		remote:    remote,
		ttl:       cfg.TTL,
		opTimeout: cfg.OpTimeout,
		prefix:    keyPrefix + strconv.FormatUint(cfg.Generation, 16) + ":",
		logger:    slog.Default().With("component", "query-cache"),
	}
	if remote != nil {
		c.breaker = resilience.NewCircuitBreaker("redis-cache", cfg.Breaker)
	}
	return c, nil
}

// Key hashes a term list. Order and repetition do not matter for a
// conjunctive query, so neither affects the key.
func Key(terms []string) uint64 {
	sorted := slices.Clone(terms)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	d := xxhash.New()
	for _, t := range sorted {
		_, _ = d.WriteString(t)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

type lookup struct {
	lines []int
	hit   bool
}

// GetOrCompute returns the cached lines for terms, calling compute on a miss.
// The boolean reports whether the result came from either cache tier.
func (c *QueryCache) GetOrCompute(ctx context.Context, terms []string, compute func() []int) ([]int, bool) {
	key := Key(terms)
	if lines, ok := c.local.Get(key); ok {
		c.hits.Add(1)
		return lines, true
	}

	v, _, _ := c.group.Do(strconv.FormatUint(key, 16), func() (any, error) {
		if lines, ok := c.local.Get(key); ok {
			c.hits.Add(1)
			return lookup{lines: lines, hit: true}, nil
		}
		if lines, ok := c.getRemote(ctx, key); ok {
			c.local.Add(key, lines)
			c.remoteHits.Add(1)
			return lookup{lines: lines, hit: true}, nil
		}
		lines := compute()
		c.misses.Add(1)
		c.local.Add(key, lines)
		c.setRemote(ctx, key, lines)
		return lookup{lines: lines}, nil
	})
	res := v.(lookup)
	return res.lines, res.hit
}

func (c *QueryCache) remoteKey(key uint64) string {
	return c.prefix + strconv.FormatUint(key, 16)
}

func (c *QueryCache) getRemote(ctx context.Context, key uint64) ([]int, bool) {
	if c.remote == nil {
		return nil, false
	}
	var (
		data  []byte
		found bool
	)
	err := c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, c.opTimeout, "redis-get", func(ctx context.Context) error {
			var err error
			data, found, err = c.remote.Get(ctx, c.remoteKey(key))
			return err
		})
	})
	if err != nil {
		c.logRemoteError("cache get failed", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var lines []int
	if err := json.Unmarshal(data, &lines); err != nil {
		c.logger.Warn("cache entry unreadable", "key", c.remoteKey(key), "error", err)
		return nil, false
	}
	if lines == nil {
		lines = []int{}
	}
	return lines, true
}

func (c *QueryCache) setRemote(ctx context.Context, key uint64, lines []int) {
	if c.remote == nil {
		return
	}
	data, err := json.Marshal(lines)
	if err != nil {
		c.logger.Error("cache marshal failed", "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, c.opTimeout, "redis-set", func(ctx context.Context) error {
			return c.remote.Set(ctx, c.remoteKey(key), data, c.ttl)
		})
	})
	if err != nil {
		c.logRemoteError("cache set failed", err)
	}
}

func (c *QueryCache) logRemoteError(msg string, err error) {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Debug(msg, "error", err)
		return
	}
	c.logger.Warn(msg, "error", err)
}

// Invalidate empties the local tier and deletes this generation's entries
// from the remote tier.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	c.local.Purge()
	if c.remote == nil {
		return 0, nil
	}
	deleted, err := c.remote.FlushByPrefix(ctx, c.prefix)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

type Stats struct {
	Hits       int64  `json:"hits"`
	RemoteHits int64  `json:"remote_hits"`
	Misses     int64  `json:"misses"`
	Entries    int    `json:"entries"`
	Remote     string `json:"remote"`
}

// HitRate is the fraction of lookups served by either tier.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.RemoteHits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits+s.RemoteHits) / float64(total)
}

func (c *QueryCache) Stats() Stats {
	s := Stats{
		Hits:       c.hits.Load(),
		RemoteHits: c.remoteHits.Load(),
		Misses:     c.misses.Load(),
		Entries:    c.local.Len(),
		Remote:     "disabled",
	}
	if c.breaker != nil {
		s.Remote = c.breaker.State().String()
	}
	return s
}
