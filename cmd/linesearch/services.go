package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/analytics/store"
	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/linesearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/resilience"
)

const connectTimeout = 10 * time.Second

// services holds the optional collaborators of the search server. Any field
// may be nil when its feature is disabled or its backend is unreachable.
type services struct {
	metrics    *metrics.Metrics
	redis      *pkgredis.Client
	cache      *cache.QueryCache
	producer   *kafka.Producer
	aggregator *analytics.Aggregator
	collector  *analytics.Collector
	db         *postgres.Client
	store      *store.Store

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// startServices connects the optional collaborators. Background work runs
// until close is called.
func startServices(ctx context.Context, cfg *config.Config, engine *indexer.Engine) *services {
	s := &services{}
	ctx, s.cancel = context.WithCancel(ctx)

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
		s.metrics.CorpusLines.Set(float64(engine.LineCount()))
		s.metrics.IndexTerms.Set(float64(engine.TermCount()))
	}

	if cfg.Redis.Addr != "" {
		s.redis = connectRedis(ctx, cfg.Redis)
	}
	if cfg.Cache.Enabled {
		s.startCache(cfg, engine.Fingerprint())
	}
	if cfg.Analytics.Enabled {
		s.startAnalytics(ctx, cfg)
	}
	return s
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) *pkgredis.Client {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := pkgredis.NewClient(ctx, cfg)
	if err != nil {
		slog.Warn("redis unavailable, shared cache disabled", "addr", cfg.Addr, "error", err)
		return nil
	}
	slog.Info("redis connected", "addr", cfg.Addr)
	return client
}

func connectPostgres(ctx context.Context, cfg config.PostgresConfig) *postgres.Client {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	db, err := postgres.New(ctx, cfg)
	if err != nil {
		slog.Warn("postgres unavailable, analytics snapshots disabled", "host", cfg.Host, "error", err)
		return nil
	}
	slog.Info("postgres connected", "host", cfg.Host, "database", cfg.Database)
	return db
}

func (s *services) startCache(cfg *config.Config, generation uint64) {
	var remote cache.Remote
	if s.redis != nil {
		remote = s.redis
	}
	breaker := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Redis.MaxFailures,
		ResetTimeout:     cfg.Redis.ResetTimeout,
	}
	if s.metrics != nil {
		m := s.metrics
		breaker.OnStateChange = func(name string, _, to resilience.State) {
			m.SetBreakerState(name, int(to))
		}
	}

	qc, err := cache.New(cache.Config{
		Size:       cfg.Cache.Size,
		TTL:        cfg.Redis.CacheTTL,
		OpTimeout:  cfg.Redis.OpTimeout,
		Generation: generation,
		Breaker:    breaker,
	}, remote)
	if err != nil {
		slog.Warn("query cache disabled", "error", err)
		return
	}
	s.cache = qc
	if s.metrics != nil {
		s.metrics.RegisterCacheStats(func() metrics.CacheStats {
			st := qc.Stats()
			return metrics.CacheStats{Hits: st.Hits, RemoteHits: st.RemoteHits, Misses: st.Misses, Entries: st.Entries}
		})
	}
	slog.Info("query cache enabled", "size", cfg.Cache.Size, "shared", remote != nil)
}

func (s *services) startAnalytics(ctx context.Context, cfg *config.Config) {
	s.aggregator = analytics.NewAggregator(cfg.Analytics.TopN)

	var publisher analytics.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		s.producer = kafka.NewProducer(cfg.Kafka, cfg.Kafka.QueryEvents)
		publisher = s.producer
		slog.Info("query events publishing", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.QueryEvents)
	}
	s.collector = analytics.NewCollector(s.aggregator, publisher, analytics.CollectorConfig{
		BatchSize:     cfg.Analytics.BatchSize,
		FlushInterval: cfg.Analytics.FlushInterval,
	})
	s.collector.Start(ctx)

	if cfg.Postgres.Host != "" {
		s.startSnapshots(ctx, cfg)
	}
}

// startSnapshots persists the aggregate periodically until ctx is cancelled.
func (s *services) startSnapshots(ctx context.Context, cfg *config.Config) {
	s.db = connectPostgres(ctx, cfg.Postgres)
	if s.db == nil {
		return
	}
	st := store.New(s.db, cfg.Analytics.Retention)
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Warn("analytics snapshots disabled", "error", err)
		return
	}
	s.store = st
	if latest, err := st.LatestSnapshot(ctx); err != nil {
		slog.Warn("reading latest analytics snapshot", "error", err)
	} else if latest != nil {
		slog.Info("previous analytics snapshot found",
			"total_searches", latest.TotalSearches,
			"total_fetches", latest.TotalFetches,
		)
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		st.Run(ctx, s.aggregator, cfg.Analytics.SnapshotInterval)
	}()
}

func (s *services) handlerOptions() []handler.Option {
	var opts []handler.Option
	if s.cache != nil {
		opts = append(opts, handler.WithCache(s.cache))
	}
	if s.collector != nil {
		opts = append(opts, handler.WithCollector(s.collector))
	}
	if s.metrics != nil {
		opts = append(opts, handler.WithMetrics(s.metrics))
	}
	return opts
}

func (s *services) registerChecks(c *health.Checker) {
	var redisPinger, dbPinger health.Pinger
	if s.redis != nil {
		redisPinger = s.redis
	}
	if s.db != nil {
		dbPinger = s.db
	}
	c.Register("redis", health.PingCheck(redisPinger))
	c.Register("postgres", health.PingCheck(dbPinger))
}

func (s *services) registerRoutes(mux *http.ServeMux) {
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.aggregator != nil {
		var lister analytics.SnapshotLister
		if s.store != nil {
			lister = s.store
		}
		ah := analytics.NewHandler(s.aggregator, lister)
		mux.HandleFunc("GET /api/v1/analytics", ah.Stats)
		mux.HandleFunc("GET /api/v1/analytics/history", ah.History)
	}
}

// wrap applies the HTTP metrics middleware when metrics are enabled.
func (s *services) wrap(h http.Handler) http.Handler {
	if s.metrics == nil {
		return h
	}
	return middleware.Metrics(s.metrics)(h)
}

// close stops background work, drains the collector, waits for the final
// snapshot and releases connections.
func (s *services) close() {
	s.cancel()
	if s.collector != nil {
		s.collector.Close()
	}
	s.wg.Wait()
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			slog.Warn("closing kafka producer", "error", err)
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}
