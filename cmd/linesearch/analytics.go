package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/analytics/store"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/postgres"
)

var errNoBrokers = errors.New("analytics requires kafka.brokers (LS_KAFKA_BROKERS)")

func newAnalyticsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Aggregate query events from Kafka and serve the analytics API",
		Long: `analytics consumes the query events published by search servers, keeps a
running aggregate, and serves it at GET /api/v1/analytics. With postgres
configured it also stores periodic snapshots.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalytics(cmd.Context(), cmd, opts)
		},
	}
}

func runAnalytics(ctx context.Context, cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	addrs, err := listenAddresses(cfg)
	if err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errNoBrokers
	}

	ctx, cancel := context.WithCancel(ctx)
	var (
		wg sync.WaitGroup
		db *postgres.Client
	)
	defer func() {
		cancel()
		wg.Wait()
		if db != nil {
			_ = db.Close()
		}
	}()

	aggregator := analytics.NewAggregator(cfg.Analytics.TopN)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.QueryEvents, aggregator.HandleMessage)
	var consuming atomic.Bool
	consuming.Store(true)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer consuming.Store(false)
		if err := consumer.Run(ctx); err != nil {
			slog.Error("analytics consumer stopped", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.QueryEvents, "group", cfg.Kafka.ConsumerGroup)

	checker := health.NewChecker(cfg.Server.RequestTimeout)
	checker.Register("kafka", func(context.Context) health.ComponentHealth {
		if !consuming.Load() {
			return health.ComponentHealth{Status: health.StatusDown, Message: "consumer stopped"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: "consumer active"}
	})

	var lister analytics.SnapshotLister
	var dbPinger health.Pinger
	if cfg.Postgres.Host != "" {
		if db = connectPostgres(ctx, cfg.Postgres); db != nil {
			dbPinger = db
			st := store.New(db, cfg.Analytics.Retention)
			if err := st.EnsureSchema(ctx); err != nil {
				slog.Warn("analytics snapshots disabled", "error", err)
			} else {
				lister = st
				wg.Add(1)
				go func() {
					defer wg.Done()
					st.Run(ctx, aggregator, cfg.Analytics.SnapshotInterval)
				}()
			}
		}
	}
	checker.Register("postgres", health.PingCheck(dbPinger))

	ah := analytics.NewHandler(aggregator, lister)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", ah.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", ah.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var h http.Handler = mux
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		mux.Handle("GET /metrics", m.Handler())
		h = middleware.Metrics(m)(mux)
	}

	return serve(ctx, cfg, addrs, h, func(bound []net.Addr) {
		if m != nil {
			m.ListenersActive.Set(float64(len(bound)))
		}
		if opts.onListening != nil {
			opts.onListening(bound)
		}
	})
}
