package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/searcher/mcptools"
	"github.com/Adithya-Monish-Kumar-K/linesearch/internal/server"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/linesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/jsonrpc"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/middleware"
)

const version = "0.1.0"

type options struct {
	addresses  []string
	verbose    int
	configPath string
	corpus     string

	// onListening, when set, receives the bound addresses before serving.
	onListening func([]net.Addr)
}

func newRootCmd() *cobra.Command {
	return newCommand(&options{})
}

func newCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linesearch",
		Short: "Serve word search over the lines of a text file via JSON-RPC",
		Long: `linesearch loads a text file (db.txt by default), builds a case-insensitive
inverted index of its words, and answers JSON-RPC 2.0 "search", "fetch" and
"initialize" calls on every address given with -a.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringArrayVarP(&opts.addresses, "addresses", "a", nil, "listen address as ip:port; repeatable or comma-separated")
	pf.CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity (-v debug, -vv trace)")
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&opts.corpus, "corpus", "", "corpus file to index (default db.txt)")

	cmd.AddCommand(newAnalyticsCmd(opts))
	return cmd
}

// loadConfig reads the config file and lets explicit flags override it, then
// configures logging.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("addresses") {
		cfg.Server.Addresses = opts.addresses
	}
	if flags.Changed("verbose") {
		cfg.Logging.Level = logger.VerbosityLevel(opts.verbose)
	}
	if f := flags.Lookup("corpus"); f != nil && f.Changed {
		cfg.Corpus.Path = opts.corpus
	}
	logger.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func listenAddresses(cfg *config.Config) ([]netip.AddrPort, error) {
	if len(cfg.Server.Addresses) == 0 {
		slog.Error("no addresses provided; use -a ip:port")
		return nil, apperrors.ErrNoAddresses
	}
	addrs := server.ParseAddresses(cfg.Server.Addresses)
	if len(addrs) == 0 {
		slog.Error("no valid addresses provided", "addresses", cfg.Server.Addresses)
		return nil, apperrors.ErrNoAddresses
	}
	return addrs, nil
}

func runServer(ctx context.Context, cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	addrs, err := listenAddresses(cfg)
	if err != nil {
		return err
	}

	slog.Info("loading database", "path", cfg.Corpus.Path)
	engine, err := indexer.Build(cfg.Corpus.Path)
	if err != nil {
		slog.Error("failed to load database", "path", cfg.Corpus.Path, "error", err)
		return fmt.Errorf("%w: %w", apperrors.ErrCorpusLoad, err)
	}
	slog.Info("database loaded",
		"lines", engine.LineCount(),
		"terms", engine.TermCount(),
		"fingerprint", fmt.Sprintf("%016x", engine.Fingerprint()),
	)

	svc := startServices(ctx, cfg, engine)
	defer svc.close()

	checker := health.NewChecker(cfg.Server.RequestTimeout)
	checker.Register("index", health.IndexCheck(engine.LineCount, engine.TermCount))
	svc.registerChecks(checker)

	rpcOpts := []jsonrpc.Option{jsonrpc.WithMaxBodyBytes(cfg.Server.MaxBodyBytes)}
	if svc.metrics != nil {
		rpcOpts = append(rpcOpts, jsonrpc.WithObserver(svc.metrics.ObserveRPC))
	}
	rpc := jsonrpc.NewServer(rpcOpts...)
	h := handler.New(engine, svc.handlerOptions()...)
	h.Register(rpc)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	svc.registerRoutes(mux)
	if cfg.MCP.Enabled {
		mux.Handle(cfg.MCP.Path, mcptools.New(engine, version).Handler())
		slog.Info("mcp endpoint enabled", "path", cfg.MCP.Path)
	}
	mux.Handle("/", middleware.Timeout(cfg.Server.RequestTimeout)(rpc))

	return serve(ctx, cfg, addrs, svc.wrap(mux), func(bound []net.Addr) {
		if svc.metrics != nil {
			svc.metrics.ListenersActive.Set(float64(len(bound)))
		}
		if opts.onListening != nil {
			opts.onListening(bound)
		}
	})
}

// serve binds addrs and blocks until ctx is cancelled. onBound may be nil.
func serve(ctx context.Context, cfg *config.Config, addrs []netip.AddrPort, h http.Handler, onBound func([]net.Addr)) error {
	group := server.NewGroup(middleware.RequestID(h), server.Config{
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err := group.Bind(addrs); err != nil {
		slog.Error("no servers were started successfully")
		return err
	}
	if onBound != nil {
		onBound(group.Addrs())
	}

	slog.Info("servers started; press Ctrl+C to shut down", "listeners", len(group.Addrs()))
	if err := group.Serve(ctx); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
