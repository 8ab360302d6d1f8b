package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Adithya-Monish-Kumar-K/linesearch/pkg/errors"
)

type Config struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Group is a set of HTTP servers, one per bound address, sharing a handler.
type Group struct {
	handler http.Handler
	cfg     Config
	logger  *slog.Logger

	mu        sync.Mutex
	servers   []*http.Server
	listeners []net.Listener
}

func NewGroup(handler http.Handler, cfg Config) *Group {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Group{
		handler: handler,
		cfg:     cfg,
		logger:  slog.Default().With("component", "listeners"),
	}
}

// Bind opens a listener on every address. An address that cannot be bound
// is logged and skipped; Bind fails only if none could be bound.
func (g *Group) Bind(addrs []netip.AddrPort) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, addr := range addrs {
		g.logger.Info("attempting to start server", "address", addr.String())
		ln, err := net.Listen("tcp", addr.String())
		if err != nil {
			g.logger.Error("failed to start server", "address", addr.String(), "error", err)
			continue
		}
		g.listeners = append(g.listeners, ln)
		g.servers = append(g.servers, &http.Server{
			Handler:      g.handler,
			ReadTimeout:  g.cfg.ReadTimeout,
			WriteTimeout: g.cfg.WriteTimeout,
			ErrorLog:     slog.NewLogLogger(g.logger.Handler(), slog.LevelWarn),
		})
		g.logger.Info("server listening", "url", "http://"+ln.Addr().String())
	}

	if len(g.listeners) == 0 {
		return apperrors.ErrNoListeners
	}
	return nil
}

// Addrs returns the bound listener addresses.
func (g *Group) Addrs() []net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	addrs := make([]net.Addr, len(g.listeners))
	for i, ln := range g.listeners {
		addrs[i] = ln.Addr()
	}
	return addrs
}

// Serve runs every bound server until ctx is cancelled or one of them fails,
// then shuts all of them down gracefully.
func (g *Group) Serve(ctx context.Context) error {
	g.mu.Lock()
	servers := append([]*http.Server(nil), g.servers...)
	listeners := append([]net.Listener(nil), g.listeners...)
	g.mu.Unlock()

	if len(servers) == 0 {
		return apperrors.ErrNoListeners
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		ln := listeners[i]
		eg.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", ln.Addr(), err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("shutting down servers", "count", len(servers))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("shutting down servers: %w", err)
		}
		return nil
	})

	g.logger.Info("servers started", "count", len(servers))
	err := eg.Wait()
	g.logger.Info("servers stopped")
	return err
}
