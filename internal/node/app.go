// Package node wires the ledger node: storage, the permission contract,
// the gRPC endpoint and the metrics listener.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/expiryx/internal/logging"
	"github.com/dmitrijs2005/expiryx/internal/node/config"
	"github.com/dmitrijs2005/expiryx/internal/node/contract"
	gs "github.com/dmitrijs2005/expiryx/internal/node/grpc"
	"github.com/dmitrijs2005/expiryx/internal/node/resources"
	"github.com/dmitrijs2005/expiryx/internal/node/store"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	store    store.Store
	contract *contract.Contract
	server   *gs.GRPCServer
	registry *prometheus.Registry
}

// NewApp opens storage and builds the node. An empty DSN keeps the ledger
// in memory; an empty bucket disables resource links.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	var (
		s   store.Store
		err error
	)
	if cfg.DatabaseDSN == "" {
		logger.Warn(ctx, "no database configured, ledger state is kept in memory")
		s = store.NewMemory()
	} else {
		s, err = store.OpenPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
	}

	var presigner gs.Presigner
	if cfg.Resources() {
		p, err := resources.NewS3Presigner(ctx, cfg.S3())
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("object storage init error: %w", err)
		}
		presigner = p
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := contract.New(s, contract.Options{
		Rules:         txn.Rules{AllowExtend: cfg.AllowExtend},
		Network:       cfg.Network,
		Address:       cfg.ContractAddress,
		BlockInterval: cfg.BlockInterval,
		Logger:        logger,
	})

	return &App{
		config:   cfg,
		logger:   logger,
		store:    s,
		contract: c,
		server:   gs.NewGRPCServer(cfg.EndpointAddrGRPC, logger, c, presigner, reg),
		registry: reg,
	}, nil
}

// Run serves until ctx is done or a component fails, then closes storage.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...", "network", app.config.Network, "block_interval", app.config.BlockInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.server.Run(gctx) })
	g.Go(func() error { return app.contract.Run(gctx) })
	if app.config.MetricsAddr != "" {
		g.Go(func() error { return app.serveMetrics(gctx, app.config.MetricsAddr) })
	}

	err := g.Wait()
	if cerr := app.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	app.logger.Info(ctx, "Stopped")
	return err
}

func (app *App) metricsRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := app.contract.Stats(r.Context()); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	return r
}

func (app *App) serveMetrics(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.metricsRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
