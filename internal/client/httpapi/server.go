// Package httpapi serves the dashboard API of the client: permission views,
// intents forwarded to the permission service, a websocket feed of cache
// changes and the Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/expiryx/internal/client/services"
	"github.com/dmitrijs2005/expiryx/internal/logging"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	svc      services.PermissionService
	gatherer prometheus.Gatherer
	log      logging.Logger
	requests *prometheus.HistogramVec
}

// New builds the API over svc. Metrics in reg are exposed on /metrics, and
// the API registers its own request histogram there.
func New(svc services.PermissionService, reg *prometheus.Registry, log logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	var (
		gatherer   prometheus.Gatherer = prometheus.DefaultGatherer
		registerer prometheus.Registerer
	)
	if reg != nil {
		gatherer, registerer = reg, reg
	}
	return &Server{
		svc:      svc,
		gatherer: gatherer,
		log:      log.With("module", "httpapi"),
		requests: promauto.With(registerer).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "expiryx",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Dashboard API requests by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/summary", s.summary)
		r.Post("/sync", s.sync)
		r.Get("/feed", s.feed)

		r.Route("/permissions", func(r chi.Router) {
			r.Get("/", s.list)
			r.Post("/", s.grant)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.get)
				r.Post("/refresh", s.refreshOne)
				r.Post("/spend", s.spend)
				r.Post("/revoke", s.revoke)
				r.Post("/extend", s.extend)
			})
		})
	})
	return r
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Observe(time.Since(start).Seconds())
	})
}

// ListenAndServe serves the API on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "dashboard API listening", "addr", addr)
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
