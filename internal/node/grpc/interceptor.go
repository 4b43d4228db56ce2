package grpc

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type metrics struct {
	requests *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		requests: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "expiryx",
			Subsystem: "node",
			Name:      "grpc_request_duration_seconds",
			Help:      "Ledger gRPC requests by method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	elapsed := time.Since(start)

	code := status.Code(err)
	s.metrics.requests.WithLabelValues(info.FullMethod, code.String()).Observe(elapsed.Seconds())

	switch code {
	case codes.OK:
		s.logger.Debug(ctx, "request", "method", info.FullMethod, "duration", elapsed)
	case codes.Internal, codes.Unknown:
		s.logger.Error(ctx, "request failed", "method", info.FullMethod, "code", code.String(), "error", err)
	default:
		s.logger.Info(ctx, "request refused", "method", info.FullMethod, "code", code.String(), "error", err)
	}
	return resp, err
}

func (s *GRPCServer) recoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error(ctx, "handler panic", "method", info.FullMethod, "panic", p, "stack", string(debug.Stack()))
			resp, err = nil, status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
