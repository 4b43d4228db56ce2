// Package grpc serves the permission contract over the ledger gRPC service.
package grpc

import (
	"context"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/dmitrijs2005/expiryx/internal/logging"
	"github.com/dmitrijs2005/expiryx/internal/node/contract"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	pb "github.com/dmitrijs2005/expiryx/internal/proto"
)

// Ledger is the contract surface the server exposes.
type Ledger interface {
	Info() contract.Info
	Broadcast(ctx context.Context, signed string) (string, error)
	Transaction(ctx context.Context, ref string) (contract.TxStatus, error)
	Permission(ctx context.Context, id string) (permission.Record, error)
	IsValid(ctx context.Context, id string) (bool, error)
	Remaining(ctx context.Context, id string) (uint64, error)
	ByOwner(ctx context.Context, owner string) ([]permission.Record, error)
	BySpender(ctx context.Context, spender string) ([]permission.Record, error)
	Stats(ctx context.Context) (contract.Stats, error)
	Requester(signed string) (sender, permissionID string, err error)
	AuthorizeDownload(ctx context.Context, signed string) (permission.Resource, error)
}

// Presigner issues object storage links for permission resources.
type Presigner interface {
	UploadURL(ctx context.Context, owner, name string) (key, url string, err error)
	DownloadURL(ctx context.Context, key string) (string, error)
}

type GRPCServer struct {
	address   string
	ledger    Ledger
	presigner Presigner
	logger    logging.Logger
	metrics   *metrics
}

var _ pb.LedgerServer = (*GRPCServer)(nil)

// NewGRPCServer builds a server for l. A nil presigner disables resource
// links; a nil reg leaves the request metrics unregistered.
func NewGRPCServer(address string, l logging.Logger, ledger Ledger, presigner Presigner, reg prometheus.Registerer) *GRPCServer {
	return &GRPCServer{
		address:   address,
		ledger:    ledger,
		presigner: presigner,
		logger:    l.With("module", "grpc_server"),
		metrics:   newMetrics(reg),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoveryInterceptor, s.loggingInterceptor))
	pb.RegisterLedgerServer(srv, s)
	return srv
}

// Serve accepts connections on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())
	return srv.Serve(lis)
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}
