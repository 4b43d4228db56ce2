package grpc

import (
	"context"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/expiryx/internal/node/models"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	pb "github.com/dmitrijs2005/expiryx/internal/proto"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

func reply(fields map[string]any) (*structpb.Struct, error) {
	out, err := pb.Struct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func (s *GRPCServer) Ping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return reply(map[string]any{"status": "OK"})
}

func (s *GRPCServer) Capabilities(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	info := s.ledger.Info()
	return reply(map[string]any{
		"extend":    info.Extend,
		"resources": s.presigner != nil,
		"network":   info.Network,
		"contract":  info.Address,
	})
}

func (s *GRPCServer) Broadcast(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	signed, err := pb.String(in, "signed")
	if err != nil {
		return nil, statusError(err)
	}
	ref, err := s.ledger.Broadcast(ctx, signed)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{"tx_ref": ref})
}

func (s *GRPCServer) GetTransaction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ref, err := pb.String(in, "tx_ref")
	if err != nil {
		return nil, statusError(err)
	}
	st, err := s.ledger.Transaction(ctx, ref)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(pb.TxStatusFields(pb.TxStatus{
		Ref:    st.Ref,
		State:  wireState(st.State),
		Reason: st.Reason,
		Height: st.Height,
		Record: st.Record,
	}))
}

func wireState(state string) string {
	switch state {
	case models.TxSuccess:
		return pb.TxSuccess
	case models.TxRejected:
		return pb.TxRejected
	default:
		return pb.TxPending
	}
}

// GetPermission returns the record together with its validity and the
// allowance left at the node's clock.
func (s *GRPCServer) GetPermission(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := pb.String(in, "id")
	if err != nil {
		return nil, statusError(err)
	}
	r, err := s.ledger.Permission(ctx, id)
	if err != nil {
		return nil, statusError(err)
	}
	valid, err := s.ledger.IsValid(ctx, id)
	if err != nil {
		return nil, statusError(err)
	}
	remaining, err := s.ledger.Remaining(ctx, id)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{
		"permission": pb.RecordFields(r),
		"valid":      valid,
		"remaining":  strconv.FormatUint(remaining, 10),
	})
}

func (s *GRPCServer) list(ctx context.Context, in *structpb.Struct, fetch func(context.Context, string) ([]permission.Record, error)) (*structpb.Struct, error) {
	addr, err := pb.String(in, "address")
	if err != nil {
		return nil, statusError(err)
	}
	if err := permission.ValidateAddress(addr); err != nil {
		return nil, statusError(&txn.Rejection{Reason: txn.ReasonMalformed, Msg: err.Error()})
	}
	rs, err := fetch(ctx, addr)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{"permissions": pb.RecordsFields(rs)})
}

func (s *GRPCServer) ListByOwner(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.list(ctx, in, s.ledger.ByOwner)
}

func (s *GRPCServer) ListBySpender(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.list(ctx, in, s.ledger.BySpender)
}

func (s *GRPCServer) Stats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st, err := s.ledger.Stats(ctx)
	if err != nil {
		return nil, statusError(err)
	}
	return reply(map[string]any{
		"total_permissions": float64(st.TotalPermissions),
		"height":            float64(st.Height),
	})
}

var errNoResources = &txn.Rejection{Reason: txn.ReasonUnsupported, Msg: "resource storage is not configured"}

// UploadURL issues an upload link under the address that signed the
// access request.
func (s *GRPCServer) UploadURL(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.presigner == nil {
		return nil, statusError(errNoResources)
	}
	signed, err := pb.String(in, "signed")
	if err != nil {
		return nil, statusError(err)
	}
	name, err := pb.String(in, "name")
	if err != nil {
		return nil, statusError(err)
	}
	if strings.TrimSpace(name) == "" {
		return nil, statusError(&txn.Rejection{Reason: txn.ReasonMalformed, Msg: "empty file name"})
	}
	sender, _, err := s.ledger.Requester(signed)
	if err != nil {
		return nil, statusError(err)
	}

	key, url, err := s.presigner.UploadURL(ctx, sender, name)
	if err != nil {
		s.logger.Error(ctx, "presign upload", "error", err)
		return nil, status.Error(codes.Unavailable, "object storage unavailable")
	}
	return reply(map[string]any{"content_ref": key, "url": url})
}

func (s *GRPCServer) DownloadURL(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.presigner == nil {
		return nil, statusError(errNoResources)
	}
	signed, err := pb.String(in, "signed")
	if err != nil {
		return nil, statusError(err)
	}
	res, err := s.ledger.AuthorizeDownload(ctx, signed)
	if err != nil {
		return nil, statusError(err)
	}

	url, err := s.presigner.DownloadURL(ctx, res.ContentRef)
	if err != nil {
		s.logger.Error(ctx, "presign download", "error", err)
		return nil, status.Error(codes.Unavailable, "object storage unavailable")
	}
	return reply(map[string]any{"url": url})
}
