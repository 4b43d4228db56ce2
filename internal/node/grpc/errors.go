package grpc

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	pb "github.com/dmitrijs2005/expiryx/internal/proto"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

// statusError converts a contract error into a gRPC status. Rejections
// carry "<reason>: <detail>" so clients can recover the reason.
func statusError(err error) error {
	var rej *txn.Rejection
	if errors.As(err, &rej) {
		return status.Error(rejectionCode(rej.Reason), rej.Error())
	}

	var ve *permission.ValidationError
	if errors.As(err, &ve) {
		return status.Error(validationCode(ve.Reason), fmt.Sprintf("%s: %s", ve.Reason, ve.Error()))
	}

	switch {
	case errors.Is(err, common.ErrNotFound):
		return status.Error(codes.NotFound, txn.ReasonNotFound+": "+err.Error())
	case errors.Is(err, pb.ErrMalformed):
		return status.Error(codes.InvalidArgument, txn.ReasonMalformed+": "+err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

func rejectionCode(reason string) codes.Code {
	switch reason {
	case txn.ReasonNotFound:
		return codes.NotFound
	case txn.ReasonAlreadyExists:
		return codes.AlreadyExists
	case txn.ReasonUnsupported:
		return codes.Unimplemented
	case txn.ReasonBadSignature:
		return codes.Unauthenticated
	default:
		return codes.InvalidArgument
	}
}

func validationCode(reason permission.Reason) codes.Code {
	switch reason {
	case permission.ReasonNotAuthorized:
		return codes.PermissionDenied
	case permission.ReasonInvalidAmount, permission.ReasonInvalidExpiry,
		permission.ReasonInvalidSpender, permission.ReasonInvalidScope:
		return codes.InvalidArgument
	default:
		return codes.FailedPrecondition
	}
}
