// Package remote is the ledger adapter that talks to a ledgerd node over
// gRPC. Writes go through a Signer; the adapter then polls the node until
// the transaction is executed.
package remote

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/logging"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/proto"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

const (
	DefaultBroadcastTimeout = 10 * time.Second
	DefaultConfirmTimeout   = 30 * time.Second
	DefaultPollInterval     = 500 * time.Millisecond
)

// Node is the part of proto.Client the adapter needs.
type Node interface {
	Capabilities(ctx context.Context) (proto.Capabilities, error)
	Transaction(ctx context.Context, ref string) (proto.TxStatus, error)
	Permission(ctx context.Context, id string) (permission.Record, error)
	ByOwner(ctx context.Context, owner string) ([]permission.Record, error)
	BySpender(ctx context.Context, spender string) ([]permission.Record, error)
}

type Adapter struct {
	node             Node
	signer           ledger.Signer
	broadcastTimeout time.Duration
	confirmTimeout   time.Duration
	pollInterval     time.Duration
	log              logging.Logger
}

type Option func(*Adapter)

// WithBroadcastTimeout bounds the broadcast call alone. A node that takes
// the connection but never answers fails the submission with a timeout.
func WithBroadcastTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.broadcastTimeout = d
		}
	}
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.confirmTimeout = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

func New(node Node, signer ledger.Signer, opts ...Option) *Adapter {
	a := &Adapter{
		node:             node,
		signer:           signer,
		broadcastTimeout: DefaultBroadcastTimeout,
		confirmTimeout:   DefaultConfirmTimeout,
		pollInterval:     DefaultPollInterval,
		log:              logging.Nop(),
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.With("module", "ledger.remote", "principal", signer.Address())
	return a
}

var _ ledger.Adapter = (*Adapter)(nil)

func (a *Adapter) Principal() string {
	return permission.NormalizeAddress(a.signer.Address())
}

func (a *Adapter) Capabilities(ctx context.Context) (ledger.Capabilities, error) {
	c, err := a.node.Capabilities(ctx)
	if err != nil {
		return ledger.Capabilities{}, mapError("capabilities", err)
	}
	return ledger.Capabilities{
		Extend:    c.Extend,
		Resources: c.Resources,
		Network:   c.Network,
		Contract:  c.Contract,
	}, nil
}

func (a *Adapter) SubmitGrant(ctx context.Context, spec ledger.GrantSpec) (ledger.Receipt, error) {
	return a.submit(ctx, "grant", ledger.GrantTransaction(spec))
}

func (a *Adapter) SubmitSpend(ctx context.Context, id string, amount uint64, recipient string) (ledger.Receipt, error) {
	return a.submit(ctx, "spend", ledger.SpendTransaction(id, amount, recipient))
}

func (a *Adapter) SubmitRevoke(ctx context.Context, id string) (ledger.Receipt, error) {
	r, err := a.submit(ctx, "revoke", ledger.RevokeTransaction(id))
	r.Record = nil
	return r, err
}

func (a *Adapter) SubmitExtend(ctx context.Context, id string, newExpiry time.Time) (ledger.Receipt, error) {
	return a.submit(ctx, "extend", ledger.ExtendTransaction(id, newExpiry))
}

func (a *Adapter) submit(ctx context.Context, op string, tx txn.Transaction) (ledger.Receipt, error) {
	bctx, cancel := context.WithTimeout(ctx, a.broadcastTimeout)
	ref, err := a.signer.Submit(bctx, tx)
	cancel()
	if err != nil {
		return ledger.Receipt{}, mapError(op, err)
	}
	a.log.Debug(ctx, "transaction broadcast", "op", op, "tx", ref, "permission", tx.PermissionID)

	st, err := a.await(ctx, ref)
	if err != nil {
		var le *ledger.Error
		if errors.As(mapError(op, err), &le) {
			le.TxRef = ref
			return ledger.Receipt{TxRef: ref}, le
		}
		return ledger.Receipt{TxRef: ref}, err
	}

	if st.State == proto.TxRejected {
		le := ledger.Rejected(op, st.Reason)
		le.TxRef = ref
		return ledger.Receipt{TxRef: ref}, le
	}
	return ledger.Receipt{TxRef: ref, Record: st.Record}, nil
}

// await polls the node until ref leaves the pending state. Transport errors
// while polling are tolerated until the confirmation deadline. A malformed
// answer ends the wait at once.
func (a *Adapter) await(ctx context.Context, ref string) (proto.TxStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, a.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		st, err := a.node.Transaction(ctx, ref)
		switch {
		case err == nil && st.State != proto.TxPending:
			return st, nil
		case errors.Is(err, proto.ErrMalformed):
			return st, err
		case err != nil:
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				a.log.Warn(ctx, "confirmation wait ended with errors", "tx", ref, "error", lastErr)
			}
			return proto.TxStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Adapter) FetchRecordsByOwner(ctx context.Context, owner string) ([]permission.Record, error) {
	rs, err := a.node.ByOwner(ctx, permission.NormalizeAddress(owner))
	if err != nil {
		return nil, mapError("fetch_by_owner", err)
	}
	return rs, nil
}

func (a *Adapter) FetchRecordsBySpender(ctx context.Context, spender string) ([]permission.Record, error) {
	rs, err := a.node.BySpender(ctx, permission.NormalizeAddress(spender))
	if err != nil {
		return nil, mapError("fetch_by_spender", err)
	}
	return rs, nil
}

func (a *Adapter) FetchRecord(ctx context.Context, id string) (permission.Record, bool, error) {
	r, err := a.node.Permission(ctx, id)
	if status.Code(err) == codes.NotFound {
		return permission.Record{}, false, nil
	}
	if err != nil {
		return permission.Record{}, false, mapError("fetch", err)
	}
	return r, true, nil
}

// mapError classifies a transport or decoding failure of op. Rejections
// carry the node's reason, the part of the status message before the
// first colon.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, proto.ErrMalformed) {
		return ledger.Wrap(op, ledger.KindMalformed, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return ledger.Classify(op, err)
	}

	switch st.Code() {
	case codes.Unavailable, codes.Internal, codes.Unknown, codes.ResourceExhausted, codes.Aborted:
		return ledger.Wrap(op, ledger.KindUnreachable, err)
	case codes.DeadlineExceeded:
		return ledger.Wrap(op, ledger.KindTimeout, err)
	case codes.Canceled:
		return context.Canceled
	case codes.Unimplemented:
		return ledger.Wrap(op, ledger.KindUnsupported, err)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.AlreadyExists,
		codes.PermissionDenied, codes.Unauthenticated, codes.NotFound, codes.OutOfRange:
		reason, _, _ := strings.Cut(st.Message(), ":")
		return ledger.Rejected(op, strings.TrimSpace(reason))
	default:
		return ledger.Classify(op, err)
	}
}
