// Package contract is the permission contract run by the ledger node.
// Broadcast transactions wait in a mempool and are executed in order when a
// block is produced, either at a fixed interval or right away (instant
// finality). A block commits atomically; the rules are txn.Rules, the same
// the simulated ledger runs.
package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/expiryx/internal/codec"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/logging"
	"github.com/dmitrijs2005/expiryx/internal/node/models"
	"github.com/dmitrijs2005/expiryx/internal/node/store"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

type Options struct {
	Rules   txn.Rules
	Network string
	Address string
	// BlockInterval is the block production period. Zero executes every
	// transaction as soon as it is broadcast.
	BlockInterval time.Duration

	Now    func() time.Time
	Logger logging.Logger
}

// Info describes the deployed contract.
type Info struct {
	Network string
	Address string
	Extend  bool
}

type queued struct {
	ref     string
	tx      txn.Transaction
	payload []byte
	at      time.Time
}

type Contract struct {
	store store.Store
	opts  Options
	log   logging.Logger

	// mu guards the mempool and serializes block production.
	mu      sync.Mutex
	mempool []queued
	known   map[string]struct{}
}

func New(s store.Store, opts Options) *Contract {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Contract{
		store: s,
		opts:  opts,
		log:   opts.Logger.With("module", "contract"),
		known: make(map[string]struct{}),
	}
}

func (c *Contract) Info() Info {
	return Info{Network: c.opts.Network, Address: c.opts.Address, Extend: c.opts.Rules.AllowExtend}
}

// Broadcast verifies a signed transaction and queues it. Broadcasting a
// transaction that is already queued or executed returns its reference
// again without executing it twice.
func (c *Contract) Broadcast(ctx context.Context, signed string) (string, error) {
	tx, err := txn.Verify(signed, c.opts.Now)
	if err != nil {
		return "", &txn.Rejection{Reason: txn.ReasonBadSignature, Msg: err.Error()}
	}
	if tx.Kind == txn.KindAccess {
		return "", &txn.Rejection{Reason: txn.ReasonMalformed, Msg: "access requests are not executable"}
	}
	ref, err := tx.Hash()
	if err != nil {
		return "", &txn.Rejection{Reason: txn.ReasonMalformed, Msg: err.Error()}
	}
	payload, err := codec.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}

	c.mu.Lock()
	if _, ok := c.known[ref]; ok {
		c.mu.Unlock()
		return ref, nil
	}
	_, err = c.store.Transaction(ctx, ref)
	switch {
	case err == nil:
		c.mu.Unlock()
		c.log.Info(ctx, "replayed transaction ignored", "tx", ref)
		return ref, nil
	case !errors.Is(err, common.ErrNotFound):
		c.mu.Unlock()
		return "", err
	}
	c.mempool = append(c.mempool, queued{ref: ref, tx: tx, payload: payload, at: c.opts.Now().UTC()})
	c.known[ref] = struct{}{}
	c.mu.Unlock()

	c.log.Debug(ctx, "transaction queued", "tx", ref, "kind", tx.Kind, "permission", tx.PermissionID)

	if c.opts.BlockInterval <= 0 {
		if _, _, err := c.ProduceBlock(ctx); err != nil {
			return "", err
		}
	}
	return ref, nil
}

// ProduceBlock executes the mempool as the next block. It reports false
// when there was nothing to execute. On a commit failure the mempool is
// kept for the next attempt.
func (c *Contract) ProduceBlock(ctx context.Context) (models.Block, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.mempool) == 0 {
		return models.Block{}, false, nil
	}

	height, err := c.store.Height(ctx)
	if err != nil {
		return models.Block{}, false, err
	}
	now := c.opts.Now()
	b := models.Block{Height: height + 1, ProducedAt: now.UTC()}

	changed := make(map[string]permission.Record)
	var order []string
	for _, q := range c.mempool {
		cur, err := c.current(ctx, changed, q.tx.PermissionID)
		if err != nil {
			return models.Block{}, false, err
		}

		t := models.Tx{
			Ref:          q.ref,
			Kind:         q.tx.Kind,
			Sender:       permission.NormalizeAddress(q.tx.Sender),
			PermissionID: q.tx.PermissionID,
			Payload:      q.payload,
			Height:       b.Height,
			SubmittedAt:  q.at,
		}
		next, execErr := c.opts.Rules.Execute(q.tx, cur, now)
		if execErr != nil {
			reason, ok := txn.RejectionReason(execErr)
			if !ok {
				reason = txn.ReasonMalformed
			}
			t.State, t.Reason = models.TxRejected, reason
		} else {
			res := next.Clone()
			t.State, t.Result = models.TxSuccess, &res
			if _, seen := changed[next.ID]; !seen {
				order = append(order, next.ID)
			}
			changed[next.ID] = next
		}
		b.Txs = append(b.Txs, t)
	}
	for _, id := range order {
		b.Permissions = append(b.Permissions, changed[id])
	}

	if err := c.store.Commit(ctx, b); err != nil {
		return models.Block{}, false, fmt.Errorf("commit block %d: %w", b.Height, err)
	}
	c.mempool = nil
	c.known = make(map[string]struct{})

	c.log.Info(ctx, "block produced", "height", b.Height, "txs", len(b.Txs), "changed", len(b.Permissions))
	return b, true, nil
}

// current is the state id had before the transaction being executed: the
// block's own earlier change, or the store. nil when it does not exist.
func (c *Contract) current(ctx context.Context, changed map[string]permission.Record, id string) (*permission.Record, error) {
	if r, ok := changed[id]; ok {
		return &r, nil
	}
	if id == "" {
		return nil, nil
	}
	r, err := c.store.Permission(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Run produces a block every BlockInterval until ctx is done. With instant
// finality it only waits.
func (c *Contract) Run(ctx context.Context) error {
	if c.opts.BlockInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.opts.BlockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := c.ProduceBlock(ctx); err != nil && ctx.Err() == nil {
				c.log.Error(ctx, "block production failed", "error", err)
			}
		}
	}
}
