// Package simulated is an in-process ledger for local development. It runs
// the same transaction rules as the ledger node, persists its state as a
// JSON snapshot and emulates confirmation latency with configurable delays.
package simulated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/filex"
	"github.com/dmitrijs2005/expiryx/internal/logging"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/txn"
)

const snapshotFormat = 1

const (
	DefaultNetwork  = "simulated"
	DefaultContract = "0x1"
)

type Options struct {
	// StatePath is the JSON snapshot file. Empty keeps state in memory.
	StatePath string
	// SeedPath is a JSONC file with default permissions, loaded only when
	// there is no saved state.
	SeedPath string

	TransactionDelay time.Duration
	ConnectionDelay  time.Duration
	RevokeDelay      time.Duration

	AllowExtend bool
	Network     string
	Contract    string

	Now    func() time.Time
	Logger logging.Logger
}

// TxEntry is one executed transaction in the ledger log.
type TxEntry struct {
	Ref          string    `json:"ref"`
	Kind         txn.Kind  `json:"kind"`
	Sender       string    `json:"sender"`
	PermissionID string    `json:"permission_id"`
	Rejected     bool      `json:"rejected,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Height       int64     `json:"height"`
	At           time.Time `json:"at"`
}

type snapshot struct {
	Format       int                 `json:"format"`
	Network      string              `json:"network"`
	Contract     string              `json:"contract"`
	Height       int64               `json:"height"`
	Permissions  []permission.Record `json:"permissions"`
	Transactions []TxEntry           `json:"transactions"`
	ExportedAt   *time.Time          `json:"exported_at,omitempty"`
}

// Status summarizes the ledger, as shown by the status command.
type Status struct {
	Network          string
	Contract         string
	TotalPermissions int
	Height           int64
	StatePath        string
	LastSaved        time.Time
}

type Ledger struct {
	opts  Options
	rules txn.Rules
	log   logging.Logger

	mu        sync.Mutex
	records   map[string]permission.Record
	txs       []TxEntry
	height    int64
	lastSaved time.Time
}

// Open loads the saved state, or the seed when there is none.
func Open(opts Options) (*Ledger, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Network == "" {
		opts.Network = DefaultNetwork
	}
	if opts.Contract == "" {
		opts.Contract = DefaultContract
	}

	l := &Ledger{
		opts:    opts,
		rules:   txn.Rules{AllowExtend: opts.AllowExtend},
		log:     opts.Logger.With("module", "ledger.simulated"),
		records: make(map[string]permission.Record),
	}

	loaded, err := l.load()
	if err != nil {
		return nil, err
	}
	if !loaded && opts.SeedPath != "" {
		seed, err := ReadSeed(opts.SeedPath, opts.Now())
		if err != nil {
			return nil, err
		}
		for _, r := range seed {
			l.records[r.ID] = r
		}
		if err := l.persist(); err != nil {
			return nil, err
		}
		l.log.Info(context.Background(), "seeded default permissions", "count", len(seed), "seed", opts.SeedPath)
	}
	return l, nil
}

func (l *Ledger) load() (bool, error) {
	if l.opts.StatePath == "" {
		return false, nil
	}
	data, err := os.ReadFile(l.opts.StatePath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read ledger state: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("%w: ledger state %s: %v", common.ErrCorruptData, l.opts.StatePath, err)
	}
	if snap.Format != snapshotFormat {
		return false, fmt.Errorf("%w: ledger state format %d", common.ErrCorruptData, snap.Format)
	}
	for _, r := range snap.Permissions {
		if r.ID == "" || r.Spent > r.Amount {
			return false, fmt.Errorf("%w: ledger state has invalid permission %q", common.ErrCorruptData, r.ID)
		}
		l.records[r.ID] = r
	}
	l.txs = snap.Transactions
	l.height = snap.Height
	return true, nil
}

func (l *Ledger) snapshotLocked() snapshot {
	return snapshot{
		Format:       snapshotFormat,
		Network:      l.opts.Network,
		Contract:     l.opts.Contract,
		Height:       l.height,
		Permissions:  sorted(l.records, func(permission.Record) bool { return true }),
		Transactions: append([]TxEntry(nil), l.txs...),
	}
}

// persist must be called with mu held.
func (l *Ledger) persist() error {
	if l.opts.StatePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(l.snapshotLocked(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger state: %w", err)
	}
	if err := filex.WriteFileAtomic(l.opts.StatePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to save ledger state: %w", err)
	}
	l.lastSaved = l.opts.Now()
	return nil
}

// As returns an adapter that submits transactions as principal.
func (l *Ledger) As(principal string) *Adapter {
	return &Adapter{l: l, principal: permission.NormalizeAddress(principal)}
}

func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Network:          l.opts.Network,
		Contract:         l.opts.Contract,
		TotalPermissions: len(l.records),
		Height:           l.height,
		StatePath:        l.opts.StatePath,
		LastSaved:        l.lastSaved,
	}
}

// Export writes the full state as indented JSON.
func (l *Ledger) Export(w io.Writer) error {
	l.mu.Lock()
	snap := l.snapshotLocked()
	l.mu.Unlock()

	now := l.opts.Now().UTC()
	snap.ExportedAt = &now
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// Clear drops every permission and the transaction log.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = make(map[string]permission.Record)
	l.txs = nil
	l.height = 0
	if err := l.persist(); err != nil {
		return err
	}
	l.log.Warn(context.Background(), "ledger cleared")
	return nil
}

// Transactions returns the transaction log, oldest first.
func (l *Ledger) Transactions() []TxEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TxEntry(nil), l.txs...)
}

func (l *Ledger) execute(ctx context.Context, op string, tx txn.Transaction) (ledger.Receipt, error) {
	now := l.opts.Now()
	tx.Nonce = uuid.NewString()
	tx.IssuedAt = now.Unix()
	ref, err := tx.Hash()
	if err != nil {
		return ledger.Receipt{}, ledger.Wrap(op, ledger.KindMalformed, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var cur *permission.Record
	if r, ok := l.records[tx.PermissionID]; ok {
		cur = &r
	}

	entry := TxEntry{
		Ref:          ref,
		Kind:         tx.Kind,
		Sender:       tx.Sender,
		PermissionID: tx.PermissionID,
		Height:       l.height + 1,
		At:           now.UTC(),
	}

	next, execErr := l.rules.Execute(tx, cur, now)
	if execErr != nil {
		reason, ok := txn.RejectionReason(execErr)
		if !ok {
			return ledger.Receipt{}, ledger.Wrap(op, ledger.KindUnreachable, execErr)
		}
		entry.Rejected, entry.Reason = true, reason
	}

	l.height++
	l.txs = append(l.txs, entry)
	if execErr == nil {
		l.records[next.ID] = next
	}

	if err := l.persist(); err != nil {
		l.height--
		l.txs = l.txs[:len(l.txs)-1]
		if execErr == nil {
			if cur != nil {
				l.records[cur.ID] = *cur
			} else {
				delete(l.records, next.ID)
			}
		}
		return ledger.Receipt{}, ledger.Wrap(op, ledger.KindUnreachable, err)
	}

	if execErr != nil {
		l.log.Info(ctx, "transaction rejected", "op", op, "tx", ref, "permission", tx.PermissionID, "reason", entry.Reason)
		le := ledger.Rejected(op, entry.Reason)
		le.TxRef = ref
		return ledger.Receipt{TxRef: ref}, le
	}

	l.log.Debug(ctx, "transaction executed", "op", op, "tx", ref, "permission", next.ID, "height", l.height)
	out := next.Clone()
	return ledger.Receipt{TxRef: ref, Record: &out}, nil
}

func (l *Ledger) get(id string) (permission.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	return r.Clone(), ok
}

func (l *Ledger) list(keep func(permission.Record) bool) []permission.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sorted(l.records, keep)
}

func sorted(m map[string]permission.Record, keep func(permission.Record) bool) []permission.Record {
	out := make([]permission.Record, 0, len(m))
	for _, r := range m {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// wait sleeps for d unless ctx ends first.
func wait(ctx context.Context, op string, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return ledger.Classify(op, err)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ledger.Classify(op, ctx.Err())
	case <-t.C:
		return nil
	}
}
