package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/expiryx/internal/common"
	"github.com/dmitrijs2005/expiryx/internal/node/models"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

// Memory keeps the ledger in process memory; it is used when the node runs
// without a database.
type Memory struct {
	mu          sync.RWMutex
	permissions map[string]permission.Record
	txs         map[string]models.Tx
	height      int64
}

func NewMemory() *Memory {
	return &Memory{
		permissions: make(map[string]permission.Record),
		txs:         make(map[string]models.Tx),
	}
}

func (m *Memory) Permission(_ context.Context, id string) (permission.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.permissions[id]
	if !ok {
		return permission.Record{}, common.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *Memory) ByOwner(_ context.Context, owner string) ([]permission.Record, error) {
	return m.list(func(r permission.Record) bool { return r.Owner == owner }), nil
}

func (m *Memory) BySpender(_ context.Context, spender string) ([]permission.Record, error) {
	return m.list(func(r permission.Record) bool { return r.Spender == spender }), nil
}

func (m *Memory) list(keep func(permission.Record) bool) []permission.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []permission.Record{}
	for _, r := range m.permissions {
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

func (m *Memory) CountPermissions(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.permissions)), nil
}

func (m *Memory) Transaction(_ context.Context, ref string) (models.Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[ref]
	if !ok {
		return models.Tx{}, common.ErrNotFound
	}
	return tx, nil
}

func (m *Memory) Height(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.height, nil
}

func (m *Memory) Commit(_ context.Context, b models.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.Height != m.height+1 {
		return fmt.Errorf("block %d after %d: %w", b.Height, m.height, common.ErrVersionConflict)
	}
	for _, tx := range b.Txs {
		if _, ok := m.txs[tx.Ref]; ok {
			return fmt.Errorf("transaction %s: %w", tx.Ref, common.ErrVersionConflict)
		}
	}

	for _, tx := range b.Txs {
		m.txs[tx.Ref] = tx
	}
	for _, r := range b.Permissions {
		m.permissions[r.ID] = r.Clone()
	}
	m.height = b.Height
	return nil
}

func (m *Memory) Close() error { return nil }
