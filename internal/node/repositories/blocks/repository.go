// Package blocks persists produced block headers.
package blocks

import (
	"context"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, height int64, producedAt time.Time, txCount int) error
	// Height returns the latest block height, 0 before the first block.
	Height(ctx context.Context) (int64, error)
}
