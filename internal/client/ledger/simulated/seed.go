package simulated

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"

	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/timex"
)

// SeedPermission is one default permission of a seed file. Amounts are coin
// strings ("1.5"); the expiry is relative to the load time.
type SeedPermission struct {
	ID        string               `json:"id"`
	Owner     string               `json:"owner"`
	Spender   string               `json:"spender"`
	Amount    string               `json:"amount"`
	Spent     string               `json:"spent"`
	ExpiresIn timex.Duration       `json:"expires_in"`
	Revoked   bool                 `json:"revoked"`
	Scope     string               `json:"scope"`
	Resource  *permission.Resource `json:"resource"`
}

type seedFile struct {
	Permissions []SeedPermission `json:"permissions"`
}

// ReadSeed parses a JSONC seed file into ledger records created at now.
func ReadSeed(path string, now time.Time) ([]permission.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}
	return ParseSeed(data, now)
}

func ParseSeed(data []byte, now time.Time) ([]permission.Record, error) {
	var f seedFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}

	now = now.UTC().Truncate(time.Second)
	out := make([]permission.Record, 0, len(f.Permissions))
	for i, p := range f.Permissions {
		r, err := p.record(now)
		if err != nil {
			return nil, fmt.Errorf("seed permission %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (p SeedPermission) record(now time.Time) (permission.Record, error) {
	for _, addr := range []string{p.Owner, p.Spender} {
		if err := permission.ValidateAddress(addr); err != nil {
			return permission.Record{}, err
		}
	}
	amount, err := permission.ParseAmount(p.Amount)
	if err != nil {
		return permission.Record{}, fmt.Errorf("amount: %w", err)
	}
	var spent uint64
	if p.Spent != "" {
		if spent, err = permission.ParseAmount(p.Spent); err != nil {
			return permission.Record{}, fmt.Errorf("spent: %w", err)
		}
	}
	if spent > amount {
		return permission.Record{}, fmt.Errorf("spent exceeds amount")
	}
	scope, err := permission.ParseScope(p.Scope)
	if err != nil {
		return permission.Record{}, err
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	return permission.Record{
		ID:        id,
		Owner:     permission.NormalizeAddress(p.Owner),
		Spender:   permission.NormalizeAddress(p.Spender),
		Amount:    amount,
		Spent:     spent,
		Expiry:    permission.NormalizeExpiry(now.Add(p.ExpiresIn.Duration)),
		Revoked:   p.Revoked,
		Resource:  p.Resource,
		Scope:     scope,
		CreatedAt: now,
	}, nil
}
