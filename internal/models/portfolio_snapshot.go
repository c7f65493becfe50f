// Package models holds persisted entities.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is an immutable point-in-time valuation of one address.
// TotalValue equals the sum of the token values at creation time and is not
// re-validated afterwards.
type PortfolioSnapshot struct {
	ID         string          `db:"id"`
	Address    string          `db:"address"` // lowercase
	TotalValue decimal.Decimal `db:"total_value"`
	CreatedAt  time.Time       `db:"created_at"`
	Tokens     []SnapshotToken
}

// SnapshotToken is one constituent row of a snapshot, kept in submission order
type SnapshotToken struct {
	Position        int              `db:"position"`
	Chain           string           `db:"chain"`
	ContractAddress string           `db:"contract_address"`
	Symbol          *string          `db:"symbol"`
	Name            *string          `db:"name"`
	Balance         string           `db:"balance"`
	Decimals        *int             `db:"decimals"`
	Price           *decimal.Decimal `db:"price"`
	Value           *decimal.Decimal `db:"value"`
	Change24h       *float64         `db:"change_24h"`
}

// SnapshotSummary is the list view of a snapshot
type SnapshotSummary struct {
	ID         string
	Address    string
	TotalValue decimal.Decimal
	CreatedAt  time.Time
	TokenCount int
}
