package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/portfolio-dashboard/internal/models"
	"github.com/shopspring/decimal"
)

// ErrSnapshotNotFound is returned when no snapshot matches the lookup
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRepository handles portfolio snapshot storage operations
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// Create stores a snapshot and its token rows in one transaction
func (r *SnapshotRepository) Create(ctx context.Context, snapshot *models.PortfolioSnapshot) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO portfolio_snapshots (id, address, total_value, created_at)
			VALUES ($1, $2, $3, $4)
		`, snapshot.ID, strings.ToLower(snapshot.Address), snapshot.TotalValue.String(), snapshot.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}

		if len(snapshot.Tokens) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, tok := range snapshot.Tokens {
			batch.Queue(`
				INSERT INTO snapshot_tokens (
					snapshot_id, position, chain, contract_address, symbol, name,
					balance, decimals, price, value, change_24h
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			`,
				snapshot.ID,
				tok.Position,
				tok.Chain,
				strings.ToLower(tok.ContractAddress),
				tok.Symbol,
				tok.Name,
				tok.Balance,
				tok.Decimals,
				decimalText(tok.Price),
				decimalText(tok.Value),
				tok.Change24h,
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert snapshot tokens: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a snapshot with its token rows
func (r *SnapshotRepository) GetByID(ctx context.Context, id string) (*models.PortfolioSnapshot, error) {
	// ids are compared as uuid so the primary key is used
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSnapshotNotFound
	}

	var snapshot models.PortfolioSnapshot
	var total string

	err := r.pool.QueryRow(ctx, `
		SELECT id::text, address, total_value::text, created_at
		FROM portfolio_snapshots
		WHERE id = $1::uuid
	`, id).Scan(&snapshot.ID, &snapshot.Address, &total, &snapshot.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	if snapshot.TotalValue, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid stored total value %q: %w", total, err)
	}

	tokens, err := r.getTokens(ctx, snapshot.ID)
	if err != nil {
		return nil, err
	}
	snapshot.Tokens = tokens

	return &snapshot, nil
}

// GetLatestByAddress retrieves the most recent snapshot for an address
func (r *SnapshotRepository) GetLatestByAddress(ctx context.Context, address string) (*models.PortfolioSnapshot, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT id::text
		FROM portfolio_snapshots
		WHERE address = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, strings.ToLower(address)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	return r.GetByID(ctx, id)
}

// ListByAddress returns snapshot summaries for an address, newest first
func (r *SnapshotRepository) ListByAddress(ctx context.Context, address string, limit, offset int) ([]*models.SnapshotSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id::text, s.address, s.total_value::text, s.created_at,
			(SELECT COUNT(*) FROM snapshot_tokens t WHERE t.snapshot_id = s.id) AS token_count
		FROM portfolio_snapshots s
		WHERE s.address = $1
		ORDER BY s.created_at DESC
		LIMIT $2 OFFSET $3
	`, strings.ToLower(address), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	summaries := make([]*models.SnapshotSummary, 0)
	for rows.Next() {
		var s models.SnapshotSummary
		var total string
		if err := rows.Scan(&s.ID, &s.Address, &total, &s.CreatedAt, &s.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if s.TotalValue, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("invalid stored total value %q: %w", total, err)
		}
		summaries = append(summaries, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	return summaries, nil
}

func (r *SnapshotRepository) getTokens(ctx context.Context, snapshotID string) ([]models.SnapshotToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT position, chain, contract_address, symbol, name, balance, decimals,
			price::text, value::text, change_24h
		FROM snapshot_tokens
		WHERE snapshot_id = $1::uuid
		ORDER BY position ASC
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]models.SnapshotToken, 0)
	for rows.Next() {
		var tok models.SnapshotToken
		var price, value *string
		if err := rows.Scan(
			&tok.Position,
			&tok.Chain,
			&tok.ContractAddress,
			&tok.Symbol,
			&tok.Name,
			&tok.Balance,
			&tok.Decimals,
			&price,
			&value,
			&tok.Change24h,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot token: %w", err)
		}
		if tok.Price, err = parseDecimalText(price); err != nil {
			return nil, err
		}
		if tok.Value, err = parseDecimalText(value); err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot token rows: %w", err)
	}

	return tokens, nil
}

// decimalText renders an optional decimal for a NUMERIC parameter; nil stays NULL
func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimalText(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid stored numeric %q: %w", *s, err)
	}
	return &d, nil
}
