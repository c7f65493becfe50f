package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	apperrors "github.com/portfolio-dashboard/internal/errors"
	"github.com/portfolio-dashboard/internal/logging"
	"github.com/portfolio-dashboard/internal/models"
	"github.com/portfolio-dashboard/internal/storage"
	"github.com/shopspring/decimal"
)

// Snapshot list bounds
const (
	DefaultSnapshotLimit = 1
	MaxSnapshotLimit     = 50
)

// SnapshotStore interface for snapshot data operations
type SnapshotStore interface {
	Create(ctx context.Context, snapshot *models.PortfolioSnapshot) error
	GetByID(ctx context.Context, id string) (*models.PortfolioSnapshot, error)
	GetLatestByAddress(ctx context.Context, address string) (*models.PortfolioSnapshot, error)
	ListByAddress(ctx context.Context, address string, limit, offset int) ([]*models.SnapshotSummary, error)
}

// SnapshotTokenInput is one token row submitted with a new snapshot.
// Numeric fields accept JSON numbers or numeric strings. The priceUsd and
// valueUsd names of the balances payload are accepted as fallbacks, so a
// client can post its balances tokens unchanged.
type SnapshotTokenInput struct {
	Chain           string           `json:"chain"`
	ContractAddress string           `json:"contractAddress"`
	Symbol          *string          `json:"symbol"`
	Name            *string          `json:"name"`
	Balance         string           `json:"balance"`
	Decimals        *int             `json:"decimals"`
	Price           *decimal.Decimal `json:"price"`
	Value           *decimal.Decimal `json:"value"`
	PriceUSD        *decimal.Decimal `json:"priceUsd"`
	ValueUSD        *decimal.Decimal `json:"valueUsd"`
	Change24h       *float64         `json:"change24h"`
}

func (in SnapshotTokenInput) price() *decimal.Decimal {
	if in.Price != nil {
		return in.Price
	}
	return in.PriceUSD
}

func (in SnapshotTokenInput) value() *decimal.Decimal {
	if in.Value != nil {
		return in.Value
	}
	return in.ValueUSD
}

// SnapshotReceipt is returned after a snapshot is stored
type SnapshotReceipt struct {
	ID         string    `json:"id"`
	Address    string    `json:"address"`
	TotalValue float64   `json:"totalValue"`
	CreatedAt  time.Time `json:"createdAt"`
	TokenCount int       `json:"tokenCount"`
}

// SnapshotTokenView is the JSON shape of a stored token row
type SnapshotTokenView struct {
	Chain           string   `json:"chain"`
	ContractAddress string   `json:"contractAddress"`
	Symbol          *string  `json:"symbol"`
	Name            *string  `json:"name"`
	Balance         string   `json:"balance"`
	Decimals        *int     `json:"decimals"`
	Price           *float64 `json:"price"`
	Value           *float64 `json:"value"`
	Change24h       *float64 `json:"change24h"`
}

// SnapshotView is a full snapshot with its token rows
type SnapshotView struct {
	ID         string              `json:"id"`
	Address    string              `json:"address"`
	TotalValue float64             `json:"totalValue"`
	CreatedAt  time.Time           `json:"createdAt"`
	Tokens     []SnapshotTokenView `json:"tokens"`
}

// SnapshotSummaryView is one entry of a snapshot listing
type SnapshotSummaryView struct {
	ID         string    `json:"id"`
	Address    string    `json:"address"`
	TotalValue float64   `json:"totalValue"`
	CreatedAt  time.Time `json:"createdAt"`
	TokenCount int       `json:"tokenCount"`
}

// SnapshotService stores and reads portfolio snapshots
type SnapshotService struct {
	store  SnapshotStore
	now    func() time.Time
	newID  func() string
	logger *logging.Logger
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(store SnapshotStore, logger *logging.Logger) *SnapshotService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SnapshotService{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: logger.WithField("component", "snapshots"),
	}
}

// WithClock replaces the creation timestamp source
func (s *SnapshotService) WithClock(now func() time.Time) *SnapshotService {
	s.now = now
	return s
}

// CreateSnapshot stores a snapshot of tokens for address. The total is the
// sum of the token values with missing values counted as zero. tokens must
// be non-nil; an empty slice stores an empty snapshot.
func (s *SnapshotService) CreateSnapshot(ctx context.Context, address string, tokens []SnapshotTokenInput) (*SnapshotReceipt, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, apperrors.NewInvalidParameterError("tokens", "must be an array")
	}

	snapshot := &models.PortfolioSnapshot{
		ID:         s.newID(),
		Address:    address,
		TotalValue: decimal.Zero,
		CreatedAt:  s.now(),
		Tokens:     make([]models.SnapshotToken, 0, len(tokens)),
	}

	for i, in := range tokens {
		value := in.value()
		if err := checkStorable(fmt.Sprintf("tokens[%d].value", i), value); err != nil {
			return nil, err
		}
		if err := checkStorable(fmt.Sprintf("tokens[%d].price", i), in.price()); err != nil {
			return nil, err
		}
		if value != nil {
			snapshot.TotalValue = snapshot.TotalValue.Add(*value)
		}
		snapshot.Tokens = append(snapshot.Tokens, models.SnapshotToken{
			Position:        i,
			Chain:           in.Chain,
			ContractAddress: strings.ToLower(in.ContractAddress),
			Symbol:          in.Symbol,
			Name:            in.Name,
			Balance:         in.Balance,
			Decimals:        in.Decimals,
			Price:           in.price(),
			Value:           value,
			Change24h:       in.Change24h,
		})
	}

	if err := checkStorable("tokens", &snapshot.TotalValue); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, snapshot); err != nil {
		return nil, apperrors.NewInternalError("failed to store snapshot", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"snapshot_id": snapshot.ID,
		"address":     address,
		"tokens":      len(snapshot.Tokens),
	}).Info("Snapshot stored")

	total, _ := snapshot.TotalValue.Float64()
	return &SnapshotReceipt{
		ID:         snapshot.ID,
		Address:    address,
		TotalValue: total,
		CreatedAt:  snapshot.CreatedAt,
		TokenCount: len(snapshot.Tokens),
	}, nil
}

// maxStorable bounds the magnitude of the NUMERIC(38, 18) snapshot columns
var maxStorable = decimal.New(1, 20)

func checkStorable(field string, d *decimal.Decimal) error {
	if d == nil || d.Round(18).Abs().LessThan(maxStorable) {
		return nil
	}
	return apperrors.NewInvalidParameterError(field, "must be less than 1e20 in magnitude")
}

// GetLatestSnapshot returns the newest snapshot of address
func (s *SnapshotService) GetLatestSnapshot(ctx context.Context, address string) (*SnapshotView, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.store.GetLatestByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			return nil, apperrors.NewNotFoundError("snapshot", address)
		}
		return nil, apperrors.NewInternalError("failed to load snapshot", err)
	}
	return toSnapshotView(snapshot), nil
}

// ListSnapshots returns snapshot summaries of address, newest first. limit
// is clamped to [1, MaxSnapshotLimit] and a negative offset reads as zero.
// The first page of an address without snapshots is not found.
func (s *SnapshotService) ListSnapshots(ctx context.Context, address string, limit, offset int) ([]SnapshotSummaryView, error) {
	address, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}
	limit, offset = ClampPage(limit, offset)

	summaries, err := s.store.ListByAddress(ctx, address, limit, offset)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list snapshots", err)
	}
	if len(summaries) == 0 && offset == 0 {
		return nil, apperrors.NewNotFoundError("snapshot", address)
	}

	out := make([]SnapshotSummaryView, 0, len(summaries))
	for _, sum := range summaries {
		total, _ := sum.TotalValue.Float64()
		out = append(out, SnapshotSummaryView{
			ID:         sum.ID,
			Address:    sum.Address,
			TotalValue: total,
			CreatedAt:  sum.CreatedAt,
			TokenCount: sum.TokenCount,
		})
	}
	return out, nil
}

// GetSnapshotByID returns one snapshot with its token rows. Ids that are not
// uuids are reported as not found without a database round trip.
func (s *SnapshotService) GetSnapshotByID(ctx context.Context, id string) (*SnapshotView, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError("snapshot", id)
	}

	snapshot, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			return nil, apperrors.NewNotFoundError("snapshot", id)
		}
		return nil, apperrors.NewInternalError("failed to load snapshot", err)
	}
	return toSnapshotView(snapshot), nil
}

// ClampPage bounds a list page request
func ClampPage(limit, offset int) (int, int) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxSnapshotLimit {
		limit = MaxSnapshotLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// normalizeAddress validates a hex address and lowercases it
func normalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", apperrors.NewMissingParameterError("address")
	}
	if !common.IsHexAddress(address) {
		return "", apperrors.NewInvalidAddressError(address)
	}
	return strings.ToLower(address), nil
}

func toSnapshotView(snapshot *models.PortfolioSnapshot) *SnapshotView {
	total, _ := snapshot.TotalValue.Float64()
	view := &SnapshotView{
		ID:         snapshot.ID,
		Address:    snapshot.Address,
		TotalValue: total,
		CreatedAt:  snapshot.CreatedAt,
		Tokens:     make([]SnapshotTokenView, 0, len(snapshot.Tokens)),
	}
	for _, tok := range snapshot.Tokens {
		view.Tokens = append(view.Tokens, SnapshotTokenView{
			Chain:           tok.Chain,
			ContractAddress: tok.ContractAddress,
			Symbol:          tok.Symbol,
			Name:            tok.Name,
			Balance:         tok.Balance,
			Decimals:        tok.Decimals,
			Price:           optionalFloat(tok.Price),
			Value:           optionalFloat(tok.Value),
			Change24h:       tok.Change24h,
		})
	}
	return view
}

func optionalFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return &f
}
