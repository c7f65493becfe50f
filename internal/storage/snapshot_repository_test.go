package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/portfolio-dashboard/internal/models"
	"github.com/shopspring/decimal"
)

func TestSnapshotRepository_CreateAndRead(t *testing.T) {
	db := testPostgres(t)
	repo := NewSnapshotRepository(db.Pool())
	ctx := testContext(t)

	address := "0x" + uuid.NewString()[:8] + "00000000000000000000000000000000"
	symbol := "ETH"
	price := decimal.RequireFromString("2500.5")
	value := decimal.NewFromInt(100)
	change := -1.25

	older := &models.PortfolioSnapshot{
		ID:         uuid.NewString(),
		Address:    address,
		TotalValue: decimal.NewFromInt(10),
		CreatedAt:  time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond),
	}
	newer := &models.PortfolioSnapshot{
		ID:         uuid.NewString(),
		Address:    address,
		TotalValue: decimal.NewFromInt(150),
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
		Tokens: []models.SnapshotToken{
			{Position: 0, Chain: "ethereum", Symbol: &symbol, Balance: "40000000000000000", Price: &price, Value: &value, Change24h: &change},
			{Position: 1, Chain: "polygon", Balance: "0"},
		},
	}

	for _, s := range []*models.PortfolioSnapshot{older, newer} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	got, err := repo.GetByID(ctx, newer.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.TotalValue.Equal(newer.TotalValue) {
		t.Errorf("TotalValue = %s, want %s", got.TotalValue, newer.TotalValue)
	}
	if len(got.Tokens) != 2 || got.Tokens[0].Price == nil || !got.Tokens[0].Price.Equal(price) {
		t.Fatalf("Tokens = %+v", got.Tokens)
	}
	if got.Tokens[1].Value != nil {
		t.Error("missing value should round-trip as NULL")
	}

	latest, err := repo.GetLatestByAddress(ctx, address)
	if err != nil {
		t.Fatalf("GetLatestByAddress() error = %v", err)
	}
	if latest.ID != newer.ID {
		t.Errorf("latest = %s, want %s", latest.ID, newer.ID)
	}

	list, err := repo.ListByAddress(ctx, address, 10, 0)
	if err != nil {
		t.Fatalf("ListByAddress() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[0].TokenCount != 2 {
		t.Errorf("ListByAddress() = %+v", list)
	}

	page, err := repo.ListByAddress(ctx, address, 1, 1)
	if err != nil {
		t.Fatalf("ListByAddress(offset) error = %v", err)
	}
	if len(page) != 1 || page[0].ID != older.ID {
		t.Errorf("second page = %+v", page)
	}
}

func TestSnapshotRepository_NotFound(t *testing.T) {
	db := testPostgres(t)
	repo := NewSnapshotRepository(db.Pool())
	ctx := testContext(t)

	if _, err := repo.GetByID(ctx, uuid.NewString()); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("GetByID() error = %v, want ErrSnapshotNotFound", err)
	}
	if _, err := repo.GetLatestByAddress(ctx, "0x0000000000000000000000000000000000000000"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("GetLatestByAddress() error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotRepository_MalformedIDIsNotFound(t *testing.T) {
	repo := NewSnapshotRepository(nil)

	for _, id := range []string{"", "latest", "1 OR 1=1", "6f1c2a5e-9d0b-4d7e-8f3a"} {
		if _, err := repo.GetByID(testContext(t), id); !errors.Is(err, ErrSnapshotNotFound) {
			t.Errorf("GetByID(%q) error = %v, want ErrSnapshotNotFound", id, err)
		}
	}
}
