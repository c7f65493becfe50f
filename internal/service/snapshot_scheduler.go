package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio-dashboard/internal/logging"
	"github.com/portfolio-dashboard/internal/types"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// BalanceAggregator returns the aggregated holdings of an address
type BalanceAggregator interface {
	GetBalances(ctx context.Context, address string, chains []types.ChainID) (*BalancesResponse, bool, error)
}

// SnapshotCreator stores a snapshot
type SnapshotCreator interface {
	CreateSnapshot(ctx context.Context, address string, tokens []SnapshotTokenInput) (*SnapshotReceipt, error)
}

// SnapshotScheduler periodically snapshots a fixed watchlist of addresses
type SnapshotScheduler struct {
	balances  BalanceAggregator
	snapshots SnapshotCreator
	watchlist []string
	schedule  string
	logger    *logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSnapshotScheduler creates a scheduler running on a standard five-field
// cron schedule in UTC
func NewSnapshotScheduler(balances BalanceAggregator, snapshots SnapshotCreator, schedule string, watchlist []string, logger *logging.Logger) *SnapshotScheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SnapshotScheduler{
		balances:  balances,
		snapshots: snapshots,
		watchlist: watchlist,
		schedule:  schedule,
		logger:    logger.WithField("component", "snapshot_scheduler"),
	}
}

// Start registers the capture job and starts the scheduler. Jobs run with ctx.
func (s *SnapshotScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.CaptureAll(ctx); err != nil {
			s.logger.WithError(err).Error("Scheduled snapshot capture failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid snapshot schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.cron = c
	s.running = true

	s.logger.WithFields(map[string]interface{}{
		"schedule":  s.schedule,
		"addresses": len(s.watchlist),
	}).Info("Snapshot scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running capture to finish
func (s *SnapshotScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("snapshot scheduler is not running")
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Snapshot scheduler stopped")
	return nil
}

// CaptureAll snapshots every watchlist address. One address failing does not
// stop the others; the error reports how many failed.
func (s *SnapshotScheduler) CaptureAll(ctx context.Context) error {
	start := time.Now()
	failed := 0

	for _, address := range s.watchlist {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.CaptureAddress(ctx, address); err != nil {
			failed++
			s.logger.WithError(err).WithField("address", address).Warn("Snapshot capture failed")
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"addresses": len(s.watchlist),
		"failed":    failed,
		"duration":  time.Since(start).String(),
	}).Info("Snapshot capture complete")

	if failed > 0 {
		return fmt.Errorf("%d of %d snapshot captures failed", failed, len(s.watchlist))
	}
	return nil
}

// CaptureAddress aggregates the balances of address on every supported chain
// and stores them as a snapshot. Chains that failed are left out.
func (s *SnapshotScheduler) CaptureAddress(ctx context.Context, address string) (*SnapshotReceipt, error) {
	resp, _, err := s.balances.GetBalances(ctx, address, types.SupportedChains)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate balances: %w", err)
	}
	for chain, msg := range resp.Errors {
		s.logger.WithFields(map[string]interface{}{
			"address": address,
			"chain":   chain,
			"error":   msg,
		}).Warn("Chain missing from snapshot")
	}

	return s.snapshots.CreateSnapshot(ctx, address, SnapshotInputs(resp.Tokens))
}

// SnapshotInputs converts balances tokens into snapshot rows
func SnapshotInputs(tokens []types.TokenHoldingDTO) []SnapshotTokenInput {
	out := make([]SnapshotTokenInput, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, SnapshotTokenInput{
			Chain:           string(t.Chain),
			ContractAddress: t.ContractAddress,
			Symbol:          t.Symbol,
			Name:            t.Name,
			Balance:         t.Balance,
			Decimals:        t.Decimals,
			Price:           floatDecimal(t.PriceUSD),
			Value:           floatDecimal(t.ValueUSD),
		})
	}
	return out
}

func floatDecimal(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}
