// Package reconciliation compares the in-memory ledger against an exchange
// adapter's view of open positions.
package reconciliation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-worker/internal/account"
	"trading-worker/internal/events"
)

const defaultTolerance = 0.0001

// ExchangeClient interface for reconciliation.
type ExchangeClient interface {
	GetPositions(ctx context.Context) (map[string]Position, error)
}

// Position from exchange. Quantity is signed, negative for shorts.
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
}

// Ledger is the local side of the comparison.
type Ledger interface {
	Snapshot() account.Snapshot
}

// Report contains reconciliation results.
type Report struct {
	Timestamp     time.Time      `json:"timestamp"`
	PositionDiffs []PositionDiff `json:"position_diffs"`
	HasDiffs      bool           `json:"has_diffs"`
	Checked       int            `json:"checked"`
}

// PositionDiff represents a position difference.
type PositionDiff struct {
	Symbol      string  `json:"symbol"`
	LocalQty    float64 `json:"local_qty"`
	ExchangeQty float64 `json:"exchange_qty"`
	Difference  float64 `json:"difference"`
}

// Service reports drift; it never rewrites the ledger, whose only writer is
// the execution router.
type Service struct {
	exchange  ExchangeClient
	ledger    Ledger
	bus       *events.Bus
	tolerance float64
	log       *zap.SugaredLogger

	mu   sync.Mutex
	last *Report
}

// NewService creates a reconciliation service. A nil exchange runs in paper
// mode and always reports no drift.
func NewService(exchange ExchangeClient, ledger Ledger, bus *events.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		exchange:  exchange,
		ledger:    ledger,
		bus:       bus,
		tolerance: defaultTolerance,
		log:       logger.Named("reconciliation").Sugar(),
	}
}

// Reconcile performs one comparison.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: time.Now().UTC(), PositionDiffs: []PositionDiff{}}
	if s.exchange == nil {
		s.last = report
		return report, nil
	}

	exchangePos, err := s.exchange.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange positions: %w", err)
	}

	local := make(map[string]float64)
	for _, p := range s.ledger.Snapshot().Positions {
		local[p.Symbol] = p.Signed()
	}

	symbols := make(map[string]struct{}, len(local)+len(exchangePos))
	for sym := range local {
		symbols[sym] = struct{}{}
	}
	for sym := range exchangePos {
		symbols[sym] = struct{}{}
	}

	for sym := range symbols {
		report.Checked++
		localQty := local[sym]
		exQty := exchangePos[sym].Quantity
		if math.Abs(localQty-exQty) > s.tolerance {
			report.PositionDiffs = append(report.PositionDiffs, PositionDiff{
				Symbol:      sym,
				LocalQty:    localQty,
				ExchangeQty: exQty,
				Difference:  localQty - exQty,
			})
		}
	}
	sort.Slice(report.PositionDiffs, func(i, j int) bool {
		return report.PositionDiffs[i].Symbol < report.PositionDiffs[j].Symbol
	})
	report.HasDiffs = len(report.PositionDiffs) > 0

	if report.HasDiffs {
		s.log.Warnf("⚠️ reconciliation found %d position diffs", len(report.PositionDiffs))
		for _, d := range report.PositionDiffs {
			s.log.Warnf("  %s: local=%.6f exchange=%.6f diff=%.6f", d.Symbol, d.LocalQty, d.ExchangeQty, d.Difference)
		}
		s.bus.Publish(events.EventRiskAlert, fmt.Sprintf("reconciliation drift on %d symbols", len(report.PositionDiffs)))
	} else {
		s.log.Debugf("✓ reconciliation: %d symbols match", report.Checked)
	}

	s.last = report
	return report, nil
}

// LastReport returns the most recent report, or nil.
func (s *Service) LastReport() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
