// Package reconciliation compares what the exchange holds with what the
// ledgers believe is held. It only reports; ledgers change on fills alone.
package reconciliation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"spot-accumulator/internal/events"
	"spot-accumulator/internal/ledger"
	"spot-accumulator/pkg/i18n"

	"github.com/shopspring/decimal"
)

// BalanceSource reports exchange balances.
type BalanceSource interface {
	FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// PositionSource reports the ledger position of a pair.
type PositionSource interface {
	Position(ctx context.Context) (ledger.Position, error)
}

// Pair is one ledger to check against an exchange asset.
type Pair struct {
	Key    string
	Asset  string
	Ledger PositionSource
}

// Service handles periodic reconciliation
type Service struct {
	exchange BalanceSource
	pairs    []Pair
	bus      *events.Bus
	interval time.Duration
	mu       sync.Mutex
}

// Report contains reconciliation results
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Diffs     []Diff    `json:"diffs"`
	Errors    []PairErr `json:"errors,omitempty"`
	HasDiffs  bool      `json:"hasDiffs"`
}

// Diff is a pair whose exchange balance differs from its ledger quantity.
// Short means the exchange holds less than the ledger: a sell could not
// cover the recorded position.
type Diff struct {
	Pair        string          `json:"pair"`
	Asset       string          `json:"asset"`
	LedgerQty   decimal.Decimal `json:"ledgerQty"`
	ExchangeQty decimal.Decimal `json:"exchangeQty"`
	Difference  decimal.Decimal `json:"difference"`
	Short       bool            `json:"short"`
}

// PairErr records a pair that could not be checked.
type PairErr struct {
	Pair  string `json:"pair"`
	Error string `json:"error"`
}

// NewService creates a new reconciliation service
func NewService(exchange BalanceSource, pairs []Pair, bus *events.Bus, interval time.Duration) *Service {
	return &Service{
		exchange: exchange,
		pairs:    pairs,
		bus:      bus,
		interval: interval,
	}
}

// Start begins periodic reconciliation
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.handleReport(s.Reconcile(ctx))
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[RECON] %s", fmt.Sprintf(i18n.M().ReconStarted, s.interval))
}

// Reconcile performs one check over every pair. Per-pair failures are
// collected in the report rather than aborting the pass.
func (s *Service) Reconcile(ctx context.Context) Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{Timestamp: time.Now().UTC(), Diffs: []Diff{}}
	for _, p := range s.pairs {
		pos, err := p.Ledger.Position(ctx)
		if err != nil {
			report.Errors = append(report.Errors, PairErr{Pair: p.Key, Error: err.Error()})
			continue
		}
		held, err := s.exchange.FetchBalance(ctx, p.Asset)
		if err != nil {
			report.Errors = append(report.Errors, PairErr{Pair: p.Key, Error: err.Error()})
			continue
		}
		if held.Equal(pos.QuantityHeld) {
			continue
		}
		report.Diffs = append(report.Diffs, Diff{
			Pair:        p.Key,
			Asset:       p.Asset,
			LedgerQty:   pos.QuantityHeld,
			ExchangeQty: held,
			Difference:  held.Sub(pos.QuantityHeld),
			Short:       held.LessThan(pos.QuantityHeld),
		})
		report.HasDiffs = true
	}
	return report
}

func (s *Service) handleReport(report Report) {
	for _, e := range report.Errors {
		log.Printf("[RECON] %s check failed: %s", e.Pair, e.Error)
	}
	for _, d := range report.Diffs {
		msg := fmt.Sprintf(i18n.M().ReconMismatch, d.Asset, d.ExchangeQty, d.LedgerQty)
		log.Printf("[RECON] %s %s", d.Pair, msg)
		// Surplus on the exchange is normal when the account holds more than the bot bought.
		if d.Short {
			s.bus.Publish(events.EventNotice, events.Notice{Pair: d.Pair, Message: msg, Time: report.Timestamp})
		}
	}
	s.bus.Publish(events.EventReconcileReport, report)
}
