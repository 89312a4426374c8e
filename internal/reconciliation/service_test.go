package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"spot-accumulator/internal/events"
	"spot-accumulator/internal/ledger"
	"spot-accumulator/pkg/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type balances map[string]decimal.Decimal

func (b balances) FetchBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	v, ok := b[asset]
	if !ok {
		return money.Zero, errors.New("unavailable")
	}
	return v, nil
}

type fixedPosition ledger.Position

func (p fixedPosition) Position(context.Context) (ledger.Position, error) {
	return ledger.Position(p), nil
}

func TestReconcileReportsDiffs(t *testing.T) {
	ex := balances{"BNB": money.MustParse("1.5"), "ETH": money.MustParse("3")}
	svc := NewService(ex, []Pair{
		{Key: "BNB-USDT", Asset: "BNB", Ledger: fixedPosition{QuantityHeld: money.MustParse("2")}},
		{Key: "ETH-USDT", Asset: "ETH", Ledger: fixedPosition{QuantityHeld: money.MustParse("3")}},
		{Key: "SOL-USDT", Asset: "SOL", Ledger: fixedPosition{QuantityHeld: money.MustParse("1")}},
	}, events.NewBus(), time.Minute)

	report := svc.Reconcile(context.Background())
	require.True(t, report.HasDiffs)
	require.Len(t, report.Diffs, 1)
	diff := report.Diffs[0]
	assert.Equal(t, "BNB-USDT", diff.Pair)
	assert.True(t, diff.Short)
	assert.True(t, diff.Difference.Equal(money.MustParse("-0.5")))

	require.Len(t, report.Errors, 1)
	assert.Equal(t, "SOL-USDT", report.Errors[0].Pair)
}

func TestShortBalancePublishesNotice(t *testing.T) {
	bus := events.NewBus()
	notices, unsub := bus.Subscribe(events.EventNotice, 4)
	defer unsub()
	reports, unsubReports := bus.Subscribe(events.EventReconcileReport, 1)
	defer unsubReports()

	svc := NewService(balances{"BNB": money.MustParse("5"), "ETH": money.Zero}, []Pair{
		{Key: "BNB-USDT", Asset: "BNB", Ledger: fixedPosition{QuantityHeld: money.MustParse("2")}},
		{Key: "ETH-USDT", Asset: "ETH", Ledger: fixedPosition{QuantityHeld: money.MustParse("1")}},
	}, bus, time.Minute)

	svc.handleReport(svc.Reconcile(context.Background()))

	require.Len(t, notices, 1)
	assert.Equal(t, "ETH-USDT", (<-notices).(events.Notice).Pair)
	report := (<-reports).(Report)
	assert.Len(t, report.Diffs, 2)
}
