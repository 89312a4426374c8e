// Package policy maps a position and its trade config to buy and sell trigger
// prices. Everything here is a pure function of its inputs.
package policy

import (
	"spot-accumulator/internal/ledger"
	"spot-accumulator/pkg/config"
	"spot-accumulator/pkg/money"

	"github.com/shopspring/decimal"
)

// Reason explains a verdict; it is logged and shown to the operator.
type Reason string

const (
	ReasonBootstrap         Reason = "bootstrap"
	ReasonTriggered         Reason = "triggered"
	ReasonNotTriggered      Reason = "not_triggered"
	ReasonNoPosition        Reason = "no_position"
	ReasonEmptyAssetBalance Reason = "empty_asset_balance"
	ReasonInsufficientQuote Reason = "insufficient_quote_balance"
	ReasonMaxVolumeReached  Reason = "max_volume_reached"
)

// Verdict is the outcome of a buy or sell evaluation.
type Verdict struct {
	Eligible bool
	Reason   Reason
}

// Triggers summarizes the current thresholds of a position.
type Triggers struct {
	SellTrigger           decimal.Decimal `json:"sellTrigger"`
	BuyTrigger            decimal.Decimal `json:"buyTrigger"`
	EffectiveBuyClearance decimal.Decimal `json:"effectiveBuyClearance"`
}

// SellTrigger is the price the market must exceed before selling.
func SellTrigger(pos ledger.Position, cfg config.TradeConfig) decimal.Decimal {
	return money.Mul(pos.AveragePrice, cfg.SellClearance)
}

// EvaluateSell decides whether the whole position should be sold at price.
// assetBalance is the exchange-reported balance, which may differ from the ledger.
func EvaluateSell(price decimal.Decimal, pos ledger.Position, cfg config.TradeConfig, assetBalance decimal.Decimal) Verdict {
	if pos.Empty() {
		return Verdict{Reason: ReasonNoPosition}
	}
	if price.Cmp(SellTrigger(pos, cfg)) <= 0 {
		return Verdict{Reason: ReasonNotTriggered}
	}
	if assetBalance.Sign() <= 0 {
		return Verdict{Reason: ReasonEmptyAssetBalance}
	}
	return Verdict{Eligible: true, Reason: ReasonTriggered}
}

// SellEligible is EvaluateSell reduced to a bool.
func SellEligible(price decimal.Decimal, pos ledger.Position, cfg config.TradeConfig, assetBalance decimal.Decimal) bool {
	return EvaluateSell(price, pos, cfg, assetBalance).Eligible
}

// ProgressiveBuyClearance lowers the base clearance by step for every full
// bucket of committed capital, never going below zero:
//
//	max(0, base - step*floor(totalCost/bucket))
func ProgressiveBuyClearance(totalCost, base, step, bucket decimal.Decimal) decimal.Decimal {
	buckets, err := money.Div(totalCost, bucket)
	if err != nil || buckets.Sign() <= 0 {
		return money.Max(base, money.Zero)
	}
	reduced := money.Sub(base, money.Mul(step, money.Floor(buckets)))
	return money.Max(reduced, money.Zero)
}

// EffectiveBuyClearance applies the config's schedule to the position's cost.
func EffectiveBuyClearance(pos ledger.Position, cfg config.TradeConfig) decimal.Decimal {
	cfg = cfg.WithDefaults()
	return ProgressiveBuyClearance(pos.TotalCost, cfg.BuyClearance, cfg.BuyStep, cfg.BuyBucket)
}

// BuyTrigger is the price at or below which another buy is allowed.
func BuyTrigger(pos ledger.Position, cfg config.TradeConfig) decimal.Decimal {
	return money.Mul(pos.AveragePrice, EffectiveBuyClearance(pos, cfg))
}

// BuyInput carries the market side of a buy evaluation.
type BuyInput struct {
	Price        decimal.Decimal
	QuoteBalance decimal.Decimal
	Notional     decimal.Decimal // value of one trade at Price
	Position     ledger.Position
}

// EvaluateBuy decides whether to add to the position. An empty position is
// always bought into.
func EvaluateBuy(in BuyInput, cfg config.TradeConfig) Verdict {
	if in.Position.Empty() {
		return Verdict{Eligible: true, Reason: ReasonBootstrap}
	}
	if in.Price.Cmp(BuyTrigger(in.Position, cfg)) > 0 {
		return Verdict{Reason: ReasonNotTriggered}
	}
	if in.QuoteBalance.Cmp(in.Notional) < 0 {
		return Verdict{Reason: ReasonInsufficientQuote}
	}
	if in.Position.QuantityHeld.Cmp(cfg.MaxCumulativeVolume) >= 0 {
		return Verdict{Reason: ReasonMaxVolumeReached}
	}
	return Verdict{Eligible: true, Reason: ReasonTriggered}
}

// BuyEligible is EvaluateBuy reduced to a bool.
func BuyEligible(in BuyInput, cfg config.TradeConfig) bool {
	return EvaluateBuy(in, cfg).Eligible
}

// Evaluate returns both trigger prices for status reporting.
func Evaluate(pos ledger.Position, cfg config.TradeConfig) Triggers {
	return Triggers{
		SellTrigger:           SellTrigger(pos, cfg),
		BuyTrigger:            BuyTrigger(pos, cfg),
		EffectiveBuyClearance: EffectiveBuyClearance(pos, cfg),
	}
}
