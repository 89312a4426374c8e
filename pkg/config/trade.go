package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"spot-accumulator/pkg/money"

	"github.com/shopspring/decimal"
)

var ErrInvalidConfig = errors.New("invalid trade config")

// Defaults for the progressive buy clearance schedule.
var (
	DefaultBuyStep   = decimal.RequireFromString("0.05")
	DefaultBuyBucket = decimal.NewFromInt(100)
)

// TradeConfig describes how one pair is traded.
type TradeConfig struct {
	Asset               string          `json:"asset"`
	QuoteAsset          string          `json:"quoteAsset"`
	SellClearance       decimal.Decimal `json:"sellClearance"`
	BuyClearance        decimal.Decimal `json:"buyClearance"`
	TickInterval        time.Duration   `json:"-"` // tickIntervalMs on the wire
	PerTradeVolumeFloor decimal.Decimal `json:"perTradeVolumeFloor"`
	MaxCumulativeVolume decimal.Decimal `json:"maxCumulativeVolume"`
	// BuyStep of zero turns the progressive schedule off.
	BuyStep   decimal.Decimal `json:"buyStep"`
	BuyBucket decimal.Decimal `json:"buyBucket"`
}

// Symbol is the exchange market symbol, e.g. BNBUSDT.
func (c TradeConfig) Symbol() string {
	return strings.ToUpper(c.Asset) + strings.ToUpper(c.QuoteAsset)
}

// Market is the display form, e.g. BNB/USDT.
func (c TradeConfig) Market() string {
	return strings.ToUpper(c.Asset) + "/" + strings.ToUpper(c.QuoteAsset)
}

// PairKey identifies the pair's ledger document, e.g. BNB-USDT.
func (c TradeConfig) PairKey() string {
	return strings.ToUpper(strings.TrimSpace(c.Asset)) + "-" + strings.ToUpper(strings.TrimSpace(c.QuoteAsset))
}

// MarshalJSON reports the tick interval in milliseconds, the unit it is
// configured in.
func (c TradeConfig) MarshalJSON() ([]byte, error) {
	type plain TradeConfig
	return json.Marshal(struct {
		plain
		TickIntervalMs int64 `json:"tickIntervalMs"`
	}{plain(c), c.TickInterval.Milliseconds()})
}

func (c *TradeConfig) UnmarshalJSON(data []byte) error {
	type plain TradeConfig
	var aux struct {
		plain
		TickIntervalMs int64 `json:"tickIntervalMs"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = TradeConfig(aux.plain)
	c.TickInterval = time.Duration(aux.TickIntervalMs) * time.Millisecond
	return nil
}

// WithDefaults fills BuyBucket when it was left unset. BuyStep is not
// touched since zero is a valid step; sources apply DefaultBuyStep when the
// setting is absent.
func (c TradeConfig) WithDefaults() TradeConfig {
	if c.BuyBucket.IsZero() {
		c.BuyBucket = DefaultBuyBucket
	}
	return c
}

// Validate checks every field. The error wraps ErrInvalidConfig.
func (c TradeConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Asset) == "":
		return fmt.Errorf("%w: asset is required", ErrInvalidConfig)
	case strings.TrimSpace(c.QuoteAsset) == "":
		return fmt.Errorf("%w: quote asset is required", ErrInvalidConfig)
	case c.SellClearance.Cmp(money.One) <= 0:
		return fmt.Errorf("%w: sell clearance must be > 1, got %s", ErrInvalidConfig, c.SellClearance)
	case c.BuyClearance.Sign() <= 0 || c.BuyClearance.Cmp(money.One) >= 0:
		return fmt.Errorf("%w: buy clearance must be in (0,1), got %s", ErrInvalidConfig, c.BuyClearance)
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval must be positive, got %s", ErrInvalidConfig, c.TickInterval)
	case !money.Positive(c.PerTradeVolumeFloor):
		return fmt.Errorf("%w: per-trade volume must be positive, got %s", ErrInvalidConfig, c.PerTradeVolumeFloor)
	case !money.Positive(c.MaxCumulativeVolume):
		return fmt.Errorf("%w: max volume must be positive, got %s", ErrInvalidConfig, c.MaxCumulativeVolume)
	case c.BuyStep.Sign() < 0:
		return fmt.Errorf("%w: buy step must not be negative, got %s", ErrInvalidConfig, c.BuyStep)
	case !money.Positive(c.BuyBucket):
		return fmt.Errorf("%w: buy bucket must be positive, got %s", ErrInvalidConfig, c.BuyBucket)
	}
	return nil
}

// Patch is an operator change request; nil fields are left alone.
type Patch struct {
	SellClearance       *decimal.Decimal `json:"sellClearance,omitempty"`
	BuyClearance        *decimal.Decimal `json:"buyClearance,omitempty"`
	PerTradeVolumeFloor *decimal.Decimal `json:"perTradeVolumeFloor,omitempty"`
	MaxCumulativeVolume *decimal.Decimal `json:"maxCumulativeVolume,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.SellClearance == nil && p.BuyClearance == nil &&
		p.PerTradeVolumeFloor == nil && p.MaxCumulativeVolume == nil
}

// Apply returns c with the patch applied, or an error and c unchanged.
func (c TradeConfig) Apply(p Patch) (TradeConfig, error) {
	if p.Empty() {
		return c, fmt.Errorf("%w: no fields to update", ErrInvalidConfig)
	}
	next := c
	if p.SellClearance != nil {
		next.SellClearance = *p.SellClearance
	}
	if p.BuyClearance != nil {
		next.BuyClearance = *p.BuyClearance
	}
	if p.PerTradeVolumeFloor != nil {
		next.PerTradeVolumeFloor = *p.PerTradeVolumeFloor
	}
	if p.MaxCumulativeVolume != nil {
		next.MaxCumulativeVolume = *p.MaxCumulativeVolume
	}
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}
