package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PairEntry is one pair in the YAML pairs file. Numbers are kept as strings so
// clearances are parsed exactly.
type PairEntry struct {
	Asset          string `yaml:"asset"`
	Quote          string `yaml:"quote"`
	SellClearance  string `yaml:"sell_clearance"`
	BuyClearance   string `yaml:"buy_clearance"`
	TickIntervalMs int    `yaml:"tick_interval_ms"`
	Volume         string `yaml:"volume"`
	MaxVolume      string `yaml:"max_volume"`
	BuyStep        string `yaml:"buy_step"`
	BuyBucket      string `yaml:"buy_bucket"`
}

// PairsFile represents the top-level YAML structure.
type PairsFile struct {
	Pairs []PairEntry `yaml:"pairs"`
}

// LoadPairsFile reads and validates every pair from a YAML file.
func LoadPairsFile(path string) ([]TradeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePairs(data)
}

// ParsePairs decodes the YAML pairs document.
func ParsePairs(data []byte) ([]TradeConfig, error) {
	var file PairsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Pairs) == 0 {
		return nil, fmt.Errorf("%w: no pairs defined", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(file.Pairs))
	out := make([]TradeConfig, 0, len(file.Pairs))
	for i, p := range file.Pairs {
		tc, err := p.toTradeConfig()
		if err != nil {
			return nil, fmt.Errorf("pair %d (%s/%s): %w", i, p.Asset, p.Quote, err)
		}
		if seen[tc.PairKey()] {
			return nil, fmt.Errorf("%w: duplicate pair %s", ErrInvalidConfig, tc.PairKey())
		}
		seen[tc.PairKey()] = true
		out = append(out, tc)
	}
	return out, nil
}

func (p PairEntry) toTradeConfig() (TradeConfig, error) {
	tc := TradeConfig{
		Asset:        p.Asset,
		QuoteAsset:   p.Quote,
		TickInterval: time.Duration(p.TickIntervalMs) * time.Millisecond,
		BuyStep:      DefaultBuyStep,
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"sell_clearance", p.SellClearance, &tc.SellClearance},
		{"buy_clearance", p.BuyClearance, &tc.BuyClearance},
		{"volume", p.Volume, &tc.PerTradeVolumeFloor},
		{"max_volume", p.MaxVolume, &tc.MaxCumulativeVolume},
		{"buy_step", p.BuyStep, &tc.BuyStep},
		{"buy_bucket", p.BuyBucket, &tc.BuyBucket},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return TradeConfig{}, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, f.name, f.raw)
		}
		*f.dst = v
	}
	tc = tc.WithDefaults()
	if err := tc.Validate(); err != nil {
		return TradeConfig{}, err
	}
	return tc, nil
}
