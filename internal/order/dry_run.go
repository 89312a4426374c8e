package order

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	exchange "spot-accumulator/pkg/exchanges/common"
	"spot-accumulator/pkg/money"

	"github.com/shopspring/decimal"
)

// PriceSource supplies last prices to the paper gateway.
type PriceSource interface {
	FetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// DryRunSimConfig tunes the paper fills.
type DryRunSimConfig struct {
	FeeRate     decimal.Decimal // e.g. 0.001 = 10 bps, charged in the quote asset
	SlippageBps float64         // upper bound of adverse slippage per fill
	// Simulated order round trip, drawn uniformly from [min, max] ms.
	GatewayLatencyMinMs int
	GatewayLatencyMaxMs int
}

// PaperGateway fills market orders against simulated balances at the price
// reported by a PriceSource. It never reaches an exchange order endpoint.
type PaperGateway struct {
	prices PriceSource
	cfg    DryRunSimConfig

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	markets  map[string][2]string // symbol -> base, quote
	rng      *rand.Rand
	seq      atomic.Int64
}

var _ exchange.SpotGateway = (*PaperGateway)(nil)

func NewPaperGateway(prices PriceSource, cfg DryRunSimConfig) *PaperGateway {
	if cfg.GatewayLatencyMaxMs > 0 && cfg.GatewayLatencyMinMs > cfg.GatewayLatencyMaxMs {
		cfg.GatewayLatencyMinMs, cfg.GatewayLatencyMaxMs = cfg.GatewayLatencyMaxMs, cfg.GatewayLatencyMinMs
	}
	return &PaperGateway{
		prices:   prices,
		cfg:      cfg,
		balances: make(map[string]decimal.Decimal),
		markets:  make(map[string][2]string),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddMarket declares which assets symbol trades.
func (p *PaperGateway) AddMarket(symbol, base, quote string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markets[symbol] = [2]string{base, quote}
}

// Deposit credits amount of asset to the simulated account.
func (p *PaperGateway) Deposit(asset string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[asset] = money.Add(p.balance(asset), amount)
}

func (p *PaperGateway) FetchBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance(asset), nil
}

func (p *PaperGateway) FetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return p.prices.FetchLastPrice(ctx, symbol)
}

func (p *PaperGateway) CreateMarketBuyOrder(ctx context.Context, symbol string, qty decimal.Decimal, clientID string) (exchange.Fill, error) {
	return p.fill(ctx, exchange.SideBuy, symbol, qty, clientID)
}

func (p *PaperGateway) CreateMarketSellOrder(ctx context.Context, symbol string, qty decimal.Decimal, clientID string) (exchange.Fill, error) {
	return p.fill(ctx, exchange.SideSell, symbol, qty, clientID)
}

func (p *PaperGateway) fill(ctx context.Context, side exchange.Side, symbol string, qty decimal.Decimal, clientID string) (exchange.Fill, error) {
	if !money.Positive(qty) {
		return exchange.Fill{}, &exchange.APIError{StatusCode: http.StatusBadRequest, Code: -1013, Message: "Invalid quantity."}
	}
	p.mu.Lock()
	assets, ok := p.markets[symbol]
	p.mu.Unlock()
	if !ok {
		return exchange.Fill{}, fmt.Errorf("%w: %s", exchange.ErrUnknownSymbol, symbol)
	}
	if err := p.simulateLatency(ctx); err != nil {
		return exchange.Fill{}, err
	}
	last, err := p.prices.FetchLastPrice(ctx, symbol)
	if err != nil {
		return exchange.Fill{}, err
	}

	price := money.Round(p.slip(side, last), money.PricePlaces)
	notional := money.Mul(qty, price)
	fee := money.Mul(notional, p.cfg.FeeRate)
	base, quote := assets[0], assets[1]

	p.mu.Lock()
	defer p.mu.Unlock()
	switch side {
	case exchange.SideBuy:
		cost := money.Add(notional, fee)
		if p.balance(quote).Cmp(cost) < 0 {
			return exchange.Fill{}, insufficientBalance()
		}
		p.balances[quote] = money.Sub(p.balance(quote), cost)
		p.balances[base] = money.Add(p.balance(base), qty)
	case exchange.SideSell:
		if p.balance(base).Cmp(qty) < 0 {
			return exchange.Fill{}, insufficientBalance()
		}
		p.balances[base] = money.Sub(p.balance(base), qty)
		p.balances[quote] = money.Sub(money.Add(p.balance(quote), notional), fee)
	}

	id := strconv.FormatInt(p.seq.Add(1), 10)
	log.Printf("[DRY-RUN] %s %s qty=%s price=%s fee=%s %s=%s %s=%s",
		side, symbol, qty, price, fee, base, p.balance(base), quote, p.balance(quote))
	return exchange.Fill{
		ExchangeOrderID: "paper-" + id,
		ClientID:        clientID,
		Status:          exchange.StatusFilled,
		Qty:             qty,
		FillPrice:       price,
		Fee:             fee,
		FeeAsset:        quote,
	}, nil
}

// slip moves the price against the taker by a random fraction of SlippageBps.
func (p *PaperGateway) slip(side exchange.Side, price decimal.Decimal) decimal.Decimal {
	if p.cfg.SlippageBps <= 0 {
		return price
	}
	p.mu.Lock()
	noise := p.rng.Float64() * p.cfg.SlippageBps / 10000.0
	p.mu.Unlock()
	frac := decimal.NewFromFloat(noise)
	if side == exchange.SideBuy {
		return money.Mul(price, money.Add(money.One, frac))
	}
	return money.Mul(price, money.Sub(money.One, frac))
}

func (p *PaperGateway) simulateLatency(ctx context.Context) error {
	maxMs := p.cfg.GatewayLatencyMaxMs
	if maxMs <= 0 {
		return nil
	}
	minMs := p.cfg.GatewayLatencyMinMs
	if minMs < 0 {
		minMs = 0
	}
	delayMs := minMs
	if span := maxMs - minMs; span > 0 {
		p.mu.Lock()
		delayMs += p.rng.Intn(span + 1)
		p.mu.Unlock()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(delayMs) * time.Millisecond):
		return nil
	}
}

// balance must be called with mu held.
func (p *PaperGateway) balance(asset string) decimal.Decimal {
	if b, ok := p.balances[asset]; ok {
		return b
	}
	return money.Zero
}

func insufficientBalance() error {
	return &exchange.APIError{StatusCode: http.StatusBadRequest, Code: -2010, Message: "Account has insufficient balance for requested action."}
}
