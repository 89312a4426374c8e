package common

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrCredentialsRequired is returned by signed calls on a client without keys.
	ErrCredentialsRequired = errors.New("exchange: API key/secret required")
	// ErrUnknownSymbol is returned when the venue has no price for a symbol.
	ErrUnknownSymbol = errors.New("exchange: unknown symbol")
)

// SpotGateway abstracts a spot venue. Balances are the free amount of one
// asset; prices are the last traded price of a symbol such as "BNBUSDT".
type SpotGateway interface {
	FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	FetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	CreateMarketBuyOrder(ctx context.Context, symbol string, qty decimal.Decimal, clientID string) (Fill, error)
	CreateMarketSellOrder(ctx context.Context, symbol string, qty decimal.Decimal, clientID string) (Fill, error)
}

// SubmitMarket dispatches req to the side-specific gateway call.
func SubmitMarket(ctx context.Context, gw SpotGateway, req OrderRequest) (Fill, error) {
	switch req.Side {
	case SideBuy:
		return gw.CreateMarketBuyOrder(ctx, req.Symbol, req.Qty, req.ClientID)
	case SideSell:
		return gw.CreateMarketSellOrder(ctx, req.Symbol, req.Qty, req.ClientID)
	default:
		return Fill{}, errors.New("exchange: unknown order side " + string(req.Side))
	}
}
