package spot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spot-accumulator/pkg/exchanges/common"
	"spot-accumulator/pkg/money"

	"github.com/shopspring/decimal"
)

// Config holds Binance credentials and call limits.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64  // ms
	BaseURL    string // overrides the production/testnet host
	Retry      common.RetryPolicy
	// RequestsPerSecond paces all calls made by this client.
	RequestsPerSecond float64
}

// Client is a Binance spot client implementing common.SpotGateway.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
}

var _ common.SpotGateway = (*Client)(nil)

func New(cfg Config) *Client {
	base := "https://api.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binance.vision"
	}
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = common.DefaultRetryPolicy
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	client := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{},
	}
	client.timeSync = common.NewTimeSync(client.GetServerTime)
	// 1200 weight per minute on spot.
	client.rateLimiter = common.NewRateLimiter(cfg.RequestsPerSecond, 1200, time.Minute)
	return client
}

// RunTimeSync keeps the signing clock aligned until ctx is done.
func (c *Client) RunTimeSync(ctx context.Context) {
	c.timeSync.Run(ctx)
}

// FetchBalance returns the free balance of asset; an asset the account has
// never held is zero.
func (c *Client) FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	info, err := common.Do(ctx, c.cfg.Retry, "binance fetch balance", c.GetAccountInfo)
	if err != nil {
		return decimal.Decimal{}, err
	}
	for _, bal := range info.Balances {
		if strings.EqualFold(bal.Asset, asset) {
			free, err := money.Parse(bal.Free)
			if err != nil {
				return decimal.Decimal{}, fmt.Errorf("%w: balance %s: %v", common.ErrDecode, asset, err)
			}
			return free, nil
		}
	}
	return money.Zero, nil
}

// FetchLastPrice returns the last traded price of symbol.
func (c *Client) FetchLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return common.Do(ctx, c.cfg.Retry, "binance fetch price", func(ctx context.Context) (decimal.Decimal, error) {
		params := url.Values{}
		params.Set("symbol", symbol)
		body, err := c.doPublic(ctx, "/api/v3/ticker/price", params)
		if err != nil {
			var apiErr *common.APIError
			if errors.As(err, &apiErr) && apiErr.Code == -1121 {
				return decimal.Decimal{}, fmt.Errorf("%w: %s", common.ErrUnknownSymbol, symbol)
			}
			return decimal.Decimal{}, err
		}
		var res struct {
			Symbol string `json:"symbol"`
			Price  string `json:"price"`
		}
		if err := json.Unmarshal(body, &res); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: ticker: %v", common.ErrDecode, err)
		}
		price, err := money.Parse(res.Price)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: ticker price %q", common.ErrDecode, res.Price)
		}
		return price, nil
	})
}

func (c *Client) CreateMarketBuyOrder(ctx context.Context, symbol string, qty decimal.Decimal, clientID string) (common.Fill, error) {
	return c.submitMarket(ctx, common.OrderRequest{Symbol: symbol, Side: common.SideBuy, Qty: qty, ClientID: clientID})
}

func (c *Client) CreateMarketSellOrder(ctx context.Context, symbol string, qty decimal.Decimal, clientID string) (common.Fill, error) {
	return c.submitMarket(ctx, common.OrderRequest{Symbol: symbol, Side: common.SideSell, Qty: qty, ClientID: clientID})
}

// submitMarket places a market order once; a lost response is not retried
// because the order may have executed.
func (c *Client) submitMarket(ctx context.Context, req common.OrderRequest) (common.Fill, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.Fill{}, common.ErrCredentialsRequired
	}
	return common.Once(ctx, c.cfg.Retry, "binance market "+strings.ToLower(string(req.Side)), func(ctx context.Context) (common.Fill, error) {
		params := url.Values{}
		params.Set("symbol", req.Symbol)
		params.Set("side", string(req.Side))
		params.Set("type", "MARKET")
		params.Set("quantity", req.Qty.String())
		params.Set("newOrderRespType", "FULL")
		if req.ClientID != "" {
			params.Set("newClientOrderId", req.ClientID)
		}
		body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
		if err != nil {
			return common.Fill{}, err
		}
		var resp orderResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return common.Fill{}, fmt.Errorf("%w: order: %v", common.ErrDecode, err)
		}
		return resp.toFill()
	})
}

// AccountInfo holds balances and permissions.
type AccountInfo struct {
	CanTrade   bool      `json:"canTrade"`
	UpdateTime int64     `json:"updateTime"`
	Balances   []Balance `json:"balances"`
}

// Balance represents an asset balance.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// GetAccountInfo returns account balances and basic flags.
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, common.ErrCredentialsRequired
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}
	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: account info: %v", common.ErrDecode, err)
	}
	return &info, nil
}

// GetServerTime fetches server time (ms).
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("%w: server time: %v", common.ErrDecode, err)
	}
	return res.ServerTime, nil
}

type orderFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

type orderResponse struct {
	Symbol              string      `json:"symbol"`
	OrderID             int64       `json:"orderId"`
	ClientOrderID       string      `json:"clientOrderId"`
	Status              string      `json:"status"`
	ExecutedQty         string      `json:"executedQty"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	Fills               []orderFill `json:"fills"`
}

// toFill derives the average fill price from the quote spent and sums the
// commissions of the individual fills.
func (r orderResponse) toFill() (common.Fill, error) {
	fill := common.Fill{
		ExchangeOrderID: strconv.FormatInt(r.OrderID, 10),
		ClientID:        r.ClientOrderID,
		Status:          mapStatus(r.Status),
		Qty:             money.Zero,
		FillPrice:       money.Zero,
		Fee:             money.Zero,
	}
	if r.ExecutedQty != "" {
		executed, err := money.Parse(r.ExecutedQty)
		if err != nil {
			return common.Fill{}, fmt.Errorf("%w: executedQty %q", common.ErrDecode, r.ExecutedQty)
		}
		fill.Qty = executed
		if quote, err := money.Parse(r.CummulativeQuoteQty); err == nil && money.Positive(executed) {
			if avg, err := money.Div(quote, executed); err == nil {
				fill.FillPrice = money.Round(avg, money.PricePlaces)
			}
		}
	}
	for _, f := range r.Fills {
		commission, err := money.Parse(f.Commission)
		if err != nil {
			continue
		}
		fill.Fee = money.Add(fill.Fee, commission)
		fill.FeeAsset = f.CommissionAsset
	}
	return fill, nil
}

// doSigned adds timestamp and signature and performs the request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.timeSync.Stale() {
		if err := c.timeSync.Sync(ctx); err != nil {
			return nil, fmt.Errorf("time sync: %w", err)
		}
	}
	params.Set("timestamp", strconv.FormatInt(c.timeSync.Now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))
	encoded := params.Encode()

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.do(ctx, req)
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		apiErr := &common.APIError{StatusCode: res.StatusCode, Message: string(body)}
		var payload struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Msg != "" {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Msg
		}
		return nil, apiErr
	}
	return body, nil
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
