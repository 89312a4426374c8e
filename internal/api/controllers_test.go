package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"spot-accumulator/internal/engine"
	"spot-accumulator/internal/events"
	"spot-accumulator/internal/ledger"
	"spot-accumulator/internal/monitor"
	"spot-accumulator/pkg/config"
	"spot-accumulator/pkg/db"
	"spot-accumulator/pkg/money"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "StrongPass123!"

// fakeEngine keeps running flags and configs per pair.
type fakeEngine struct {
	mu         sync.Mutex
	running    map[string]bool
	configs    map[string]config.TradeConfig
	lastLimit  int
	cleanCalls int
}

func newFakeEngine() *fakeEngine {
	cfg := config.TradeConfig{
		Asset:               "BNB",
		QuoteAsset:          "USDT",
		SellClearance:       money.MustParse("1.02"),
		BuyClearance:        money.MustParse("0.97"),
		TickInterval:        time.Minute,
		PerTradeVolumeFloor: money.MustParse("10"),
		MaxCumulativeVolume: money.MustParse("1000"),
		BuyStep:             config.DefaultBuyStep,
	}.WithDefaults()
	return &fakeEngine{
		running: map[string]bool{"BNB-USDT": false},
		configs: map[string]config.TradeConfig{"BNB-USDT": cfg},
	}
}

func (f *fakeEngine) key(pair string) (string, error) {
	key := engine.NormalizePair(pair)
	if _, ok := f.configs[key]; !ok {
		return "", engine.ErrUnknownPair
	}
	return key, nil
}

func (f *fakeEngine) ListPairs(context.Context) []engine.PairInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []engine.PairInfo{{Pair: "BNB-USDT", Market: "BNB/USDT", Running: f.running["BNB-USDT"]}}
}

func (f *fakeEngine) Status(_ context.Context, pair string) (engine.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, err := f.key(pair)
	if err != nil {
		return engine.Status{}, err
	}
	cfg := f.configs[key]
	return engine.Status{
		Pair:         key,
		Market:       cfg.Market(),
		Running:      f.running[key],
		CurrentPrice: money.MustParse("312.5"),
		Position:     ledger.Position{QuantityHeld: money.MustParse("2"), AveragePrice: money.MustParse("300")},
		Config:       cfg,
	}, nil
}

func (f *fakeEngine) Start(_ context.Context, pair string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, err := f.key(pair)
	if err != nil {
		return err
	}
	if f.running[key] {
		return engine.ErrAlreadyRunning
	}
	f.running[key] = true
	return nil
}

func (f *fakeEngine) Stop(_ context.Context, pair string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, err := f.key(pair)
	if err != nil {
		return err
	}
	if !f.running[key] {
		return engine.ErrAlreadyStopped
	}
	f.running[key] = false
	return nil
}

func (f *fakeEngine) UpdateConfig(_ context.Context, pair string, patch config.Patch) (config.TradeConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, err := f.key(pair)
	if err != nil {
		return config.TradeConfig{}, err
	}
	next, err := f.configs[key].Apply(patch)
	if err != nil {
		return next, err
	}
	f.configs[key] = next
	f.running[key] = false
	return next, nil
}

func (f *fakeEngine) CleanLedger(_ context.Context, pair string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, err := f.key(pair)
	if err != nil {
		return err
	}
	f.cleanCalls++
	f.running[key] = false
	return nil
}

func (f *fakeEngine) Trades(_ context.Context, pair string) ([]ledger.ClosedTrade, error) {
	if _, err := f.key(pair); err != nil {
		return nil, err
	}
	return []ledger.ClosedTrade{{ID: "01HZX", Quantity: money.MustParse("2"), ExitPrice: money.MustParse("310")}}, nil
}

func (f *fakeEngine) Orders(_ context.Context, pair string, limit int) ([]db.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.key(pair); err != nil {
		return nil, err
	}
	f.lastLimit = limit
	return []db.Order{}, nil
}

func (f *fakeEngine) snapshot() (running bool, cleanCalls, lastLimit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running["BNB-USDT"], f.cleanCalls, f.lastLimit
}

func newTestAPIServer(t *testing.T, passwordHash string) (*httptest.Server, *fakeEngine, *events.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewBus()
	eng := newFakeEngine()
	server := NewServer(Options{
		Engine:  eng,
		Bus:     bus,
		Metrics: monitor.NewSystemMetrics(monitor.NewCollectors()),
		Meta: SystemMeta{
			DryRun:  true,
			Venue:   "paper",
			Pairs:   []string{"BNB-USDT"},
			Store:   "sqlite",
			Version: "test",
		},
		JWTSecret:    "test-secret",
		PasswordHash: passwordHash,
	})

	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(httpServer.Close)
	return httpServer, eng, bus
}

func testHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hash)
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func login(t *testing.T, client *http.Client, baseURL string) string {
	t.Helper()
	var loginResp struct {
		Token string `json:"token"`
	}
	status := doJSONRequest(t, client, http.MethodPost, baseURL+"/api/auth/login", "", map[string]string{
		"password": testPassword,
	}, &loginResp)
	if status != http.StatusOK || loginResp.Token == "" {
		t.Fatalf("login failed status=%d resp=%+v", status, loginResp)
	}
	return loginResp.Token
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, "")
	var resp map[string]string
	if status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/health", "", nil, &resp); status != http.StatusOK {
		t.Fatalf("health status=%d", status)
	}
	if resp["status"] != "ok" {
		t.Fatalf("unexpected body %+v", resp)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, testHash(t))

	var resp errorBody
	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/pairs", "", nil, &resp)
	if status != http.StatusUnauthorized || resp.Code != "MISSING_TOKEN" {
		t.Fatalf("expected 401 MISSING_TOKEN, got %d %+v", status, resp)
	}

	status = doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/pairs", "not-a-jwt", nil, &resp)
	if status != http.StatusUnauthorized || resp.Code != "INVALID_TOKEN" {
		t.Fatalf("expected 401 INVALID_TOKEN, got %d %+v", status, resp)
	}
}

func TestLogin(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, testHash(t))
	client := ts.Client()

	var resp errorBody
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{"password": "wrong"}, &resp)
	if status != http.StatusUnauthorized || resp.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("expected invalid credentials, got %d %+v", status, resp)
	}

	token := login(t, client, ts.URL)
	var pairs []engine.PairInfo
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/pairs", token, nil, &pairs); status != http.StatusOK {
		t.Fatalf("list pairs status=%d", status)
	}
	if len(pairs) != 1 || pairs[0].Pair != "BNB-USDT" {
		t.Fatalf("unexpected pairs %+v", pairs)
	}
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, "")
	var resp errorBody
	status := doJSONRequest(t, ts.Client(), http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{"password": testPassword}, &resp)
	if status != http.StatusServiceUnavailable || resp.Code != "LOGIN_DISABLED" {
		t.Fatalf("expected login disabled, got %d %+v", status, resp)
	}
}

func TestPairStatus(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, testHash(t))
	client := ts.Client()
	token := login(t, client, ts.URL)

	var st struct {
		Pair         string `json:"pair"`
		Running      bool   `json:"running"`
		CurrentPrice string `json:"currentPrice"`
		Position     struct {
			QuantityHeld string `json:"quantityHeld"`
		} `json:"position"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/pairs/bnb-usdt/status", token, nil, &st); status != http.StatusOK {
		t.Fatalf("status=%d", status)
	}
	if st.Pair != "BNB-USDT" || st.CurrentPrice != "312.5" || st.Position.QuantityHeld != "2" {
		t.Fatalf("unexpected status %+v", st)
	}

	var resp errorBody
	status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/pairs/ETH-USDT/status", token, nil, &resp)
	if status != http.StatusNotFound || resp.Code != "UNKNOWN_PAIR" {
		t.Fatalf("expected 404 UNKNOWN_PAIR, got %d %+v", status, resp)
	}
}

func TestStartStop(t *testing.T) {
	ts, eng, _ := newTestAPIServer(t, testHash(t))
	client := ts.Client()
	token := login(t, client, ts.URL)

	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/pairs/BNB-USDT/start", token, nil, nil); status != http.StatusOK {
		t.Fatalf("start status=%d", status)
	}
	var resp errorBody
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/pairs/BNB-USDT/start", token, nil, &resp)
	if status != http.StatusConflict || resp.Code != "ALREADY_RUNNING" {
		t.Fatalf("expected 409 ALREADY_RUNNING, got %d %+v", status, resp)
	}
	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/pairs/BNB-USDT/stop", token, nil, nil); status != http.StatusOK {
		t.Fatalf("stop status=%d", status)
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/pairs/BNB-USDT/stop", token, nil, &resp)
	if status != http.StatusConflict || resp.Code != "ALREADY_STOPPED" {
		t.Fatalf("expected 409 ALREADY_STOPPED, got %d %+v", status, resp)
	}
	if running, _, _ := eng.snapshot(); running {
		t.Fatal("pair should be stopped")
	}
}

func TestUpdateConfig(t *testing.T) {
	ts, eng, _ := newTestAPIServer(t, testHash(t))
	client := ts.Client()
	token := login(t, client, ts.URL)

	doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/pairs/BNB-USDT/start", token, nil, nil)

	var bad errorBody
	status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/pairs/BNB-USDT/config", token, map[string]any{
		"buyClearance": "1.2",
	}, &bad)
	if status != http.StatusBadRequest || bad.Code != "INVALID_CONFIG" {
		t.Fatalf("expected 400 INVALID_CONFIG, got %d %+v", status, bad)
	}
	if running, _, _ := eng.snapshot(); !running {
		t.Fatal("rejected config must not stop the pair")
	}

	var ok struct {
		Config struct {
			SellClearance string `json:"sellClearance"`
		} `json:"config"`
		Running bool `json:"running"`
	}
	status = doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/pairs/BNB-USDT/config", token, map[string]any{
		"sellClearance": "1.05",
	}, &ok)
	if status != http.StatusOK || ok.Config.SellClearance != "1.05" || ok.Running {
		t.Fatalf("unexpected update response %d %+v", status, ok)
	}
	if running, _, _ := eng.snapshot(); running {
		t.Fatal("config change must stop the pair")
	}

	status = doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/pairs/BNB-USDT/config", token, map[string]any{}, &bad)
	if status != http.StatusBadRequest {
		t.Fatalf("empty patch should be rejected, got %d", status)
	}
}

func TestCleanTradesAndOrders(t *testing.T) {
	ts, eng, _ := newTestAPIServer(t, testHash(t))
	client := ts.Client()
	token := login(t, client, ts.URL)

	if status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/pairs/BNB-USDT/clean", token, nil, nil); status != http.StatusOK {
		t.Fatalf("clean status=%d", status)
	}
	if _, calls, _ := eng.snapshot(); calls != 1 {
		t.Fatalf("expected one clean call, got %d", calls)
	}

	var trades []struct {
		ID     string `json:"id"`
		Amount string `json:"amount"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/pairs/BNB-USDT/trades", token, nil, &trades); status != http.StatusOK {
		t.Fatalf("trades status=%d", status)
	}
	if len(trades) != 1 || trades[0].Amount != "2" {
		t.Fatalf("unexpected trades %+v", trades)
	}

	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/pairs/BNB-USDT/orders?limit=10000", token, nil, nil); status != http.StatusOK {
		t.Fatalf("orders status=%d", status)
	}
	if _, _, limit := eng.snapshot(); limit != 100 {
		t.Fatalf("expected clamped limit 100, got %d", limit)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	ts, _, _ := newTestAPIServer(t, "")

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("unexpected /metrics response %d", resp.StatusCode)
	}

	var snap struct {
		TicksProcessed uint64 `json:"ticks_processed"`
	}
	if status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/metrics", "", nil, &snap); status != http.StatusOK {
		t.Fatalf("api metrics status=%d", status)
	}
}

func TestWebsocketStreamsEvents(t *testing.T) {
	ts, _, bus := newTestAPIServer(t, "")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?pair=bnb-usdt"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered right after the upgrade; keep publishing
	// until the first envelope arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				bus.Publish(events.EventNotice, events.Notice{Pair: "ETH-USDT", Message: "other pair"})
				bus.Publish(events.EventNotice, events.Notice{Pair: "BNB-USDT", Message: "Can not SELL, empty BNB balance"})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env struct {
		Type string        `json:"type"`
		Data events.Notice `json:"data"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != string(events.EventNotice) || env.Data.Pair != "BNB-USDT" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestEventPair(t *testing.T) {
	cases := []struct {
		data any
		want string
	}{
		{events.Tick{Pair: "BNB-USDT"}, "BNB-USDT"},
		{events.PositionChange{Pair: "ETH-USDT"}, "ETH-USDT"},
		{db.Order{PairKey: "SOL-USDT"}, "SOL-USDT"},
		{"report", ""},
	}
	for _, tc := range cases {
		if got := eventPair(tc.data); got != tc.want {
			t.Errorf("eventPair(%T) = %q, want %q", tc.data, got, tc.want)
		}
	}
}
