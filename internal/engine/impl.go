package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"spot-accumulator/internal/ledger"
	"spot-accumulator/pkg/config"
	"spot-accumulator/pkg/db"
)

var ErrUnknownPair = errors.New("engine: unknown pair")

// Manager implements Service over one Runner per pair.
type Manager struct {
	mu      sync.RWMutex
	runners map[string]*Runner
	order   []string
	history OrderHistory
}

var _ Service = (*Manager)(nil)

// NewManager creates a Manager. history may be nil when no order trail is kept.
func NewManager(history OrderHistory) *Manager {
	return &Manager{
		runners: make(map[string]*Runner),
		history: history,
	}
}

// Add registers a runner. Pairs must be unique.
func (m *Manager) Add(r *Runner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.Pair()
	if _, ok := m.runners[key]; ok {
		return fmt.Errorf("engine: pair %s registered twice", key)
	}
	m.runners[key] = r
	m.order = append(m.order, key)
	return nil
}

// Run drives every runner until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	m.mu.RLock()
	runners := make([]*Runner, 0, len(m.order))
	for _, key := range m.order {
		runners = append(runners, m.runners[key])
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[ENGINE] %s runner exited: %v", r.Pair(), err)
			}
		}(r)
	}
	wg.Wait()
}

// StartAll starts every stopped pair.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, p := range m.ListPairs(ctx) {
		if err := m.Start(ctx, p.Pair); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			return err
		}
	}
	return nil
}

// Runner returns the runner of pair.
func (m *Manager) Runner(pair string) (*Runner, error) {
	key := NormalizePair(pair)
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runners[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return r, nil
}

// --- Queries ---

func (m *Manager) ListPairs(ctx context.Context) []PairInfo {
	m.mu.RLock()
	keys := append([]string(nil), m.order...)
	m.mu.RUnlock()

	out := make([]PairInfo, 0, len(keys))
	for _, key := range keys {
		r, err := m.Runner(key)
		if err != nil {
			continue
		}
		info := PairInfo{Pair: key, Market: strings.Replace(key, "-", "/", 1)}
		if st, err := r.Status(ctx); err == nil {
			info.Running = st.Running
		}
		out = append(out, info)
	}
	return out
}

func (m *Manager) Status(ctx context.Context, pair string) (Status, error) {
	r, err := m.Runner(pair)
	if err != nil {
		return Status{}, err
	}
	return r.Status(ctx)
}

func (m *Manager) Trades(ctx context.Context, pair string) ([]ledger.ClosedTrade, error) {
	r, err := m.Runner(pair)
	if err != nil {
		return nil, err
	}
	return r.Trades(ctx)
}

func (m *Manager) Orders(ctx context.Context, pair string, limit int) ([]db.Order, error) {
	r, err := m.Runner(pair)
	if err != nil {
		return nil, err
	}
	if m.history == nil {
		return []db.Order{}, nil
	}
	return m.history.Orders(ctx, r.Pair(), limit)
}

// --- Commands ---

func (m *Manager) Start(ctx context.Context, pair string) error {
	r, err := m.Runner(pair)
	if err != nil {
		return err
	}
	return r.Start(ctx)
}

func (m *Manager) Stop(ctx context.Context, pair string) error {
	r, err := m.Runner(pair)
	if err != nil {
		return err
	}
	return r.Stop(ctx)
}

func (m *Manager) UpdateConfig(ctx context.Context, pair string, patch config.Patch) (config.TradeConfig, error) {
	r, err := m.Runner(pair)
	if err != nil {
		return config.TradeConfig{}, err
	}
	return r.UpdateConfig(ctx, patch)
}

func (m *Manager) CleanLedger(ctx context.Context, pair string) error {
	r, err := m.Runner(pair)
	if err != nil {
		return err
	}
	return r.CleanLedger(ctx)
}

// NormalizePair accepts "bnb-usdt" and "BNB/USDT" for the key "BNB-USDT".
func NormalizePair(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pair), "/", "-"))
}
