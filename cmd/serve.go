package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spot-accumulator/internal/api"
	"spot-accumulator/internal/engine"
	"spot-accumulator/internal/events"
	"spot-accumulator/internal/ledger"
	"spot-accumulator/internal/monitor"
	"spot-accumulator/internal/order"
	"spot-accumulator/internal/reconciliation"
	"spot-accumulator/pkg/config"
	exspot "spot-accumulator/pkg/exchanges/binance/spot"
	exchange "spot-accumulator/pkg/exchanges/common"
	"spot-accumulator/pkg/i18n"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pair engines and the control API",
		RunE:  runServe,
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Printf(i18n.M().ConfigLoadFailed, err)
		return nil, err
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Println(i18n.M().Starting)
	log.Printf(i18n.M().ConfigLoaded, cfg.Port)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()
	log.Printf(i18n.M().UsingStore, st.driver, st.desc)

	// Core services
	bus := events.NewBus()
	prom := monitor.NewCollectors()
	metrics := monitor.NewSystemMetrics(prom)

	gw, paper, venue, err := buildGateway(ctx, cfg)
	if err != nil {
		return err
	}

	executor := order.NewExecutor(gw, st.orders, bus, metrics)
	manager := engine.NewManager(executor)

	var (
		reconPairs []reconciliation.Pair
		pairKeys   []string
		deposited  = map[string]bool{}
	)
	for _, pc := range cfg.Pairs {
		l := ledger.New(st.ledgers, pc.PairKey())
		eng, err := engine.New(pc, engine.Deps{
			Gateway: gw,
			Orders:  executor,
			Ledger:  l,
			Bus:     bus,
			Metrics: metrics,
		})
		if err != nil {
			return fmt.Errorf("pair %s: %w", pc.PairKey(), err)
		}
		if err := manager.Add(engine.NewRunner(eng)); err != nil {
			return err
		}
		if paper != nil {
			paper.AddMarket(pc.Symbol(), pc.Asset, pc.QuoteAsset)
			if !deposited[pc.QuoteAsset] {
				paper.Deposit(pc.QuoteAsset, cfg.DryRunQuoteBalance)
				deposited[pc.QuoteAsset] = true
			}
		}
		// Seed the gauges so a restart shows the stored position right away.
		if pos, err := l.Position(ctx); err == nil {
			prom.ObservePosition(pc.PairKey(), pos.QuantityHeld, pos.AveragePrice)
		}
		reconPairs = append(reconPairs, reconciliation.Pair{Key: pc.PairKey(), Asset: pc.Asset, Ledger: l})
		pairKeys = append(pairKeys, pc.PairKey())
		log.Printf(i18n.M().PairRegistered, pc.PairKey(), pc.TickInterval)
	}

	(&monitor.Monitor{Bus: bus, Sink: monitor.LogSink{}}).Start(ctx)

	// Paper balances reset on every start, so only live balances are reconciled.
	if paper == nil {
		reconciliation.NewService(gw, reconPairs, bus, cfg.ReconcileInterval).Start(ctx)
	}

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		manager.Run(ctx)
	}()
	if cfg.AutoStart {
		if err := manager.StartAll(ctx); err != nil {
			log.Printf("[ENGINE] auto start failed: %v", err)
		}
	}

	// API
	server := api.NewServer(api.Options{
		Engine:  manager,
		Bus:     bus,
		Metrics: metrics,
		Meta: api.SystemMeta{
			DryRun:  cfg.DryRun,
			Venue:   venue,
			Pairs:   pairKeys,
			Store:   st.driver,
			Version: version,
		},
		JWTSecret:    cfg.JWTSecret,
		PasswordHash: cfg.OperatorPasswordHash,
	})
	if cfg.OperatorPasswordHash == "" {
		log.Println("[API] OPERATOR_PASSWORD_HASH is empty; login is disabled (see `spot-accumulator hash-password`)")
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Printf(i18n.M().ServerListening, cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Printf(i18n.M().APIServerError, err)
		stop()
	}

	log.Println(i18n.M().ShuttingDown)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] shutdown: %v", err)
	}
	// Runners finish the tick in flight before returning.
	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		log.Println("[ENGINE] runners did not stop in time")
	}
	return nil
}

// buildGateway returns the exchange gateway for the configured mode. In dry
// run the paper gateway fills orders against Binance public prices.
func buildGateway(ctx context.Context, cfg *config.Config) (exchange.SpotGateway, *order.PaperGateway, string, error) {
	retry := exchange.RetryPolicy{
		Attempts: cfg.GatewayRetries,
		Timeout:  cfg.GatewayTimeout,
		Backoff:  cfg.GatewayRetryBackoff,
	}

	if cfg.DryRun {
		log.Println(i18n.M().DryRunMode)
		prices := exspot.New(exspot.Config{Testnet: cfg.BinanceTestnet, Retry: retry})
		paper := order.NewPaperGateway(prices, order.DryRunSimConfig{
			FeeRate:             cfg.DryRunFeeRate,
			SlippageBps:         cfg.DryRunSlippageBps,
			GatewayLatencyMinMs: cfg.DryRunLatencyMinMs,
			GatewayLatencyMaxMs: cfg.DryRunLatencyMaxMs,
		})
		return paper, paper, "paper", nil
	}

	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		return nil, nil, "", fmt.Errorf("live trading: %w (set BINANCE_API_KEY and BINANCE_API_SECRET, or DRY_RUN=true)", exchange.ErrCredentialsRequired)
	}
	log.Printf(i18n.M().LiveMode, cfg.BinanceTestnet)
	client := exspot.New(exspot.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
		Retry:     retry,
	})
	go client.RunTimeSync(ctx)
	venue := "binance-spot"
	if cfg.BinanceTestnet {
		venue = "binance-spot-testnet"
	}
	return client, nil, venue, nil
}
