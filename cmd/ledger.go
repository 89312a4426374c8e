package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"spot-accumulator/internal/engine"
	"spot-accumulator/internal/ledger"
	"spot-accumulator/internal/policy"
	"spot-accumulator/pkg/config"

	"github.com/spf13/cobra"
)

type ledgerView struct {
	Pair     string           `json:"pair"`
	Position ledger.Position  `json:"position"`
	Triggers *policy.Triggers `json:"triggers,omitempty"`
	Trades   int              `json:"closedTrades"`
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or reset stored ledgers",
	}
	cmd.AddCommand(newLedgerShowCmd(), newLedgerResetCmd())
	return cmd
}

func newLedgerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [pair]",
		Short: "Print the stored position of every pair, or of one pair",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			configured := make(map[string]config.TradeConfig, len(cfg.Pairs))
			for _, pc := range cfg.Pairs {
				configured[pc.PairKey()] = pc
			}

			var keys []string
			if len(args) == 1 {
				keys = []string{engine.NormalizePair(args[0])}
			} else {
				stored, err := st.keys(ctx)
				if err != nil {
					return err
				}
				seen := map[string]bool{}
				for _, k := range stored {
					seen[k] = true
				}
				for k := range configured {
					seen[k] = true
				}
				for k := range seen {
					keys = append(keys, k)
				}
				sort.Strings(keys)
			}

			views := make([]ledgerView, 0, len(keys))
			for _, key := range keys {
				l := ledger.New(st.ledgers, key)
				pos, err := l.Position(ctx)
				if err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
				trades, err := l.ClosedTrades(ctx)
				if err != nil {
					return fmt.Errorf("%s: %w", key, err)
				}
				v := ledgerView{Pair: key, Position: pos, Trades: len(trades)}
				// Triggers depend on clearances, known only for configured pairs.
				if pc, ok := configured[key]; ok {
					tr := policy.Evaluate(pos, pc)
					v.Triggers = &tr
				}
				views = append(views, v)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(views)
		},
	}
}

func newLedgerResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset <pair>",
		Short: "Empty the open position of a pair without recording a trade",
		Long: `Empty the open position of a pair without recording a trade. Closed trades
are kept. Stop the running service first: the engine does not notice changes
made behind its back until its next tick.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			key := engine.NormalizePair(args[0])
			if err := ledger.New(st.ledgers, key).Reset(ctx); err != nil {
				return err
			}
			cmd.Printf("ledger %s reset\n", key)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
