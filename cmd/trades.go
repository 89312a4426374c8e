package cmd

import (
	"fmt"
	"text/tabwriter"

	"spot-accumulator/internal/engine"
	"spot-accumulator/internal/ledger"

	"github.com/spf13/cobra"
)

func newTradesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trades <pair>",
		Short: "List the closed trades of a pair",
		Args:  cobra.ExactArgs(1),
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

			key := engine.NormalizePair(args[0])
			trades, err := ledger.New(st.ledgers, key).ClosedTrades(ctx)
			if err != nil {
				return err
			}
			if len(trades) == 0 {
				cmd.Printf("no closed trades for %s\n", key)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCLOSED AT\tAMOUNT\tPRICE\tFEE")
			for _, t := range trades {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.ID, t.ClosedAt.Format("2006-01-02 15:04:05"), t.Quantity, t.ExitPrice, t.TotalFee)
			}
			return w.Flush()
		},
	}
}
