package cmd

import (
	"log"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X spot-accumulator/cmd.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "spot-accumulator",
	Short: "Position-tracking spot accumulation bot",
	Long: `spot-accumulator buys a spot asset in small steps while the price falls
below its average cost and sells the whole position once the price clears the
average by the configured margin.

Without a subcommand it runs the engines and the control API (same as "serve").
Settings come from the environment or a .env file; PAIRS_FILE points to a YAML
file when more than one pair is traded.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	rootCmd.AddCommand(
		newServeCmd(),
		newLedgerCmd(),
		newTradesCmd(),
		newHashPasswordCmd(),
		newSealSecretCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	}
}
