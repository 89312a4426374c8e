package cmd

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"spot-accumulator/pkg/secrets"

	"github.com/spf13/cobra"
)

func newSealSecretCmd() *cobra.Command {
	var genKey bool
	cmd := &cobra.Command{
		Use:   "seal-secret [value]",
		Short: "Seal a credential with SECRETS_KEY for use in .env",
		Long: `Seal a credential with SECRETS_KEY (base64, 32 bytes). The output can replace
BINANCE_API_KEY, BINANCE_API_SECRET or JWT_SECRET; it is opened at startup with
the same key. Without an argument the value is read from the first line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if genKey {
				key, err := secrets.GenerateKey()
				if err != nil {
					return err
				}
				cmd.Println(key)
				return nil
			}
			key := os.Getenv("SECRETS_KEY")
			if key == "" {
				return errors.New("SECRETS_KEY is not set (create one with --generate-key)")
			}
			s, err := secrets.NewSealer(key)
			if err != nil {
				return err
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no value given")
				}
				value = strings.TrimRight(line, "\r\n")
			}
			sealed, err := s.Seal(value)
			if err != nil {
				return err
			}
			cmd.Println(sealed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&genKey, "generate-key", false, "print a new SECRETS_KEY instead")
	return cmd
}
