package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/yolodolo42/tempwallet/internal/setup"
	"github.com/yolodolo42/tempwallet/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show signer, registry and network status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withEnv(cmd, func(ctx context.Context, e *env) error {
		status := setup.DetectStatus(cfg.DataDir, e.store, cfg.SignerURL)

		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		block, err := e.chains.BlockNumber(ctx, cfg.Chain)

		printStatus(cmd.OutOrStdout(), status, cfg.ChainConfig().Name, block, err)
		return nil
	})
}

func printStatus(out io.Writer, status *setup.Status, chainName string, block uint64, chainErr error) {
	check := func(ok bool) string {
		if ok {
			return ui.SuccessStyle.Render(ui.SymbolCheck)
		}
		return ui.ErrorStyle.Render(ui.SymbolCross)
	}

	switch {
	case status.RemoteSigner:
		fmt.Fprintf(out, "%s Signer: remote wallet\n", check(true))
	case status.HasKeystore:
		fmt.Fprintf(out, "%s Signer: keystore %s\n", check(true), status.KeystoreAddress)
	default:
		fmt.Fprintf(out, "%s Signer: none (run 'tempwallet keystore create')\n", check(false))
	}

	active := status.ActiveOwner
	if active == "" {
		active = "none"
	}
	fmt.Fprintf(out, "%s Registry: %d account(s), %d wallet(s), active %s\n", check(status.Accounts > 0), status.Accounts, status.Wallets, active)

	if chainErr != nil {
		fmt.Fprintf(out, "%s Network: %s unreachable: %v\n", check(false), chainName, chainErr)
		return
	}
	fmt.Fprintf(out, "%s Network: %s at block %d\n", check(true), chainName, block)
}
