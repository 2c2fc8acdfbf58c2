package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/tempwallet/internal/apperr"
	"github.com/yolodolo42/tempwallet/internal/chain"
	"github.com/yolodolo42/tempwallet/internal/registry"
	"github.com/yolodolo42/tempwallet/internal/ui"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage temp wallets of the active account",
	Long: `Temp wallets are smart accounts derived from a signature of the active
owner. Each wallet has a sequence number; the same owner and number always
give the same wallet.`,
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the next temp wallet",
	Args:  cobra.NoArgs,
	RunE:  runWalletCreate,
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List temp wallets with their last known balances",
	Args:  cobra.NoArgs,
	RunE:  runWalletList,
}

var walletRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh balances of all temp wallets",
	Args:  cobra.NoArgs,
	RunE:  runWalletRefresh,
}

var walletSendCmd = &cobra.Command{
	Use:   "send <wallet> <to> <amount>",
	Short: "Send AVAX from a temp wallet",
	Long: `Send transfers amount (in AVAX) from the temp wallet to a recipient as a
sponsored user operation. Use --number when the wallet address appears more
than once.`,
	Args: cobra.ExactArgs(3),
	RunE: runWalletSend,
}

var walletReceiveCmd = &cobra.Command{
	Use:   "receive <wallet>",
	Short: "Show a temp wallet's address as a QR code for funding",
	Args:  cobra.ExactArgs(1),
	RunE:  runWalletReceive,
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletCreateCmd)
	walletCmd.AddCommand(walletListCmd)
	walletCmd.AddCommand(walletRefreshCmd)
	walletCmd.AddCommand(walletSendCmd)
	walletCmd.AddCommand(walletReceiveCmd)

	walletCreateCmd.Flags().Uint64("number", 0, "Recreate the wallet with this sequence number instead of the next one")
	walletSendCmd.Flags().Uint64("number", 0, "Sequence number of the wallet")
	walletSendCmd.Flags().Duration("timeout", 3*time.Minute, "How long to wait for the transaction")
}

func runWalletCreate(cmd *cobra.Command, args []string) error {
	var number *uint64
	if cmd.Flags().Changed("number") {
		n, _ := cmd.Flags().GetUint64("number")
		number = &n
	}

	return withEnv(cmd, func(ctx context.Context, e *env) error {
		w, err := e.svc.CreateWallet(ctx, number)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Wallet #%d created\n", ui.SuccessStyle.Render(ui.SymbolCheck), w.SequenceNumber)
		fmt.Fprintf(out, "Address: %s\n", ui.AddressStyle.Render(w.Address))
		fmt.Fprintf(out, "Balance: %s %s\n", chain.FormatBaseUnits(w.Balance, 18), e.cfg.ChainConfig().NativeCurrency)
		return nil
	})
}

func runWalletList(cmd *cobra.Command, args []string) error {
	return withEnv(cmd, func(ctx context.Context, e *env) error {
		owner, ok := e.store.Active()
		if !ok {
			return apperr.New(apperr.KindWalletNotConnected, "No wallet connected")
		}
		acc, ok := e.store.Account(owner)
		if !ok {
			return apperr.New(apperr.KindWalletNotConnected, "account %s is not registered", owner)
		}

		symbol, decimals, err := e.reader.TokenInfo(ctx)
		if err != nil {
			symbol, decimals = "", 0
		}
		printWallets(cmd.OutOrStdout(), acc, e.cfg.ChainConfig().NativeCurrency, symbol, decimals)
		return nil
	})
}

// printWallets renders acc's wallets. An empty token symbol hides the token
// column.
func printWallets(out io.Writer, acc registry.Account, native, token string, tokenDecimals uint8) {
	fmt.Fprintf(out, "%s #%d %s\n\n", ui.TitleStyle.Render("Account"), acc.OwnerTag, acc.Owner)

	if len(acc.Wallets) == 0 {
		fmt.Fprintln(out, "No wallets yet.")
		fmt.Fprintln(out, "Use 'tempwallet wallet create' to derive one.")
		return
	}

	for _, w := range acc.Wallets {
		line := fmt.Sprintf("#%-4d %s  %s %s", w.SequenceNumber, ui.AddressStyle.Render(w.Address), chain.FormatBaseUnits(w.Balance, 18), native)
		if token != "" {
			line += fmt.Sprintf("  %s %s", chain.FormatBaseUnits(w.TokenBalance, tokenDecimals), token)
		}
		fmt.Fprintf(out, "%s  %s\n", line, ui.Status(string(w.Status.State), w.Status.Message))
	}
}

func runWalletRefresh(cmd *cobra.Command, args []string) error {
	return withEnv(cmd, func(ctx context.Context, e *env) error {
		if err := e.svc.RefreshBalances(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Balances refreshed.")
		return nil
	})
}

func runWalletSend(cmd *cobra.Command, args []string) error {
	address, to, amount := args[0], args[1], args[2]
	timeout, _ := cmd.Flags().GetDuration("timeout")

	return withEnv(cmd, func(ctx context.Context, e *env) error {
		seq, err := resolveSequence(e.store, address, cmd.Flags().Changed("number"), func() uint64 {
			n, _ := cmd.Flags().GetUint64("number")
			return n
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Sending %s %s to %s (fee sponsored)\n", ui.WarningStyle.Render(ui.SymbolPending), amount, e.cfg.ChainConfig().NativeCurrency, to)

		st, err := e.svc.Send(ctx, address, seq, to, amount)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ui.Status(string(st.State), st.Message))
		return nil
	})
}

// resolveSequence finds the sequence number of the active owner's wallet at
// address. Without an explicit number the address must be unambiguous.
func resolveSequence(store *registry.Store, address string, explicit bool, number func() uint64) (uint64, error) {
	if explicit {
		return number(), nil
	}

	owner, ok := store.Active()
	if !ok {
		return 0, apperr.New(apperr.KindWalletNotConnected, "No wallet connected")
	}
	acc, _ := store.Account(owner)

	var matches []uint64
	for _, w := range acc.Wallets {
		if registry.SameOwner(w.Address, address) {
			matches = append(matches, w.SequenceNumber)
		}
	}
	switch len(matches) {
	case 0:
		return 0, apperr.New(apperr.KindInvalidInput, "wallet %s not found", address)
	case 1:
		return matches[0], nil
	default:
		return 0, apperr.New(apperr.KindInvalidInput, "wallet %s appears %d times; pass --number", address, len(matches))
	}
}

func runWalletReceive(cmd *cobra.Command, args []string) error {
	return withEnv(cmd, func(ctx context.Context, e *env) error {
		owner, _ := e.store.Active()
		acc, _ := e.store.Account(owner)
		if !hasWallet(acc, args[0]) {
			return apperr.New(apperr.KindInvalidInput, "wallet %s not found", args[0])
		}
		return printReceive(cmd.OutOrStdout(), args[0], e.cfg.ChainConfig().Name)
	})
}

func hasWallet(acc registry.Account, address string) bool {
	for _, w := range acc.Wallets {
		if registry.SameOwner(w.Address, address) {
			return true
		}
	}
	return false
}

// printReceive renders address as a terminal QR code.
func printReceive(out io.Writer, address, chainName string) error {
	if !registry.IsAddress(address) {
		return apperr.New(apperr.KindInvalidInput, "Invalid address: %s", address)
	}
	addr := common.HexToAddress(address).Hex()

	q, err := qrcode.New(addr, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("failed to encode qr code: %w", err)
	}
	fmt.Fprint(out, q.ToSmallString(false))
	fmt.Fprintf(out, "%s\nSend funds on %s only.\n", ui.AddressStyle.Render(addr), chainName)
	return nil
}
