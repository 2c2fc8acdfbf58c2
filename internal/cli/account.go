package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/yolodolo42/tempwallet/internal/apperr"
	"github.com/yolodolo42/tempwallet/internal/registry"
	"github.com/yolodolo42/tempwallet/internal/setup"
	"github.com/yolodolo42/tempwallet/internal/ui"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect the owner wallet and make it the active account",
	Long: `Connect registers the wallet's current account on first use, giving it
the next account number, and makes it the active account.`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget all accounts and wallets",
	Long: `Logout clears the registry. Wallet numbers already handed out stay
reserved, so recreating a wallet later never reuses a number.
Run 'tempwallet export' first if you want to restore the wallets.`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage registered owner accounts",
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountList,
}

var accountUseCmd = &cobra.Command{
	Use:   "use [owner]",
	Short: "Switch the active account",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAccountUse,
}

var accountRenameCmd = &cobra.Command{
	Use:   "rename <owner> <name>",
	Short: "Change an account's display name",
	Args:  cobra.ExactArgs(2),
	RunE:  runAccountRename,
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountUseCmd)
	accountCmd.AddCommand(accountRenameCmd)

	connectCmd.Flags().String("name", "", "Display name for a newly registered account")
	logoutCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}

func runConnect(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")

	return withEnv(cmd, func(ctx context.Context, e *env) error {
		if name == "" && !cmd.Flags().Changed("name") && setup.IsInteractive() && !e.connectedRegistered(ctx) {
			answer, err := ui.Ask(os.Stdin, cmd.OutOrStdout(), "Account name (optional)", "e.g. main")
			if err != nil && !errors.Is(err, ui.ErrCancelled) {
				return err
			}
			name = answer
		}

		acc, err := e.svc.Connect(ctx, name)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Connected %s\n", ui.SuccessStyle.Render(ui.SymbolCheck), ui.AddressStyle.Render(acc.Owner))
		fmt.Fprintf(out, "Account #%d %s\n", acc.OwnerTag, acc.Name)
		fmt.Fprintf(out, "%d wallet(s)\n", len(acc.Wallets))
		return nil
	})
}

// connectedRegistered reports whether the wallet's current account is already
// in the registry.
func (e *env) connectedRegistered(ctx context.Context) bool {
	accounts, err := e.conn.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		return true
	}
	_, ok := e.store.Account(registry.NormalizeOwner(accounts[0].Hex()))
	return ok
}

func runLogout(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")

	return withEnv(cmd, func(ctx context.Context, e *env) error {
		if !yes && setup.IsInteractive() {
			answer, err := ui.Ask(os.Stdin, cmd.OutOrStdout(), "Type 'logout' to clear all accounts and wallets", "")
			if err != nil || answer != "logout" {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		if err := e.svc.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	})
}

func runAccountList(cmd *cobra.Command, args []string) error {
	return withEnv(cmd, func(ctx context.Context, e *env) error {
		printAccounts(cmd.OutOrStdout(), e.store.Snapshot())
		return nil
	})
}

func printAccounts(out io.Writer, data registry.Data) {
	if len(data.Accounts) == 0 {
		fmt.Fprintln(out, "No accounts registered.")
		fmt.Fprintln(out, "Use 'tempwallet connect' to register the connected wallet.")
		return
	}

	for _, acc := range data.Accounts {
		marker := ui.SymbolEmpty
		if registry.SameOwner(acc.Owner, data.ActiveOwner) {
			marker = ui.SuccessStyle.Render(ui.SymbolBullet)
		}
		name := acc.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(out, "%s #%-3d %s  %-16s %d wallet(s)\n", marker, acc.OwnerTag, ui.AddressStyle.Render(acc.Owner), name, len(acc.Wallets))
	}
}

func runAccountUse(cmd *cobra.Command, args []string) error {
	return withEnv(cmd, func(ctx context.Context, e *env) error {
		var owner string
		if len(args) == 1 {
			owner = args[0]
		} else {
			if !setup.IsInteractive() {
				return fmt.Errorf("owner address required")
			}
			picked, err := ui.Select(os.Stdin, cmd.OutOrStdout(), "Select account", accountItems(e.store.Snapshot()))
			if errors.Is(err, ui.ErrCancelled) {
				return nil
			}
			if err != nil {
				return err
			}
			owner = picked
		}

		if err := e.svc.SwitchActive(owner); err != nil {
			return err
		}
		if _, ok := e.store.Account(registry.NormalizeOwner(owner)); !ok {
			fmt.Fprintln(cmd.OutOrStdout(), ui.WarningStyle.Render("Account is not registered; connect it to create wallets."))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Active account: %s\n", ui.AddressStyle.Render(registry.NormalizeOwner(owner)))
		return nil
	})
}

func accountItems(data registry.Data) []ui.SelectorItem {
	items := make([]ui.SelectorItem, 0, len(data.Accounts))
	for _, acc := range data.Accounts {
		items = append(items, ui.SelectorItem{
			ID:          acc.Owner,
			Label:       fmt.Sprintf("#%d %s", acc.OwnerTag, acc.Owner),
			Description: acc.Name,
			Current:     registry.SameOwner(acc.Owner, data.ActiveOwner),
		})
	}
	return items
}

func runAccountRename(cmd *cobra.Command, args []string) error {
	owner, name := args[0], args[1]
	if !registry.IsAddress(owner) {
		return apperr.New(apperr.KindInvalidInput, "invalid account address: %s", owner)
	}

	return withEnv(cmd, func(ctx context.Context, e *env) error {
		if err := e.store.Rename(registry.NormalizeOwner(owner), name); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", registry.NormalizeOwner(owner), name)
		return nil
	})
}
