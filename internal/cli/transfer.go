package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/yolodolo42/tempwallet/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export accounts and wallet identities",
	Long: `Export writes every registered account and wallet identity to a JSON
file. Balances and transaction status are not included; wallets are
re-derived from the owner key after import.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an export file",
	Long: `Import merges an export file into the registry. The file must contain
the connected wallet's account, which becomes the active account. Use "-"
to read from standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	exportCmd.Flags().String("out", ".", "Directory to write the export file to")
	exportCmd.Flags().Bool("stdout", false, "Write the document to standard output instead of a file")
}

func runExport(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("out")
	toStdout, _ := cmd.Flags().GetBool("stdout")

	return withEnv(cmd, func(ctx context.Context, e *env) error {
		if toStdout {
			return e.svc.Export(cmd.OutOrStdout())
		}

		path, err := e.svc.ExportFile(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Exported to %s\n", ui.SuccessStyle.Render(ui.SymbolCheck), path)
		return nil
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open import file: %w", err)
		}
		defer f.Close()
		r = f
	}

	return withEnv(cmd, func(ctx context.Context, e *env) error {
		res, err := e.svc.Import(ctx, r)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n", ui.SuccessStyle.Render(ui.SymbolCheck), res.Message)
		fmt.Fprintf(out, "Added %d account(s) and %d wallet(s)\n", res.AddedAccounts, res.AddedWallets)
		fmt.Fprintf(out, "Active account: %s\n", ui.AddressStyle.Render(res.ActiveOwner))
		return nil
	})
}
