package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/tempwallet/internal/ui"
	"github.com/yolodolo42/tempwallet/internal/wallet"
	"golang.org/x/term"
)

const minPasswordLen = 8

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "Manage local owner keys",
	Long: `Create, import, and list the encrypted owner keys used when no remote
signer is configured. The first key (or OWNER_ADDRESS) signs for the
connected account.`,
}

var keystoreCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new owner key",
	RunE:  runKeystoreCreate,
}

var keystoreImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an owner key from private key",
	RunE:  runKeystoreImport,
}

var keystoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all owner keys",
	RunE:  runKeystoreList,
}

func init() {
	rootCmd.AddCommand(keystoreCmd)
	keystoreCmd.AddCommand(keystoreCreateCmd)
	keystoreCmd.AddCommand(keystoreImportCmd)
	keystoreCmd.AddCommand(keystoreListCmd)

	keystoreImportCmd.Flags().String("key", "", "Private key to import (hex, with or without 0x prefix)")
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // newline after password input
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// newPassword asks for a password twice and enforces the minimum length.
func newPassword(prompt string) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < minPasswordLen {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}

	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

func runKeystoreCreate(cmd *cobra.Command, args []string) error {
	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize keystore: %w", err)
	}

	password, err := newPassword("Enter password for new key: ")
	if err != nil {
		return err
	}

	account, err := km.CreateAccount(password)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nKey created successfully!")
	fmt.Fprintf(out, "Address: %s\n", account.Address.Hex())
	fmt.Fprintf(out, "Keystore: %s\n", account.URL.Path)
	fmt.Fprintln(out, "\nIMPORTANT: Back up your keystore file and remember your password!")
	fmt.Fprintln(out, "Temp wallets can only be recovered with this key.")

	return nil
}

func runKeystoreImport(cmd *cobra.Command, args []string) error {
	privateKey, _ := cmd.Flags().GetString("key")

	if privateKey == "" {
		input, err := readPassword("Enter private key (hex): ")
		if err != nil {
			return fmt.Errorf("failed to read private key: %w", err)
		}
		privateKey = strings.TrimSpace(input)
	}

	if privateKey == "" {
		return fmt.Errorf("private key is required")
	}

	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize keystore: %w", err)
	}

	password, err := newPassword("Enter password to encrypt key: ")
	if err != nil {
		return err
	}

	account, err := km.ImportKey(privateKey, password)
	if err != nil {
		return fmt.Errorf("failed to import key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nKey imported successfully!")
	fmt.Fprintf(out, "Address: %s\n", account.Address.Hex())
	fmt.Fprintf(out, "Keystore: %s\n", account.URL.Path)

	return nil
}

func runKeystoreList(cmd *cobra.Command, args []string) error {
	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize keystore: %w", err)
	}
	return printKeys(cmd.OutOrStdout(), km.ListAccounts(), cfg.Owner)
}

func printKeys(out io.Writer, keys []accounts.Account, owner common.Address) error {
	if len(keys) == 0 {
		fmt.Fprintln(out, "No keys found.")
		fmt.Fprintln(out, "Use 'tempwallet keystore create' to create a new key.")
		return nil
	}

	if owner == (common.Address{}) {
		owner = keys[0].Address
	}

	fmt.Fprintf(out, "Found %d key(s):\n\n", len(keys))
	for i, acc := range keys {
		marker := ""
		if acc.Address == owner {
			marker = " " + ui.SelectorDim.Render("(signer)")
		}
		fmt.Fprintf(out, "%d. %s%s\n", i+1, acc.Address.Hex(), marker)
	}

	return nil
}
