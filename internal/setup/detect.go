// Package setup inspects the local data directory to report what is
// configured.
package setup

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/yolodolo42/tempwallet/internal/registry"
	"github.com/yolodolo42/tempwallet/internal/wallet"
	"golang.org/x/term"
)

// Status represents the current local state.
type Status struct {
	HasKeystore     bool
	KeystoreAddress string
	// RemoteSigner is set when signing goes through an external wallet.
	RemoteSigner bool
	Accounts     int
	Wallets      int
	ActiveOwner  string
}

// Ready reports whether a signer is available.
func (s *Status) Ready() bool {
	return s.HasKeystore || s.RemoteSigner
}

// DetectStatus checks the keystore under dataDir and the registry. store
// may be nil.
func DetectStatus(dataDir string, store *registry.Store, signerURL string) *Status {
	status := &Status{RemoteSigner: signerURL != ""}

	keystoreDir := filepath.Join(dataDir, "keystore")
	if entries, err := os.ReadDir(keystoreDir); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
				status.HasKeystore = true
				break
			}
		}
	}

	if status.HasKeystore {
		km, err := wallet.NewKeystoreManager(dataDir)
		if err == nil {
			if accounts := km.ListAccounts(); len(accounts) > 0 {
				status.KeystoreAddress = accounts[0].Address.Hex()
			}
		}
	}

	if store != nil {
		data := store.Snapshot()
		status.Accounts = len(data.Accounts)
		for _, acc := range data.Accounts {
			status.Wallets += len(acc.Wallets)
		}
		status.ActiveOwner = data.ActiveOwner
	}

	return status
}

// IsInteractive returns true if running in a terminal
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
