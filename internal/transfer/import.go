package transfer

import (
	"context"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/yolodolo42/tempwallet/internal/apperr"
	"github.com/yolodolo42/tempwallet/internal/registry"
)

// MaxDocumentSize is the hard cap on an import document (1 MiB).
const MaxDocumentSize = 1 << 20

// AccountSource reports the addresses of the currently connected wallet.
type AccountSource interface {
	Accounts(ctx context.Context) ([]common.Address, error)
}

// Result describes a successful import.
type Result struct {
	Message       string
	ActiveOwner   string
	AddedAccounts int
	AddedWallets  int
}

// Import validates the document read from r and merges it into store. The
// document must contain the connected address; on any failure the registry is
// left untouched.
func Import(ctx context.Context, r io.Reader, store *registry.Store, src AccountSource) (Result, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read import: %w", err)
	}
	if len(data) > MaxDocumentSize {
		return Result{}, apperr.New(apperr.KindPayloadTooLarge, "file too large (max 1MB)")
	}

	doc, err := Decode(data)
	if err != nil {
		return Result{}, err
	}

	connected, err := connectedAddress(ctx, src)
	if err != nil {
		return Result{}, err
	}

	if !containsOwner(doc, connected) {
		return Result{}, apperr.New(apperr.KindNoMatchingAccount, "no matching connected account in imported data")
	}

	var res Result
	err = store.Update(func(d *registry.Data) error {
		merged, accounts, wallets := merge(*d, doc, connected)
		*d = merged
		res.AddedAccounts, res.AddedWallets = accounts, wallets
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	res.Message = "Wallets imported successfully"
	res.ActiveOwner = connected
	return res, nil
}

func connectedAddress(ctx context.Context, src AccountSource) (string, error) {
	accounts, err := src.Accounts(ctx)
	if err != nil {
		return "", apperr.Wrap(apperr.KindNoWalletConnected, err, "no wallet account connected")
	}
	if len(accounts) == 0 {
		return "", apperr.New(apperr.KindNoWalletConnected, "no wallet account connected")
	}
	return registry.NormalizeOwner(accounts[0].Hex()), nil
}

func containsOwner(doc Document, owner string) bool {
	for _, acc := range doc.Accounts {
		if registry.SameOwner(acc.Owner, owner) {
			return true
		}
	}
	return false
}

// Merge folds doc into existing and makes connected the active owner.
// existing is not modified.
func Merge(existing registry.Data, doc Document, connected string) registry.Data {
	merged, _, _ := merge(existing, doc, connected)
	return merged
}

func merge(existing registry.Data, doc Document, connected string) (registry.Data, int, int) {
	out := existing.Clone()
	if out.Accounts == nil {
		out.Accounts = []registry.Account{}
	}
	var addedAccounts, addedWallets int

	for _, imported := range doc.Accounts {
		i := out.Find(imported.Owner)
		if i < 0 {
			acc := registry.Account{
				Owner:    imported.Owner,
				Name:     imported.Name,
				OwnerTag: imported.OwnerTag,
				Wallets:  make([]registry.Wallet, 0, len(imported.Wallets)),
			}
			for _, w := range imported.Wallets {
				acc.Wallets = append(acc.Wallets, freshWallet(w))
			}
			out.Accounts = append(out.Accounts, acc)
			addedAccounts++
			addedWallets += len(acc.Wallets)
			continue
		}

		acc := &out.Accounts[i]
		acc.Name = imported.Name
		acc.OwnerTag = imported.OwnerTag
		for _, w := range imported.Wallets {
			if hasWallet(acc.Wallets, w) {
				continue
			}
			acc.Wallets = append(acc.Wallets, freshWallet(w))
			addedWallets++
		}
	}

	out.ActiveOwner = connected
	return out, addedAccounts, addedWallets
}

func hasWallet(wallets []registry.Wallet, w WalletRecord) bool {
	for _, existing := range wallets {
		if existing.Matches(w.Address, w.SequenceNumber) {
			return true
		}
	}
	return false
}

func freshWallet(w WalletRecord) registry.Wallet {
	return registry.NewWallet(w.Address, w.SequenceNumber, w.OwnerTag, w.Index)
}
