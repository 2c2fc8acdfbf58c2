// Package transfer exports the registry to a portable JSON document and
// merges such documents back into it.
package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/yolodolo42/tempwallet/internal/registry"
)

// Document is the sanitized export: identity fields only, no balances and no
// transaction status.
type Document struct {
	Accounts    []AccountRecord `json:"accounts"`
	ActiveOwner *string         `json:"active_owner"`
}

type AccountRecord struct {
	Owner    string         `json:"owner"`
	Name     string         `json:"display_name"`
	OwnerTag uint64         `json:"owner_sequence_tag"`
	Wallets  []WalletRecord `json:"wallets"`
}

type WalletRecord struct {
	Address        string `json:"address"`
	SequenceNumber uint64 `json:"sequence_number"`
	OwnerTag       uint64 `json:"owner_sequence_tag"`
	Index          uint32 `json:"derivation_index"`
}

// Export builds a Document from the registry.
func Export(data registry.Data) Document {
	doc := Document{Accounts: make([]AccountRecord, 0, len(data.Accounts))}
	if data.ActiveOwner != "" {
		active := data.ActiveOwner
		doc.ActiveOwner = &active
	}

	for _, acc := range data.Accounts {
		rec := AccountRecord{
			Owner:    acc.Owner,
			Name:     acc.Name,
			OwnerTag: acc.OwnerTag,
			Wallets:  make([]WalletRecord, 0, len(acc.Wallets)),
		}
		for _, w := range acc.Wallets {
			rec.Wallets = append(rec.Wallets, WalletRecord{
				Address:        w.Address,
				SequenceNumber: w.SequenceNumber,
				OwnerTag:       w.OwnerTag,
				Index:          w.Index,
			})
		}
		doc.Accounts = append(doc.Accounts, rec)
	}
	return doc
}

// Encode writes doc as indented JSON.
func Encode(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

// FileName is the suggested name for an export taken at t.
func FileName(t time.Time) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return "temp_wallet_export_" + ts + ".json"
}
