// Package registry persists the hierarchy of owners (externally-owned
// accounts) and the smart-account wallets derived under each of them.
package registry

import (
	"regexp"
	"strings"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// NormalizeOwner returns the identity key for an owner address.
func NormalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}

// SameOwner compares owner addresses case-insensitively.
func SameOwner(a, b string) bool {
	return NormalizeOwner(a) == NormalizeOwner(b)
}

// TxState is the lifecycle of the last send from a wallet.
type TxState string

const (
	TxIdle    TxState = "idle"
	TxPending TxState = "pending"
	TxSuccess TxState = "success"
	TxError   TxState = "error"
)

// TxStatus is mutated only by the send workflow.
type TxStatus struct {
	State    TxState `json:"state"`
	Message  string  `json:"message,omitempty"`
	TxHash   string  `json:"tx_hash,omitempty"`
	FeeQuote string  `json:"fee_quote,omitempty"`
}

// Wallet is one derived smart account.
type Wallet struct {
	Address        string   `json:"address"`
	SequenceNumber uint64   `json:"sequence_number"`
	OwnerTag       uint64   `json:"owner_sequence_tag"` // external account number of the owner
	Index          uint32   `json:"derivation_index"`
	Balance        string   `json:"balance_native"` // wei
	TokenBalance   string   `json:"balance_token"`  // token base units
	Status         TxStatus `json:"status"`
}

// NewWallet returns a wallet with idle status and zero balances.
func NewWallet(address string, sequence, ownerTag uint64, index uint32) Wallet {
	return Wallet{
		Address:        address,
		SequenceNumber: sequence,
		OwnerTag:       ownerTag,
		Index:          index,
		Balance:        "0",
		TokenBalance:   "0",
		Status:         TxStatus{State: TxIdle},
	}
}

// Matches reports whether w is identified by (address, sequence).
func (w Wallet) Matches(address string, sequence uint64) bool {
	return strings.EqualFold(w.Address, address) && w.SequenceNumber == sequence
}

// Account is one owner's bundle of wallets.
type Account struct {
	Owner    string   `json:"owner"`
	Name     string   `json:"display_name"`
	OwnerTag uint64   `json:"owner_sequence_tag"`
	Wallets  []Wallet `json:"wallets"`
}

// Data is the persisted registry document.
type Data struct {
	Accounts    []Account `json:"accounts"`
	ActiveOwner string    `json:"active_owner,omitempty"`
}

// Find returns the position of owner in d.Accounts, or -1.
func (d *Data) Find(owner string) int {
	for i := range d.Accounts {
		if SameOwner(d.Accounts[i].Owner, owner) {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without touching d.
func (d Data) Clone() Data {
	out := Data{ActiveOwner: d.ActiveOwner}
	if d.Accounts != nil {
		out.Accounts = make([]Account, len(d.Accounts))
		for i, acc := range d.Accounts {
			out.Accounts[i] = acc.clone()
		}
	}
	return out
}

func (a Account) clone() Account {
	out := a
	if a.Wallets != nil {
		out.Wallets = make([]Wallet, len(a.Wallets))
		copy(out.Wallets, a.Wallets)
	}
	return out
}
