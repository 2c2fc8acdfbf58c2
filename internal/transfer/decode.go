package transfer

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
	"github.com/yolodolo42/tempwallet/internal/apperr"
	"github.com/yolodolo42/tempwallet/internal/registry"
)

// object is a JSON object whose keys are matched exactly, unlike struct
// decoding which folds case.
type object map[string]json.RawMessage

func decodeObject(raw json.RawMessage) (object, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var obj object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// Decode parses and validates a document. A bad top-level shape is a
// MalformedDocument; any bad account or wallet rejects the whole document as
// MalformedRecord.
func Decode(data []byte) (Document, error) {
	if !json.Valid(data) {
		return Document{}, apperr.New(apperr.KindMalformedDocument, "invalid file format: not JSON")
	}
	top, ok := decodeObject(data)
	if !ok {
		return Document{}, apperr.New(apperr.KindMalformedDocument, "invalid file format: not an object")
	}
	rawAccounts, ok := array(top["accounts"])
	if !ok {
		return Document{}, apperr.New(apperr.KindMalformedDocument, "invalid file format: missing accounts")
	}

	doc := Document{Accounts: make([]AccountRecord, 0, len(rawAccounts))}
	for _, ra := range rawAccounts {
		acc, err := decodeAccount(ra)
		if err != nil {
			return Document{}, err
		}
		doc.Accounts = append(doc.Accounts, acc)
	}
	return doc, nil
}

func decodeAccount(data json.RawMessage) (AccountRecord, error) {
	malformed := apperr.New(apperr.KindMalformedRecord, "invalid file format: malformed account data")

	ra, ok := decodeObject(data)
	if !ok {
		return AccountRecord{}, malformed
	}
	owner, ok := str(ra["owner"])
	if !ok || !registry.IsAddress(owner) {
		return AccountRecord{}, malformed
	}
	name, ok := str(ra["display_name"])
	if !ok {
		return AccountRecord{}, malformed
	}
	tag, ok := integer(ra["owner_sequence_tag"], math.MaxUint64)
	if !ok {
		return AccountRecord{}, malformed
	}
	rawWallets, ok := array(ra["wallets"])
	if !ok {
		return AccountRecord{}, malformed
	}

	acc := AccountRecord{Owner: owner, Name: name, OwnerTag: tag, Wallets: make([]WalletRecord, 0, len(rawWallets))}
	for _, rw := range rawWallets {
		w, err := decodeWallet(rw)
		if err != nil {
			return AccountRecord{}, err
		}
		acc.Wallets = append(acc.Wallets, w)
	}
	return acc, nil
}

func decodeWallet(data json.RawMessage) (WalletRecord, error) {
	malformed := apperr.New(apperr.KindMalformedRecord, "invalid file format: malformed wallet data")

	rw, ok := decodeObject(data)
	if !ok {
		return WalletRecord{}, malformed
	}
	address, ok := str(rw["address"])
	if !ok || !registry.IsAddress(address) {
		return WalletRecord{}, malformed
	}
	seq, ok := integer(rw["sequence_number"], math.MaxUint64)
	if !ok {
		return WalletRecord{}, malformed
	}
	tag, ok := integer(rw["owner_sequence_tag"], math.MaxUint64)
	if !ok {
		return WalletRecord{}, malformed
	}
	index, ok := integer(rw["derivation_index"], math.MaxUint32)
	if !ok {
		return WalletRecord{}, malformed
	}
	return WalletRecord{Address: address, SequenceNumber: seq, OwnerTag: tag, Index: uint32(index)}, nil
}

// str accepts only a JSON string literal.
func str(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// maxExponent bounds the work done on spellings like 1e999999999.
const maxExponent = 40

// integer accepts a JSON number with a non-negative integral value not above
// max. Spellings such as 1.0, 1e3 and -0 are accepted.
func integer(raw json.RawMessage, max uint64) (uint64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil || d.Exponent() > maxExponent || d.Exponent() < -maxExponent {
		return 0, false
	}
	if !d.IsInteger() || d.IsNegative() {
		return 0, false
	}
	n := d.BigInt()
	if !n.IsUint64() || n.Uint64() > max {
		return 0, false
	}
	return n.Uint64(), true
}

// array accepts only a JSON array literal.
func array(raw json.RawMessage) ([]json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}
