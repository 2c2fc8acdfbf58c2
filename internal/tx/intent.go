// Package tx validates transfers requested from a temp wallet before they are
// handed to the smart-account client.
package tx

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/yolodolo42/tempwallet/internal/apperr"
	"github.com/yolodolo42/tempwallet/internal/chain"
)

// nativeDecimals is the precision of AVAX.
const nativeDecimals = 18

// Intent captures a native transfer the user wants to perform.
type Intent struct {
	From     common.Address // smart account
	To       common.Address // recipient
	Amount   string         // as typed, in AVAX
	ValueWei *big.Int
}

// Policy enforces safety constraints before sending.
type Policy struct {
	MaxPerTxWei *big.Int
	DenyTo      []common.Address
}

// NewIntent parses the recipient and amount typed by the user.
func NewIntent(from common.Address, to, amount string) (Intent, error) {
	to = strings.TrimSpace(to)
	if !common.IsHexAddress(to) {
		return Intent{}, apperr.New(apperr.KindInvalidInput, "Invalid recipient address")
	}

	value, err := chain.ParseUnits(amount, nativeDecimals)
	if err != nil {
		return Intent{}, apperr.Wrap(apperr.KindInvalidInput, err, "Invalid amount")
	}

	return Intent{
		From:     from,
		To:       common.HexToAddress(to),
		Amount:   strings.TrimSpace(amount),
		ValueWei: value,
	}, nil
}

// Validate applies the deny list and spend limit.
func Validate(intent Intent, policy Policy) error {
	if intent.ValueWei == nil {
		return apperr.New(apperr.KindInvalidInput, "value missing")
	}

	for _, a := range policy.DenyTo {
		if a == intent.To {
			return apperr.New(apperr.KindInvalidInput, "destination denied by policy")
		}
	}
	if policy.MaxPerTxWei != nil && intent.ValueWei.Cmp(policy.MaxPerTxWei) > 0 {
		return apperr.New(apperr.KindInvalidInput, "value exceeds max per tx limit")
	}
	return nil
}

// CheckBalance rejects intents the sender cannot cover. Gas is sponsored so
// only the value counts.
func CheckBalance(intent Intent, balance *big.Int) error {
	if balance == nil || balance.Cmp(intent.ValueWei) < 0 {
		return apperr.New(apperr.KindInvalidInput, "Insufficient balance in smart account")
	}
	return nil
}

// Describe renders the intent for confirmation prompts.
func (i Intent) Describe() string {
	return fmt.Sprintf("send %s AVAX from %s to %s", i.Amount, i.From.Hex(), i.To.Hex())
}
