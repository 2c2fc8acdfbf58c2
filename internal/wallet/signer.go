package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the connected key: it knows its address and produces EIP-191
// personal signatures. Different implementations support different key
// management strategies.
type Signer interface {
	// Address returns the Ethereum address of the signer
	Address() common.Address

	// SignMessage signs an arbitrary message (EIP-191 personal sign)
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// PersonalHash returns the EIP-191 digest of message.
func PersonalHash(message []byte) []byte {
	// EIP-191 prefix prevents signed messages from being replayed as transactions.
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix), message)
}

// RecoverSigner returns the address that produced a 65-byte personal
// signature over message. V may be 0/1 or 27/28.
func RecoverSigner(message, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	pub, err := crypto.SigToPub(PersonalHash(message), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
