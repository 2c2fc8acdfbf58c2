// Package derive turns a wallet signature and a sequence number into the
// 32-bit index fed to the smart-account factory.
//
// The encoding is abi.encode(bytes signature, uint256 sequence) hashed with
// Keccak-256; the index is the first four digest bytes read big-endian. Any
// change to the packing or the byte offset moves every derived address, so
// this file must stay byte-compatible with a standard contract-ABI encoder.
//
// Derivation is deterministic for a fixed signer only when the signer's
// scheme is deterministic over a fixed message. go-ethereum's crypto.Sign
// uses RFC 6979 nonces, so keystore-backed signers qualify; remote wallets are
// trusted to behave the same way.
package derive

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/yolodolo42/tempwallet/internal/apperr"
)

// CreationMessage is the fixed text every owner signs to seed derivation.
const CreationMessage = "TempWalletCreation"

var indexArgs = abi.Arguments{
	{Type: mustType("bytes")},
	{Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("derive: bad abi type %q: %v", t, err))
	}
	return typ
}

// Encode returns abi.encode(signature, sequence).
func Encode(signature []byte, sequence uint64) ([]byte, error) {
	return indexArgs.Pack(signature, new(big.Int).SetUint64(sequence))
}

// Index computes the derivation index for a signature and sequence number.
func Index(signature []byte, sequence uint64) (uint32, error) {
	packed, err := Encode(signature, sequence)
	if err != nil {
		return 0, fmt.Errorf("failed to encode derivation input: %w", err)
	}
	hash := crypto.Keccak256(packed)
	return binary.BigEndian.Uint32(hash[:4]), nil
}

// MessageSigner signs a personal message with the connected key.
type MessageSigner interface {
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// Deriver signs CreationMessage and derives indices from the signature.
type Deriver struct {
	signer MessageSigner
}

func New(signer MessageSigner) *Deriver {
	return &Deriver{signer: signer}
}

// Signature asks the signer for its signature over CreationMessage.
func (d *Deriver) Signature(ctx context.Context) ([]byte, error) {
	sig, err := d.signer.SignMessage(ctx, []byte(CreationMessage))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err, "message signing failed")
	}
	return sig, nil
}

// Derive signs and derives in one step. Signing failures abort with an
// UpstreamFailure and are not retried.
func (d *Deriver) Derive(ctx context.Context, sequence uint64) (uint32, error) {
	sig, err := d.Signature(ctx)
	if err != nil {
		return 0, err
	}
	return Index(sig, sequence)
}
