package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/yolodolo42/tempwallet/internal/apperr"
)

// ErrChainNotAdded mirrors EIP-3326 error 4902: the wallet does not know the
// requested chain yet.
var ErrChainNotAdded = errors.New("chain has not been added to the wallet")

// Currency describes a chain's native currency for wallet_addEthereumChain.
type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// ChainParams is the network definition a wallet is asked to add.
type ChainParams struct {
	ChainID           *big.Int
	ChainName         string
	NativeCurrency    Currency
	RPCURLs           []string
	BlockExplorerURLs []string
}

// Connector is the wallet the user is connected through: it exposes the
// selected accounts, the current network and a signer.
type Connector interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	// SwitchChain returns ErrChainNotAdded when the wallet does not know chainID.
	SwitchChain(ctx context.Context, chainID *big.Int) error
	AddChain(ctx context.Context, params ChainParams) error
	Signer(ctx context.Context) (Signer, error)
}

// EnsureNetwork switches conn to params.ChainID, adding the network and
// retrying exactly once if the wallet does not know it, then verifies the
// wallet reports the expected chain.
func EnsureNetwork(ctx context.Context, conn Connector, params ChainParams) error {
	err := conn.SwitchChain(ctx, params.ChainID)
	if errors.Is(err, ErrChainNotAdded) {
		if addErr := conn.AddChain(ctx, params); addErr != nil {
			return apperr.Wrap(apperr.KindWrongNetwork, addErr, fmt.Sprintf("failed to add %s", params.ChainName))
		}
		err = conn.SwitchChain(ctx, params.ChainID)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindWrongNetwork, err, fmt.Sprintf("failed to switch to %s", params.ChainName))
	}

	chainID, err := conn.ChainID(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to read wallet network")
	}
	if chainID == nil || chainID.Cmp(params.ChainID) != 0 {
		return apperr.New(apperr.KindWrongNetwork, "incorrect network: expected chain %s, wallet is on %v", params.ChainID, chainID)
	}
	return nil
}

// ConnectedSigner returns conn's signer after checking that a wallet account
// is connected and, when owner is non-empty, that it is owner.
func ConnectedSigner(ctx context.Context, conn Connector, owner string) (Signer, error) {
	accounts, err := conn.Accounts(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to read wallet accounts")
	}
	if len(accounts) == 0 {
		return nil, apperr.New(apperr.KindWalletNotConnected, "no wallet account connected")
	}

	signer, err := conn.Signer(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to obtain signer")
	}
	if owner != "" && !strings.EqualFold(signer.Address().Hex(), owner) {
		return nil, apperr.New(apperr.KindSignerMismatch, "signer address %s does not match account %s", signer.Address().Hex(), owner)
	}
	return signer, nil
}
