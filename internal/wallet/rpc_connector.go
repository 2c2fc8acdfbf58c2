package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/yolodolo42/tempwallet/internal/apperr"
)

// codeUnrecognizedChain is the EIP-3326 error for an unknown chain.
const codeUnrecognizedChain = 4902

// RPCConnector talks to an external wallet over JSON-RPC (the methods a
// browser wallet exposes: eth_accounts, personal_sign,
// wallet_switchEthereumChain, wallet_addEthereumChain).
type RPCConnector struct {
	client *rpc.Client
}

// DialRPCConnector connects to the wallet endpoint at url.
func DialRPCConnector(ctx context.Context, url string) (*RPCConnector, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial wallet: %w", err)
	}
	return &RPCConnector{client: client}, nil
}

// NewRPCConnector wraps an existing client.
func NewRPCConnector(client *rpc.Client) *RPCConnector {
	return &RPCConnector{client: client}
}

func (c *RPCConnector) Close() {
	c.client.Close()
}

func (c *RPCConnector) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := c.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (c *RPCConnector) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

func (c *RPCConnector) SwitchChain(ctx context.Context, chainID *big.Int) error {
	params := map[string]string{"chainId": hexutil.EncodeBig(chainID)}
	err := c.client.CallContext(ctx, nil, "wallet_switchEthereumChain", params)

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeUnrecognizedChain {
		return fmt.Errorf("%w: %s", ErrChainNotAdded, rpcErr.Error())
	}
	return err
}

type addChainParams struct {
	ChainID           string   `json:"chainId"`
	ChainName         string   `json:"chainName"`
	NativeCurrency    Currency `json:"nativeCurrency"`
	RPCURLs           []string `json:"rpcUrls"`
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`
}

func (c *RPCConnector) AddChain(ctx context.Context, params ChainParams) error {
	return c.client.CallContext(ctx, nil, "wallet_addEthereumChain", addChainParams{
		ChainID:           hexutil.EncodeBig(params.ChainID),
		ChainName:         params.ChainName,
		NativeCurrency:    params.NativeCurrency,
		RPCURLs:           params.RPCURLs,
		BlockExplorerURLs: params.BlockExplorerURLs,
	})
}

// Signer returns a signer bound to the wallet's first account.
func (c *RPCConnector) Signer(ctx context.Context) (Signer, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrAccountNotFound
	}
	return &rpcSigner{client: c.client, address: accounts[0]}, nil
}

type rpcSigner struct {
	client  *rpc.Client
	address common.Address
}

func (s *rpcSigner) Address() common.Address {
	return s.address
}

// SignMessage asks the wallet for a personal signature and rejects one that
// does not recover to the bound account.
func (s *rpcSigner) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := s.client.CallContext(ctx, &sig, "personal_sign", hexutil.Bytes(message), s.address); err != nil {
		return nil, err
	}
	signer, err := RecoverSigner(message, sig)
	if err != nil {
		return nil, fmt.Errorf("wallet returned an invalid signature: %w", err)
	}
	if signer != s.address {
		return nil, apperr.New(apperr.KindSignerMismatch, "wallet signed with %s, expected %s", signer.Hex(), s.address.Hex())
	}
	return sig, nil
}
