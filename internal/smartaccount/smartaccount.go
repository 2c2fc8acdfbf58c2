// Package smartaccount is a minimal ERC-4337 (EntryPoint v0.6) client for
// SimpleAccount-style counterfactual accounts: it resolves the account
// address for an owner and index, and submits paymaster-sponsored calls
// through a bundler.
package smartaccount

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/yolodolo42/tempwallet/internal/apperr"
)

// Default v0.6 deployments, identical on every chain.
var (
	DefaultEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	DefaultFactory    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
)

// Signer signs user operation hashes with EIP-191 personal sign.
type Signer interface {
	Address() common.Address
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}

// Options selects one smart account. Address derivation depends only on
// Signer, Index, FactoryAddress and the chain behind RPCURL.
type Options struct {
	Signer          Signer
	Index           uint32
	ChainID         *big.Int
	RPCURL          string
	BundlerURL      string
	PaymasterURL    string
	PaymasterAPIKey string
	EntryPoint      common.Address
	FactoryAddress  common.Address
}

// Call is a single call executed by the smart account.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// PaymasterMode selects how gas is paid.
type PaymasterMode string

const ModeSponsored PaymasterMode = "SPONSORED"

// PaymasterOptions is forwarded to the paymaster service.
type PaymasterOptions struct {
	Mode PaymasterMode
}

// Factory builds Account handles.
type Factory interface {
	Account(ctx context.Context, opts Options) (Account, error)
}

// Account is one counterfactual smart account.
type Account interface {
	Address(ctx context.Context) (common.Address, error)
	SendTransaction(ctx context.Context, call Call, pm PaymasterOptions) (Pending, error)
}

// Pending is a submitted user operation.
type Pending interface {
	UserOpHash() common.Hash
	// WaitForTxHash blocks until the bundler reports the operation included.
	WaitForTxHash(ctx context.Context) (common.Hash, error)
}

// Backend is the chain access the client needs. *ethclient.Client
// satisfies it.
type Backend interface {
	ethereum.ContractCaller
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Client implements Factory over a JSON-RPC node, a bundler and a
// paymaster service.
type Client struct {
	dialBackend  func(ctx context.Context, url string) (Backend, error)
	dialRPC      func(ctx context.Context, url string, headers map[string]string) (*rpc.Client, error)
	pollInterval time.Duration
}

// NewClient returns a Factory that dials its endpoints on demand.
func NewClient() *Client {
	return &Client{
		dialBackend: func(ctx context.Context, url string) (Backend, error) {
			return ethclient.DialContext(ctx, url)
		},
		dialRPC: func(ctx context.Context, url string, headers map[string]string) (*rpc.Client, error) {
			opts := make([]rpc.ClientOption, 0, len(headers))
			for k, v := range headers {
				opts = append(opts, rpc.WithHeader(k, v))
			}
			return rpc.DialOptions(ctx, url, opts...)
		},
		pollInterval: 2 * time.Second,
	}
}

// Account validates opts and dials the node, bundler and paymaster.
func (c *Client) Account(ctx context.Context, opts Options) (Account, error) {
	if opts.RPCURL == "" || opts.BundlerURL == "" || opts.PaymasterURL == "" {
		return nil, apperr.New(apperr.KindMissingConfiguration,
			"missing configuration: RPC_URL, BUNDLER_URL and PAYMASTER_URL must be set")
	}
	if opts.Signer == nil {
		return nil, apperr.New(apperr.KindWalletNotConnected, "no signer")
	}
	if opts.ChainID == nil {
		return nil, apperr.New(apperr.KindMissingConfiguration, "missing chain id")
	}
	if opts.EntryPoint == (common.Address{}) {
		opts.EntryPoint = DefaultEntryPoint
	}
	if opts.FactoryAddress == (common.Address{}) {
		opts.FactoryAddress = DefaultFactory
	}

	backend, err := c.dialBackend(ctx, opts.RPCURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to dial RPC")
	}
	bundler, err := c.dialRPC(ctx, opts.BundlerURL, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to dial bundler")
	}
	var headers map[string]string
	if opts.PaymasterAPIKey != "" {
		headers = map[string]string{"x-api-key": opts.PaymasterAPIKey}
	}
	paymaster, err := c.dialRPC(ctx, opts.PaymasterURL, headers)
	if err != nil {
		bundler.Close()
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to dial paymaster")
	}

	return &account{
		opts:         opts,
		backend:      backend,
		bundler:      bundler,
		paymaster:    paymaster,
		pollInterval: c.pollInterval,
	}, nil
}

type account struct {
	opts         Options
	backend      Backend
	bundler      *rpc.Client
	paymaster    *rpc.Client
	pollInterval time.Duration

	address common.Address
}

// Close releases the bundler and paymaster connections.
func (a *account) Close() {
	a.bundler.Close()
	a.paymaster.Close()
}

func (a *account) salt() *big.Int {
	return new(big.Int).SetUint64(uint64(a.opts.Index))
}

// Address asks the factory for the counterfactual address of (owner, index).
func (a *account) Address(ctx context.Context) (common.Address, error) {
	if a.address != (common.Address{}) {
		return a.address, nil
	}

	data, err := contracts.Pack("getAddress", a.opts.Signer.Address(), a.salt())
	if err != nil {
		return common.Address{}, err
	}
	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &a.opts.FactoryAddress, Data: data}, nil)
	if err != nil {
		return common.Address{}, apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to resolve account address")
	}
	values, err := contracts.Unpack("getAddress", out)
	if err != nil || len(values) != 1 {
		return common.Address{}, apperr.New(apperr.KindUpstreamFailure, "unexpected getAddress result")
	}
	addr, ok := values[0].(common.Address)
	if !ok || addr == (common.Address{}) {
		return common.Address{}, apperr.New(apperr.KindUpstreamFailure, "factory returned no address")
	}

	a.address = addr
	return addr, nil
}

// initCode is empty once the account is deployed.
func (a *account) initCode(ctx context.Context, sender common.Address) ([]byte, error) {
	code, err := a.backend.CodeAt(ctx, sender, nil)
	if err != nil {
		return nil, err
	}
	if len(code) > 0 {
		return nil, nil
	}
	data, err := contracts.Pack("createAccount", a.opts.Signer.Address(), a.salt())
	if err != nil {
		return nil, err
	}
	return append(a.opts.FactoryAddress.Bytes(), data...), nil
}

func (a *account) nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	data, err := contracts.Pack("getNonce", sender, new(big.Int))
	if err != nil {
		return nil, err
	}
	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &a.opts.EntryPoint, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := contracts.Unpack("getNonce", out)
	if err != nil {
		return nil, err
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce result")
	}
	return n, nil
}

// dummySignature lets the bundler simulate validation before the real
// signature exists.
var dummySignature = common.FromHex("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// SendTransaction builds a user operation for call, has the paymaster
// sponsor it, signs it and hands it to the bundler.
func (a *account) SendTransaction(ctx context.Context, call Call, pm PaymasterOptions) (Pending, error) {
	op, err := a.buildUserOp(ctx, call)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to build user operation")
	}

	if err := a.sponsor(ctx, op, pm); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err, "paymaster refused to sponsor")
	}

	hash, err := op.Hash(a.opts.EntryPoint, a.opts.ChainID)
	if err != nil {
		return nil, err
	}
	sig, err := a.opts.Signer.SignMessage(ctx, hash.Bytes())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to sign user operation")
	}
	op.Signature = sig

	var opHash common.Hash
	if err := a.bundler.CallContext(ctx, &opHash, "eth_sendUserOperation", op, a.opts.EntryPoint); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, err, "bundler rejected user operation")
	}

	return &pending{hash: opHash, bundler: a.bundler, interval: a.pollInterval}, nil
}

func (a *account) buildUserOp(ctx context.Context, call Call) (*UserOperation, error) {
	sender, err := a.Address(ctx)
	if err != nil {
		return nil, err
	}
	initCode, err := a.initCode(ctx, sender)
	if err != nil {
		return nil, err
	}
	nonce, err := a.nonce(ctx, sender)
	if err != nil {
		return nil, err
	}
	callData, err := contracts.Pack("execute", call.To, safeBig(call.Value), nonNil(call.Data))
	if err != nil {
		return nil, err
	}
	tip, err := a.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	price, err := a.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	op := &UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		MaxFeePerGas:         price,
		MaxPriorityFeePerGas: tip,
		Signature:            dummySignature,
	}

	var est GasEstimate
	if err := a.bundler.CallContext(ctx, &est, "eth_estimateUserOperationGas", op, a.opts.EntryPoint); err != nil {
		return nil, fmt.Errorf("gas estimation failed: %w", err)
	}
	op.CallGasLimit = est.CallGasLimit.ToInt()
	op.VerificationGasLimit = est.VerificationGasLimit.ToInt()
	op.PreVerificationGas = est.PreVerificationGas.ToInt()
	return op, nil
}

func (a *account) sponsor(ctx context.Context, op *UserOperation, pm PaymasterOptions) error {
	mode := pm.Mode
	if mode == "" {
		mode = ModeSponsored
	}
	var res SponsorResult
	err := a.paymaster.CallContext(ctx, &res, "pm_sponsorUserOperation", op, a.opts.EntryPoint,
		map[string]string{"mode": string(mode)})
	if err != nil {
		return err
	}
	if len(res.PaymasterAndData) < common.AddressLength {
		return fmt.Errorf("empty paymasterAndData")
	}
	op.PaymasterAndData = res.PaymasterAndData
	if res.CallGasLimit != nil {
		op.CallGasLimit = res.CallGasLimit.ToInt()
	}
	if res.VerificationGasLimit != nil {
		op.VerificationGasLimit = res.VerificationGasLimit.ToInt()
	}
	if res.PreVerificationGas != nil {
		op.PreVerificationGas = res.PreVerificationGas.ToInt()
	}
	return nil
}

type pending struct {
	hash     common.Hash
	bundler  *rpc.Client
	interval time.Duration
}

func (p *pending) UserOpHash() common.Hash {
	return p.hash
}

func (p *pending) WaitForTxHash(ctx context.Context) (common.Hash, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		var receipt *Receipt
		if err := p.bundler.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", p.hash); err != nil {
			return common.Hash{}, apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to fetch user operation receipt")
		}
		if receipt != nil {
			if !receipt.Success {
				return receipt.Receipt.TransactionHash, apperr.New(apperr.KindUpstreamFailure, "user operation reverted: %s", receipt.Reason)
			}
			return receipt.Receipt.TransactionHash, nil
		}

		select {
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
