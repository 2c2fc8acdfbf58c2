package smartaccount

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/tempwallet/internal/apperr"
)

var (
	fujiID      = big.NewInt(43113)
	testAccount = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

type keySigner struct{ key *ecdsa.PrivateKey }

func newKeySigner(t *testing.T) *keySigner {
	t.Helper()
	key, err := crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	return &keySigner{key: key}
}

func (s *keySigner) Address() common.Address { return crypto.PubkeyToAddress(s.key.PublicKey) }

func (s *keySigner) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// fakeBackend answers the factory and EntryPoint reads.
type fakeBackend struct {
	code     []byte
	salts    []*big.Int
	callErr  error
	deployed bool
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if b.callErr != nil {
		return nil, b.callErr
	}
	switch {
	case bytes.HasPrefix(msg.Data, contracts.Methods["getAddress"].ID):
		args, err := contracts.Methods["getAddress"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		b.salts = append(b.salts, args[1].(*big.Int))
		return contracts.Methods["getAddress"].Outputs.Pack(testAccount)
	case bytes.HasPrefix(msg.Data, contracts.Methods["getNonce"].ID):
		return contracts.Methods["getNonce"].Outputs.Pack(big.NewInt(7))
	}
	return nil, errors.New("unexpected call")
}

func (b *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	if b.deployed {
		return []byte{0x60}, nil
	}
	return nil, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error)  { return big.NewInt(30e9), nil }
func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

type bundlerService struct {
	mu       sync.Mutex
	sent     []UserOperation
	polls    int
	readyAt  int
	reverted bool
}

func (s *bundlerService) EstimateUserOperationGas(op UserOperation, _ common.Address) (*GasEstimate, error) {
	return &GasEstimate{
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(50000)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(100000)),
		CallGasLimit:         (*hexutil.Big)(big.NewInt(35000)),
	}, nil
}

func (s *bundlerService) SendUserOperation(op UserOperation, _ common.Address) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, op)
	return common.HexToHash("0x0b"), nil
}

func (s *bundlerService) GetUserOperationReceipt(hash common.Hash) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.polls < s.readyAt {
		return nil, nil
	}
	r := &Receipt{UserOpHash: hash, Success: !s.reverted, Reason: "boom"}
	r.Receipt.TransactionHash = common.HexToHash("0x7c")
	return r, nil
}

type paymasterService struct {
	modes  []string
	refuse bool
}

func (s *paymasterService) SponsorUserOperation(op UserOperation, _ common.Address, ctx map[string]string) (*SponsorResult, error) {
	if s.refuse {
		return nil, errors.New("policy rejected")
	}
	s.modes = append(s.modes, ctx["mode"])
	pmd := append(common.HexToAddress("0x00000000000000000000000000000000000000ff").Bytes(), 0xde, 0xad)
	return &SponsorResult{PaymasterAndData: pmd, CallGasLimit: (*hexutil.Big)(big.NewInt(40000))}, nil
}

type harness struct {
	client    *Client
	backend   *fakeBackend
	bundler   *bundlerService
	paymaster *paymasterService
	headers   map[string]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:   &fakeBackend{},
		bundler:   &bundlerService{readyAt: 2},
		paymaster: &paymasterService{},
	}

	bundlerSrv := rpc.NewServer()
	require.NoError(t, bundlerSrv.RegisterName("eth", h.bundler))
	pmSrv := rpc.NewServer()
	require.NoError(t, pmSrv.RegisterName("pm", h.paymaster))
	t.Cleanup(bundlerSrv.Stop)
	t.Cleanup(pmSrv.Stop)

	h.client = &Client{
		dialBackend: func(context.Context, string) (Backend, error) { return h.backend, nil },
		dialRPC: func(_ context.Context, url string, headers map[string]string) (*rpc.Client, error) {
			if url == "paymaster" {
				h.headers = headers
				return rpc.DialInProc(pmSrv), nil
			}
			return rpc.DialInProc(bundlerSrv), nil
		},
		pollInterval: time.Millisecond,
	}
	return h
}

func (h *harness) options(signer Signer) Options {
	return Options{
		Signer:          signer,
		Index:           123456,
		ChainID:         fujiID,
		RPCURL:          "rpc",
		BundlerURL:      "bundler",
		PaymasterURL:    "paymaster",
		PaymasterAPIKey: "key",
	}
}

func TestUserOperation_Hash(t *testing.T) {
	op := &UserOperation{
		Sender:               testAccount,
		Nonce:                big.NewInt(1),
		InitCode:             []byte{0x01},
		CallData:             []byte{0x02},
		CallGasLimit:         big.NewInt(3),
		VerificationGasLimit: big.NewInt(4),
		PreVerificationGas:   big.NewInt(5),
		MaxFeePerGas:         big.NewInt(6),
		MaxPriorityFeePerGas: big.NewInt(7),
		PaymasterAndData:     []byte{0x08},
	}

	t.Run("matches manual word packing", func(t *testing.T) {
		word := func(v int64) []byte { return common.BigToHash(big.NewInt(v)).Bytes() }
		var packed []byte
		packed = append(packed, common.LeftPadBytes(testAccount.Bytes(), 32)...)
		packed = append(packed, word(1)...)
		packed = append(packed, crypto.Keccak256([]byte{0x01})...)
		packed = append(packed, crypto.Keccak256([]byte{0x02})...)
		for _, v := range []int64{3, 4, 5, 6, 7} {
			packed = append(packed, word(v)...)
		}
		packed = append(packed, crypto.Keccak256([]byte{0x08})...)

		var outer []byte
		outer = append(outer, crypto.Keccak256(packed)...)
		outer = append(outer, common.LeftPadBytes(DefaultEntryPoint.Bytes(), 32)...)
		outer = append(outer, word(43113)...)

		got, err := op.Hash(DefaultEntryPoint, fujiID)
		require.NoError(t, err)
		assert.Equal(t, crypto.Keccak256Hash(outer), got)
	})

	t.Run("signature is not covered", func(t *testing.T) {
		a, err := op.Hash(DefaultEntryPoint, fujiID)
		require.NoError(t, err)
		op.Signature = []byte{0xff}
		b, err := op.Hash(DefaultEntryPoint, fujiID)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("chain id is covered", func(t *testing.T) {
		a, err := op.Hash(DefaultEntryPoint, fujiID)
		require.NoError(t, err)
		b, err := op.Hash(DefaultEntryPoint, big.NewInt(1))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestUserOperation_JSON(t *testing.T) {
	op := &UserOperation{Sender: testAccount, Nonce: big.NewInt(255)}
	data, err := op.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"nonce":"0xff"`)
	assert.Contains(t, string(data), `"initCode":"0x"`)
	assert.Contains(t, string(data), `"callGasLimit":"0x0"`)

	var back UserOperation
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, testAccount, back.Sender)
	assert.Equal(t, int64(255), back.Nonce.Int64())
}

func TestClient_Account(t *testing.T) {
	ctx := context.Background()

	t.Run("missing endpoints", func(t *testing.T) {
		h := newHarness(t)
		opts := h.options(newKeySigner(t))
		opts.BundlerURL = ""
		_, err := h.client.Account(ctx, opts)
		assert.ErrorIs(t, err, apperr.ErrMissingConfiguration)
	})

	t.Run("address uses index as salt and is cached", func(t *testing.T) {
		h := newHarness(t)
		acct, err := h.client.Account(ctx, h.options(newKeySigner(t)))
		require.NoError(t, err)

		addr, err := acct.Address(ctx)
		require.NoError(t, err)
		assert.Equal(t, testAccount, addr)

		_, err = acct.Address(ctx)
		require.NoError(t, err)
		require.Len(t, h.backend.salts, 1)
		assert.Equal(t, int64(123456), h.backend.salts[0].Int64())
		assert.Equal(t, map[string]string{"x-api-key": "key"}, h.headers)
	})

	t.Run("address failure is upstream", func(t *testing.T) {
		h := newHarness(t)
		h.backend.callErr = errors.New("node down")
		acct, err := h.client.Account(ctx, h.options(newKeySigner(t)))
		require.NoError(t, err)
		_, err = acct.Address(ctx)
		assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
	})
}

func TestAccount_SendTransaction(t *testing.T) {
	ctx := context.Background()
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")

	t.Run("sponsored send with deployment", func(t *testing.T) {
		h := newHarness(t)
		signer := newKeySigner(t)
		acct, err := h.client.Account(ctx, h.options(signer))
		require.NoError(t, err)

		p, err := acct.SendTransaction(ctx, Call{To: recipient, Value: big.NewInt(1000)}, PaymasterOptions{Mode: ModeSponsored})
		require.NoError(t, err)
		assert.Equal(t, common.HexToHash("0x0b"), p.UserOpHash())

		txHash, err := p.WaitForTxHash(ctx)
		require.NoError(t, err)
		assert.Equal(t, common.HexToHash("0x7c"), txHash)
		assert.Equal(t, 2, h.bundler.polls)

		require.Len(t, h.bundler.sent, 1)
		op := h.bundler.sent[0]
		assert.Equal(t, testAccount, op.Sender)
		assert.Equal(t, int64(7), op.Nonce.Int64())
		assert.Equal(t, DefaultFactory.Bytes(), op.InitCode[:20])
		assert.Equal(t, int64(40000), op.CallGasLimit.Int64(), "paymaster gas overrides estimate")
		assert.Equal(t, int64(100000), op.VerificationGasLimit.Int64())
		assert.Equal(t, []string{"SPONSORED"}, h.paymaster.modes)

		args, err := contracts.Methods["execute"].Inputs.Unpack(op.CallData[4:])
		require.NoError(t, err)
		assert.Equal(t, recipient, args[0])
		assert.Equal(t, int64(1000), args[1].(*big.Int).Int64())

		hash, err := op.Hash(DefaultEntryPoint, fujiID)
		require.NoError(t, err)
		sig := append([]byte(nil), op.Signature...)
		sig[64] -= 27
		pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
		require.NoError(t, err)
		assert.Equal(t, signer.Address(), crypto.PubkeyToAddress(*pub))
	})

	t.Run("deployed account sends no init code", func(t *testing.T) {
		h := newHarness(t)
		h.backend.deployed = true
		acct, err := h.client.Account(ctx, h.options(newKeySigner(t)))
		require.NoError(t, err)

		_, err = acct.SendTransaction(ctx, Call{To: recipient, Value: big.NewInt(1)}, PaymasterOptions{})
		require.NoError(t, err)
		require.Len(t, h.bundler.sent, 1)
		assert.Empty(t, h.bundler.sent[0].InitCode)
	})

	t.Run("paymaster refusal", func(t *testing.T) {
		h := newHarness(t)
		h.paymaster.refuse = true
		acct, err := h.client.Account(ctx, h.options(newKeySigner(t)))
		require.NoError(t, err)

		_, err = acct.SendTransaction(ctx, Call{To: recipient, Value: big.NewInt(1)}, PaymasterOptions{})
		assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
		assert.Empty(t, h.bundler.sent)
	})

	t.Run("reverted operation", func(t *testing.T) {
		h := newHarness(t)
		h.bundler.reverted = true
		h.bundler.readyAt = 0
		acct, err := h.client.Account(ctx, h.options(newKeySigner(t)))
		require.NoError(t, err)

		p, err := acct.SendTransaction(ctx, Call{To: recipient, Value: big.NewInt(1)}, PaymasterOptions{})
		require.NoError(t, err)
		_, err = p.WaitForTxHash(ctx)
		assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
		assert.ErrorContains(t, err, "boom")
	})
}
