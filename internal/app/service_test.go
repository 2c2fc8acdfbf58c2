package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/tempwallet/internal/apperr"
	"github.com/yolodolo42/tempwallet/internal/chain"
	"github.com/yolodolo42/tempwallet/internal/derive"
	"github.com/yolodolo42/tempwallet/internal/registry"
	"github.com/yolodolo42/tempwallet/internal/smartaccount"
	"github.com/yolodolo42/tempwallet/internal/storage"
	"github.com/yolodolo42/tempwallet/internal/testutil"
	"github.com/yolodolo42/tempwallet/internal/wallet"
)

var scenarioOwner = common.HexToAddress("0xABCD000000000000000000000000000000001234")

type fakeSigner struct {
	addr  common.Address
	err   error
	calls int
}

func (s *fakeSigner) Address() common.Address { return s.addr }

// SignMessage is deterministic per (address, message).
func (s *fakeSigner) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	sig := crypto.Keccak256(s.addr.Bytes(), msg)
	sig = append(sig, crypto.Keccak256(sig)...)
	return append(sig, 27), nil
}

type fakeConnector struct {
	accounts []common.Address
	signer   *fakeSigner
	chainID  *big.Int
	known    map[string]bool
	added    int
}

func newFakeConnector(owner common.Address) *fakeConnector {
	return &fakeConnector{
		accounts: []common.Address{owner},
		signer:   &fakeSigner{addr: owner},
		chainID:  big.NewInt(1),
		known:    map[string]bool{"1": true},
	}
}

func (c *fakeConnector) Accounts(context.Context) ([]common.Address, error) { return c.accounts, nil }
func (c *fakeConnector) ChainID(context.Context) (*big.Int, error)          { return c.chainID, nil }

func (c *fakeConnector) SwitchChain(_ context.Context, id *big.Int) error {
	if !c.known[id.String()] {
		return wallet.ErrChainNotAdded
	}
	c.chainID = id
	return nil
}

func (c *fakeConnector) AddChain(_ context.Context, p wallet.ChainParams) error {
	c.added++
	c.known[p.ChainID.String()] = true
	return nil
}

func (c *fakeConnector) Signer(context.Context) (wallet.Signer, error) { return c.signer, nil }

type fakeFactory struct {
	opts    []smartaccount.Options
	calls   []smartaccount.Call
	sendErr error
	txHash  common.Hash
}

func (f *fakeFactory) Account(_ context.Context, opts smartaccount.Options) (smartaccount.Account, error) {
	f.opts = append(f.opts, opts)
	return &fakeAccount{f: f, opts: opts}, nil
}

type fakeAccount struct {
	f    *fakeFactory
	opts smartaccount.Options
}

// Address is a pure function of (owner, index), like a CREATE2 factory.
func (a *fakeAccount) Address(context.Context) (common.Address, error) {
	idx := new(big.Int).SetUint64(uint64(a.opts.Index))
	return common.BytesToAddress(crypto.Keccak256(a.opts.Signer.Address().Bytes(), idx.Bytes())), nil
}

func (a *fakeAccount) SendTransaction(_ context.Context, call smartaccount.Call, _ smartaccount.PaymasterOptions) (smartaccount.Pending, error) {
	if a.f.sendErr != nil {
		return nil, a.f.sendErr
	}
	a.f.calls = append(a.f.calls, call)
	return fakePending{hash: a.f.txHash}, nil
}

type fakePending struct{ hash common.Hash }

func (p fakePending) UserOpHash() common.Hash                             { return common.Hash{} }
func (p fakePending) WaitForTxHash(context.Context) (common.Hash, error) { return p.hash, nil }

type fakeBalances struct {
	native map[common.Address]*big.Int
	token  map[common.Address]*big.Int
	err    error
}

func newFakeBalances() *fakeBalances {
	return &fakeBalances{native: map[common.Address]*big.Int{}, token: map[common.Address]*big.Int{}}
}

func (b *fakeBalances) NativeBalance(_ context.Context, a common.Address) (*big.Int, error) {
	if b.err != nil {
		return nil, b.err
	}
	if v, ok := b.native[a]; ok {
		return v, nil
	}
	return new(big.Int), nil
}

func (b *fakeBalances) TokenBalance(_ context.Context, a common.Address) (*big.Int, error) {
	if b.err != nil {
		return nil, b.err
	}
	if v, ok := b.token[a]; ok {
		return v, nil
	}
	return new(big.Int), nil
}

type harness struct {
	svc      *Service
	conn     *fakeConnector
	factory  *fakeFactory
	balances *fakeBalances
	store    *registry.Store
	counter  *registry.Counter
}

func newHarness(t *testing.T, owner common.Address) *harness {
	t.Helper()
	kv := storage.NewMemoryKV()
	store, err := registry.NewStore(kv)
	require.NoError(t, err)

	h := &harness{
		conn:     newFakeConnector(owner),
		factory:  &fakeFactory{txHash: common.HexToHash("0xfeed")},
		balances: newFakeBalances(),
		store:    store,
		counter:  registry.NewCounter(kv),
	}
	cfg := Config{
		Chain:           chain.DefaultChains()[chain.Fuji],
		BundlerURL:      "https://bundler.example",
		PaymasterURL:    "https://paymaster.example",
		PaymasterAPIKey: "test-key",
	}
	h.svc = New(cfg, h.conn, store, h.counter, h.factory, h.balances)
	return h
}

func (h *harness) connect(t *testing.T) registry.Account {
	t.Helper()
	acc, err := h.svc.Connect(context.Background(), "main")
	require.NoError(t, err)
	return acc
}

func TestService_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("registers and activates", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		acc := h.connect(t)
		assert.Equal(t, uint64(1), acc.OwnerTag)
		assert.Equal(t, "main", acc.Name)

		active, ok := h.store.Active()
		require.True(t, ok)
		assert.Equal(t, strings.ToLower(scenarioOwner.Hex()), active)
	})

	t.Run("reconnect keeps tag and name", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.connect(t)
		acc, err := h.svc.Connect(ctx, "renamed")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), acc.OwnerTag)
		assert.Equal(t, "main", acc.Name)
		assert.Len(t, h.store.Snapshot().Accounts, 1)
	})

	t.Run("second owner gets next tag", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.connect(t)
		other := common.HexToAddress("0x00000000000000000000000000000000000000b0")
		h.conn.accounts = []common.Address{other}
		h.conn.signer = &fakeSigner{addr: other}
		acc, err := h.svc.Connect(ctx, "second")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), acc.OwnerTag)
	})

	t.Run("no wallet", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.conn.accounts = nil
		_, err := h.svc.Connect(ctx, "main")
		assert.ErrorIs(t, err, apperr.ErrWalletNotConnected)
		assert.Empty(t, h.store.Snapshot().Accounts)
	})

	t.Run("signer mismatch", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.conn.signer = &fakeSigner{addr: common.HexToAddress("0x01")}
		_, err := h.svc.Connect(ctx, "main")
		assert.ErrorIs(t, err, apperr.ErrSignerMismatch)
	})
}

func TestService_CreateWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("auto numbers derive from signature", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.connect(t)

		sig, err := h.conn.signer.SignMessage(ctx, []byte(derive.CreationMessage))
		require.NoError(t, err)

		for want := uint64(1); want <= 3; want++ {
			w, err := h.svc.CreateWallet(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, want, w.SequenceNumber)
			assert.Equal(t, uint64(1), w.OwnerTag)

			idx, err := derive.Index(sig, want)
			require.NoError(t, err)
			assert.Equal(t, idx, w.Index)
			assert.Equal(t, registry.TxIdle, w.Status.State)
		}

		acc, ok := h.store.Account(scenarioOwner.Hex())
		require.True(t, ok)
		assert.Len(t, acc.Wallets, 3)
		assert.Equal(t, int64(43113), h.conn.chainID.Int64())
		assert.Equal(t, 1, h.conn.added, "fuji added once")
		assert.Equal(t, "https://bundler.example", h.factory.opts[0].BundlerURL)
	})

	t.Run("custom number bypasses counter", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.connect(t)

		n := uint64(7)
		w, err := h.svc.CreateWallet(ctx, &n)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), w.SequenceNumber)

		last, err := h.counter.Peek(scenarioOwner.Hex())
		require.NoError(t, err)
		assert.Zero(t, last)

		w, err = h.svc.CreateWallet(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), w.SequenceNumber)
	})

	t.Run("colliding custom number is accepted", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.connect(t)

		_, err := h.svc.CreateWallet(ctx, nil)
		require.NoError(t, err)
		one := uint64(1)
		_, err = h.svc.CreateWallet(ctx, &one)
		require.NoError(t, err)

		acc, _ := h.store.Account(scenarioOwner.Hex())
		require.Len(t, acc.Wallets, 2)
		assert.Equal(t, acc.Wallets[0].Address, acc.Wallets[1].Address)
	})

	t.Run("records initial balances", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.connect(t)

		sig, _ := h.conn.signer.SignMessage(ctx, []byte(derive.CreationMessage))
		idx, _ := derive.Index(sig, 1)
		addr, _ := (&fakeAccount{opts: smartaccount.Options{Signer: h.conn.signer, Index: idx}}).Address(ctx)
		h.balances.native[addr] = big.NewInt(5e17)
		h.balances.token[addr] = big.NewInt(2_000_000)

		w, err := h.svc.CreateWallet(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, addr.Hex(), w.Address)
		assert.Equal(t, "500000000000000000", w.Balance)
		assert.Equal(t, "2000000", w.TokenBalance)
	})

	t.Run("signing failure consumes the number", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.connect(t)
		h.conn.signer.err = errors.New("user rejected")

		_, err := h.svc.CreateWallet(ctx, nil)
		assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)

		last, err := h.counter.Peek(scenarioOwner.Hex())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), last)

		acc, _ := h.store.Account(scenarioOwner.Hex())
		assert.Empty(t, acc.Wallets)
	})

	t.Run("not connected", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		_, err := h.svc.CreateWallet(ctx, nil)
		assert.ErrorIs(t, err, apperr.ErrWalletNotConnected)
	})

	t.Run("active owner not registered", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		require.NoError(t, h.svc.SwitchActive(scenarioOwner.Hex()))
		_, err := h.svc.CreateWallet(ctx, nil)
		assert.ErrorIs(t, err, apperr.ErrWalletNotConnected)
	})

	t.Run("missing bundler configuration", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.svc.factory = smartaccount.NewClient()
		h.svc.cfg.BundlerURL = ""
		h.connect(t)
		signed := h.conn.signer.calls

		_, err := h.svc.CreateWallet(ctx, nil)
		assert.ErrorIs(t, err, apperr.ErrMissingConfiguration)
		assert.ErrorContains(t, err, "BUNDLER_URL")
		acc, _ := h.store.Account(scenarioOwner.Hex())
		assert.Empty(t, acc.Wallets)

		last, err := h.counter.Peek(scenarioOwner.Hex())
		require.NoError(t, err)
		assert.Zero(t, last, "number must not be consumed")
		assert.Equal(t, signed, h.conn.signer.calls, "owner must not be asked to sign")
	})

	t.Run("missing paymaster key", func(t *testing.T) {
		h := newHarness(t, scenarioOwner)
		h.svc.cfg.PaymasterAPIKey = ""
		h.connect(t)

		_, err := h.svc.CreateWallet(ctx, nil)
		assert.ErrorIs(t, err, apperr.ErrMissingConfiguration)
		assert.ErrorContains(t, err, "PAYMASTER_API_KEY")
		assert.Empty(t, h.factory.opts)

		last, err := h.counter.Peek(scenarioOwner.Hex())
		require.NoError(t, err)
		assert.Zero(t, last)
	})
}

func TestService_RefreshBalances(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioOwner)
	h.connect(t)

	w1, err := h.svc.CreateWallet(ctx, nil)
	require.NoError(t, err)
	w2, err := h.svc.CreateWallet(ctx, nil)
	require.NoError(t, err)

	t.Run("commits fresh balances", func(t *testing.T) {
		h.balances.native[common.HexToAddress(w1.Address)] = big.NewInt(42)
		h.balances.token[common.HexToAddress(w2.Address)] = big.NewInt(7)
		require.NoError(t, h.svc.RefreshBalances(ctx))

		acc, _ := h.store.Account(scenarioOwner.Hex())
		assert.Equal(t, "42", acc.Wallets[0].Balance)
		assert.Equal(t, "0", acc.Wallets[0].TokenBalance)
		assert.Equal(t, "7", acc.Wallets[1].TokenBalance)
	})

	t.Run("failed reads keep last value", func(t *testing.T) {
		h.balances.err = errors.New("rpc down")
		require.NoError(t, h.svc.RefreshBalances(ctx))

		acc, _ := h.store.Account(scenarioOwner.Hex())
		assert.Equal(t, "42", acc.Wallets[0].Balance)
		h.balances.err = nil
	})

	t.Run("unregistered active owner is tolerated", func(t *testing.T) {
		require.NoError(t, h.svc.SwitchActive("0x00000000000000000000000000000000000000cc"))
		assert.NoError(t, h.svc.RefreshBalances(ctx))
	})
}

func TestService_Send(t *testing.T) {
	ctx := context.Background()
	recipient := "0x2222222222222222222222222222222222222222"

	setup := func(t *testing.T) (*harness, registry.Wallet) {
		h := newHarness(t, scenarioOwner)
		h.connect(t)
		w, err := h.svc.CreateWallet(ctx, nil)
		require.NoError(t, err)
		h.balances.native[common.HexToAddress(w.Address)] = big.NewInt(1e18)
		return h, w
	}
	statusOf := func(h *harness, w registry.Wallet) registry.TxStatus {
		acc, _ := h.store.Account(scenarioOwner.Hex())
		for _, x := range acc.Wallets {
			if x.Matches(w.Address, w.SequenceNumber) {
				return x.Status
			}
		}
		return registry.TxStatus{}
	}

	t.Run("success links explorer", func(t *testing.T) {
		h, w := setup(t)
		st, err := h.svc.Send(ctx, w.Address, w.SequenceNumber, recipient, "0.25")
		require.NoError(t, err)
		assert.Equal(t, registry.TxSuccess, st.State)
		assert.Equal(t, h.factory.txHash.Hex(), st.TxHash)
		assert.Equal(t, "Transaction successful: https://testnet.snowtrace.io/tx/"+h.factory.txHash.Hex(), st.Message)
		assert.Equal(t, st, statusOf(h, w))

		require.Len(t, h.factory.calls, 1)
		assert.Equal(t, common.HexToAddress(recipient), h.factory.calls[0].To)
		assert.Equal(t, "250000000000000000", h.factory.calls[0].Value.String())
		assert.Equal(t, w.Index, h.factory.opts[len(h.factory.opts)-1].Index)
	})

	t.Run("invalid recipient", func(t *testing.T) {
		h, w := setup(t)
		st, err := h.svc.Send(ctx, w.Address, w.SequenceNumber, "0xnope", "1")
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
		assert.Equal(t, registry.TxError, st.State)
		assert.Equal(t, registry.TxError, statusOf(h, w).State)
		assert.Empty(t, h.factory.calls)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		h, w := setup(t)
		_, err := h.svc.Send(ctx, w.Address, w.SequenceNumber, recipient, "0")
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		h, w := setup(t)
		_, err := h.svc.Send(ctx, w.Address, w.SequenceNumber, recipient, "2")
		assert.ErrorContains(t, err, "Insufficient balance")
		assert.Empty(t, h.factory.calls)
	})

	t.Run("bundler failure", func(t *testing.T) {
		h, w := setup(t)
		h.factory.sendErr = apperr.New(apperr.KindUpstreamFailure, "bundler rejected user operation")
		st, err := h.svc.Send(ctx, w.Address, w.SequenceNumber, recipient, "0.1")
		assert.ErrorIs(t, err, apperr.ErrUpstreamFailure)
		assert.Equal(t, "bundler rejected user operation", st.Message)
	})

	t.Run("unknown wallet", func(t *testing.T) {
		h, w := setup(t)
		_, err := h.svc.Send(ctx, w.Address, 99, recipient, "0.1")
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	})

	t.Run("missing configuration leaves status alone", func(t *testing.T) {
		h, w := setup(t)
		h.svc.cfg.PaymasterURL = ""
		signed := h.conn.signer.calls

		_, err := h.svc.Send(ctx, w.Address, w.SequenceNumber, recipient, "0.1")
		assert.ErrorIs(t, err, apperr.ErrMissingConfiguration)
		assert.Equal(t, registry.TxIdle, statusOf(h, w).State)
		assert.Equal(t, signed, h.conn.signer.calls)
		assert.Empty(t, h.factory.calls)
	})
}

func TestService_ExportImportScenario(t *testing.T) {
	ctx := context.Background()

	first := newHarness(t, scenarioOwner)
	acc := first.connect(t)
	require.Equal(t, uint64(1), acc.OwnerTag)
	for i := 0; i < 3; i++ {
		w, err := first.svc.CreateWallet(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), w.SequenceNumber)
	}
	require.NoError(t, first.store.MutateWallet(scenarioOwner.Hex(), mustWallet(t, first, 0).Address, 1, func(w *registry.Wallet) {
		w.Balance = "123"
		w.Status = registry.TxStatus{State: registry.TxSuccess, TxHash: "0x01"}
	}))

	var buf bytes.Buffer
	require.NoError(t, first.svc.Export(&buf))
	assert.NotContains(t, buf.String(), "balance")
	assert.NotContains(t, buf.String(), "status")

	second := newHarness(t, scenarioOwner)
	res, err := second.svc.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, "Wallets imported successfully", res.Message)

	imported, ok := second.store.Account(scenarioOwner.Hex())
	require.True(t, ok)
	assert.Equal(t, uint64(1), imported.OwnerTag)
	require.Len(t, imported.Wallets, 3)
	original := mustAccount(t, first)
	for i, w := range imported.Wallets {
		assert.Equal(t, uint64(1), w.OwnerTag)
		assert.Equal(t, "0", w.Balance)
		assert.Equal(t, "0", w.TokenBalance)
		assert.Equal(t, registry.TxIdle, w.Status.State)
		assert.Equal(t, original.Wallets[i].Address, w.Address)
		assert.Equal(t, original.Wallets[i].Index, w.Index)
	}

	active, _ := second.store.Active()
	assert.Equal(t, strings.ToLower(scenarioOwner.Hex()), active)
}

func mustAccount(t *testing.T, h *harness) registry.Account {
	t.Helper()
	acc, ok := h.store.Account(scenarioOwner.Hex())
	require.True(t, ok)
	return acc
}

func mustWallet(t *testing.T, h *harness, i int) registry.Wallet {
	t.Helper()
	return mustAccount(t, h).Wallets[i]
}

func TestService_ExportFile(t *testing.T) {
	h := newHarness(t, scenarioOwner)
	h.connect(t)
	h.svc.now = func() time.Time { return time.Date(2026, 10, 18, 9, 5, 7, 123e6, time.UTC) }

	dir := testutil.TempDir(t)
	path, err := h.svc.ExportFile(dir)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "temp_wallet_export_2026-10-18T09-05-07-123Z.json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"owner_sequence_tag": 1`)

	_, err = h.svc.ExportFile(dir)
	assert.Error(t, err, "existing file is not overwritten")

	t.Run("close failure removes the file", func(t *testing.T) {
		h.svc.now = func() time.Time { return time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC) }
		h.svc.createFile = func(path string) (io.WriteCloser, error) {
			f, err := createExportFile(path)
			if err != nil {
				return nil, err
			}
			return failingClose{f}, nil
		}

		_, err := h.svc.ExportFile(dir)
		require.Error(t, err)
		_, statErr := os.Stat(filepath.Join(dir, "temp_wallet_export_2026-10-18T10-00-00-000Z.json"))
		assert.True(t, os.IsNotExist(statErr))
	})
}

type failingClose struct{ io.WriteCloser }

func (f failingClose) Close() error {
	_ = f.WriteCloser.Close()
	return errors.New("disk full")
}

func TestService_SwitchAndLogout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, scenarioOwner)
	h.connect(t)
	_, err := h.svc.CreateWallet(ctx, nil)
	require.NoError(t, err)

	t.Run("switch rejects malformed address", func(t *testing.T) {
		assert.ErrorIs(t, h.svc.SwitchActive("abc"), apperr.ErrInvalidInput)
	})

	t.Run("logout clears registry but not counters", func(t *testing.T) {
		require.NoError(t, h.svc.Logout())
		assert.Empty(t, h.store.Snapshot().Accounts)
		_, ok := h.store.Active()
		assert.False(t, ok)

		h.connect(t)
		w, err := h.svc.CreateWallet(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), w.SequenceNumber)
	})
}
