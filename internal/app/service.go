// Package app implements the temp-wallet workflows on top of the registry,
// the connected wallet and the smart-account client.
package app

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/yolodolo42/tempwallet/internal/apperr"
	"github.com/yolodolo42/tempwallet/internal/chain"
	"github.com/yolodolo42/tempwallet/internal/derive"
	"github.com/yolodolo42/tempwallet/internal/registry"
	"github.com/yolodolo42/tempwallet/internal/smartaccount"
	"github.com/yolodolo42/tempwallet/internal/transfer"
	"github.com/yolodolo42/tempwallet/internal/tx"
	"github.com/yolodolo42/tempwallet/internal/wallet"
	"golang.org/x/sync/errgroup"
)

// BalanceReader reads the two balances tracked per wallet.
type BalanceReader interface {
	NativeBalance(ctx context.Context, address common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, address common.Address) (*big.Int, error)
}

// Config carries the endpoints used when talking to smart accounts.
type Config struct {
	Chain           *chain.ChainConfig
	BundlerURL      string
	PaymasterURL    string
	PaymasterAPIKey string
	EntryPoint      common.Address
	Factory         common.Address
	Policy          tx.Policy
}

// Service runs the user-facing workflows. It is not safe to run two
// workflows for the same wallet concurrently.
type Service struct {
	cfg      Config
	conn     wallet.Connector
	store    *registry.Store
	counter  *registry.Counter
	factory  smartaccount.Factory
	balances BalanceReader
	log      *log.Entry
	now      func() time.Time

	createFile func(path string) (io.WriteCloser, error)
}

func New(
	cfg Config,
	conn wallet.Connector,
	store *registry.Store,
	counter *registry.Counter,
	factory smartaccount.Factory,
	balances BalanceReader,
) *Service {
	return &Service{
		cfg:        cfg,
		conn:       conn,
		store:      store,
		counter:    counter,
		factory:    factory,
		balances:   balances,
		log:        log.WithField("component", "app"),
		now:        time.Now,
		createFile: createExportFile,
	}
}

func createExportFile(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
}

// Store exposes the registry for read-only views.
func (s *Service) Store() *registry.Store {
	return s.store
}

// Connect registers the connected wallet account under name (if new) and
// makes it the active owner.
func (s *Service) Connect(ctx context.Context, name string) (registry.Account, error) {
	accounts, err := s.conn.Accounts(ctx)
	if err != nil {
		return registry.Account{}, apperr.Wrap(apperr.KindWalletNotConnected, err, "failed to connect wallet")
	}
	if len(accounts) == 0 {
		return registry.Account{}, apperr.New(apperr.KindWalletNotConnected, "no wallet account connected")
	}

	owner := registry.NormalizeOwner(accounts[0].Hex())
	if _, err := wallet.ConnectedSigner(ctx, s.conn, owner); err != nil {
		return registry.Account{}, err
	}

	acc, err := s.store.RegisterOrGetOwner(owner, name)
	if err != nil {
		return registry.Account{}, err
	}
	if err := s.store.SetActive(owner); err != nil {
		return registry.Account{}, err
	}

	s.log.WithFields(log.Fields{"owner": owner, "tag": acc.OwnerTag}).Info("account connected")
	return acc, nil
}

// activeAccount resolves the active owner's registry entry.
func (s *Service) activeAccount() (registry.Account, error) {
	owner, ok := s.store.Active()
	if !ok {
		return registry.Account{}, apperr.New(apperr.KindWalletNotConnected, "No wallet connected")
	}
	acc, ok := s.store.Account(owner)
	if !ok {
		return registry.Account{}, apperr.New(apperr.KindWalletNotConnected, "No wallet connected: account %s is not registered", owner)
	}
	return acc, nil
}

// prepare returns a signer for owner with the wallet on the configured chain.
func (s *Service) prepare(ctx context.Context, owner string) (wallet.Signer, error) {
	signer, err := wallet.ConnectedSigner(ctx, s.conn, owner)
	if err != nil {
		return nil, err
	}
	if err := wallet.EnsureNetwork(ctx, s.conn, s.chainParams()); err != nil {
		return nil, err
	}
	return signer, nil
}

func (s *Service) chainParams() wallet.ChainParams {
	c := s.cfg.Chain
	var explorers []string
	if c.ExplorerURL != "" {
		explorers = []string{c.ExplorerURL}
	}
	return wallet.ChainParams{
		ChainID:           c.ChainID,
		ChainName:         c.Name,
		NativeCurrency:    wallet.Currency{Name: c.NativeName, Symbol: c.NativeCurrency, Decimals: 18},
		RPCURLs:           c.RPCURLs,
		BlockExplorerURLs: explorers,
	}
}

func (s *Service) account(ctx context.Context, signer wallet.Signer, index uint32) (smartaccount.Account, error) {
	var rpcURL string
	if len(s.cfg.Chain.RPCURLs) > 0 {
		rpcURL = s.cfg.Chain.RPCURLs[0]
	}
	return s.factory.Account(ctx, smartaccount.Options{
		Signer:          signer,
		Index:           index,
		ChainID:         s.cfg.Chain.ChainID,
		RPCURL:          rpcURL,
		BundlerURL:      s.cfg.BundlerURL,
		PaymasterURL:    s.cfg.PaymasterURL,
		PaymasterAPIKey: s.cfg.PaymasterAPIKey,
		EntryPoint:      s.cfg.EntryPoint,
		FactoryAddress:  s.cfg.Factory,
	})
}

// checkConfig reports missing smart-account endpoints before anything is
// consumed or signed.
func (s *Service) checkConfig() error {
	var missing []string
	if s.cfg.Chain == nil || len(s.cfg.Chain.RPCURLs) == 0 || s.cfg.Chain.RPCURLs[0] == "" {
		missing = append(missing, "RPC_URL")
	}
	if s.cfg.BundlerURL == "" {
		missing = append(missing, "BUNDLER_URL")
	}
	if s.cfg.PaymasterURL == "" {
		missing = append(missing, "PAYMASTER_URL")
	}
	if s.cfg.PaymasterAPIKey == "" {
		missing = append(missing, "PAYMASTER_API_KEY")
	}
	if len(missing) > 0 {
		return apperr.New(apperr.KindMissingConfiguration, "missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func closeAccount(acct smartaccount.Account) {
	if c, ok := acct.(interface{ Close() }); ok {
		c.Close()
	}
}

// CreateWallet derives a new smart account for the active owner. With a nil
// number the owner's counter is advanced first; the number stays consumed
// even if creation fails. A caller-supplied number leaves the counter alone.
func (s *Service) CreateWallet(ctx context.Context, number *uint64) (registry.Wallet, error) {
	acc, err := s.activeAccount()
	if err != nil {
		return registry.Wallet{}, err
	}
	if err := s.checkConfig(); err != nil {
		return registry.Wallet{}, err
	}

	signer, err := s.prepare(ctx, acc.Owner)
	if err != nil {
		return registry.Wallet{}, err
	}

	var seq uint64
	if number != nil {
		seq = *number
	} else {
		seq, err = s.counter.Next(acc.Owner)
		if err != nil {
			return registry.Wallet{}, err
		}
	}

	index, err := derive.New(signer).Derive(ctx, seq)
	if err != nil {
		return registry.Wallet{}, err
	}

	acct, err := s.account(ctx, signer, index)
	if err != nil {
		return registry.Wallet{}, err
	}
	defer closeAccount(acct)

	addr, err := acct.Address(ctx)
	if err != nil {
		return registry.Wallet{}, apperr.Wrap(apperr.KindUpstreamFailure, err, "smart account creation failed")
	}

	w := registry.NewWallet(addr.Hex(), seq, acc.OwnerTag, index)
	w.Balance, w.TokenBalance = s.readBalances(ctx, addr, w.Balance, w.TokenBalance)

	if err := s.store.AppendWallet(acc.Owner, w); err != nil {
		return registry.Wallet{}, err
	}

	s.log.WithFields(log.Fields{
		"owner":    acc.Owner,
		"sequence": seq,
		"index":    index,
		"address":  w.Address,
	}).Info("wallet created")
	return w, nil
}

// readBalances returns fresh balances, keeping the previous value for any
// read that fails.
func (s *Service) readBalances(ctx context.Context, addr common.Address, native, token string) (string, string) {
	if s.balances == nil {
		return native, token
	}
	if v, err := s.balances.NativeBalance(ctx, addr); err != nil {
		s.log.WithError(err).WithField("address", addr.Hex()).Warn("failed to read native balance")
	} else {
		native = v.String()
	}
	if v, err := s.balances.TokenBalance(ctx, addr); err != nil {
		s.log.WithError(err).WithField("address", addr.Hex()).Warn("failed to read token balance")
	} else {
		token = v.String()
	}
	return native, token
}

// maxBalanceReads bounds concurrent balance queries during a refresh.
const maxBalanceReads = 4

type balanceKey struct {
	address  string
	sequence uint64
}

// RefreshBalances re-reads the balances of every wallet of the active owner
// and commits them in a single registry update. Wallets removed meanwhile are
// skipped. Without an active owner there is nothing to do.
func (s *Service) RefreshBalances(ctx context.Context) error {
	owner, ok := s.store.Active()
	if !ok {
		return nil
	}
	acc, ok := s.store.Account(owner)
	if !ok {
		return nil
	}

	type balances struct{ native, token string }
	read := make([]balances, len(acc.Wallets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBalanceReads)
	for i, w := range acc.Wallets {
		g.Go(func() error {
			native, token := s.readBalances(gctx, common.HexToAddress(w.Address), w.Balance, w.TokenBalance)
			read[i] = balances{native, token}
			return nil
		})
	}
	_ = g.Wait()

	fresh := make(map[balanceKey]balances, len(acc.Wallets))
	for i, w := range acc.Wallets {
		fresh[balanceKey{registry.NormalizeOwner(w.Address), w.SequenceNumber}] = read[i]
	}

	return s.store.Update(func(d *registry.Data) error {
		i := d.Find(owner)
		if i < 0 {
			return nil
		}
		for j := range d.Accounts[i].Wallets {
			w := &d.Accounts[i].Wallets[j]
			if b, ok := fresh[balanceKey{registry.NormalizeOwner(w.Address), w.SequenceNumber}]; ok {
				w.Balance, w.TokenBalance = b.native, b.token
			}
		}
		return nil
	})
}

// findWallet returns the active owner's wallet identified by address and
// sequence.
func (s *Service) findWallet(address string, sequence uint64) (registry.Account, registry.Wallet, error) {
	acc, err := s.activeAccount()
	if err != nil {
		return registry.Account{}, registry.Wallet{}, err
	}
	for _, w := range acc.Wallets {
		if w.Matches(address, sequence) {
			return acc, w, nil
		}
	}
	return registry.Account{}, registry.Wallet{}, apperr.New(apperr.KindInvalidInput, "wallet %s #%d not found", address, sequence)
}

// Send transfers amount AVAX from the given wallet to recipient as a
// sponsored user operation. The wallet's status tracks the attempt; the
// returned status is the final one.
func (s *Service) Send(ctx context.Context, address string, sequence uint64, to, amount string) (registry.TxStatus, error) {
	acc, w, err := s.findWallet(address, sequence)
	if err != nil {
		return registry.TxStatus{}, err
	}
	if err := s.checkConfig(); err != nil {
		return registry.TxStatus{}, err
	}

	setStatus := func(st registry.TxStatus) {
		if err := s.store.MutateWallet(acc.Owner, w.Address, w.SequenceNumber, func(w *registry.Wallet) {
			w.Status = st
		}); err != nil {
			s.log.WithError(err).Warn("failed to persist wallet status")
		}
	}
	fail := func(err error) (registry.TxStatus, error) {
		st := registry.TxStatus{State: registry.TxError, Message: err.Error()}
		setStatus(st)
		s.log.WithError(err).WithField("wallet", w.Address).Warn("send failed")
		return st, err
	}

	setStatus(registry.TxStatus{State: registry.TxPending, FeeQuote: "0 " + s.cfg.Chain.NativeCurrency + " (sponsored)"})

	intent, err := tx.NewIntent(common.HexToAddress(w.Address), to, amount)
	if err != nil {
		return fail(err)
	}
	if err := tx.Validate(intent, s.cfg.Policy); err != nil {
		return fail(err)
	}

	if s.balances != nil {
		balance, err := s.balances.NativeBalance(ctx, intent.From)
		if err != nil {
			return fail(apperr.Wrap(apperr.KindUpstreamFailure, err, "failed to read balance"))
		}
		if err := tx.CheckBalance(intent, balance); err != nil {
			return fail(err)
		}
	}

	signer, err := s.prepare(ctx, acc.Owner)
	if err != nil {
		return fail(err)
	}

	acct, err := s.account(ctx, signer, w.Index)
	if err != nil {
		return fail(err)
	}
	defer closeAccount(acct)

	pending, err := acct.SendTransaction(ctx, smartaccount.Call{To: intent.To, Value: intent.ValueWei},
		smartaccount.PaymasterOptions{Mode: smartaccount.ModeSponsored})
	if err != nil {
		return fail(err)
	}
	hash, err := pending.WaitForTxHash(ctx)
	if err != nil {
		return fail(err)
	}

	st := registry.TxStatus{
		State:   registry.TxSuccess,
		TxHash:  hash.Hex(),
		Message: "Transaction successful: " + s.cfg.Chain.TxURL(hash.Hex()),
	}
	setStatus(st)
	s.log.WithFields(log.Fields{"wallet": w.Address, "to": intent.To.Hex(), "tx": hash.Hex()}).Info("transaction sent")
	return st, nil
}

// Export writes the identity-only export document to w.
func (s *Service) Export(w io.Writer) error {
	return transfer.Encode(w, transfer.Export(s.store.Snapshot()))
}

// ExportFile writes the export document into dir under a timestamped name
// and returns its path.
func (s *Service) ExportFile(dir string) (string, error) {
	path := filepath.Join(dir, transfer.FileName(s.now()))
	f, err := s.createFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := s.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

// Import merges an export document read from r; see transfer.Import.
func (s *Service) Import(ctx context.Context, r io.Reader) (transfer.Result, error) {
	res, err := transfer.Import(ctx, r, s.store, s.conn)
	if err != nil {
		return transfer.Result{}, err
	}
	s.log.WithFields(log.Fields{
		"owner":    res.ActiveOwner,
		"accounts": res.AddedAccounts,
		"wallets":  res.AddedWallets,
	}).Info("import merged")
	return res, nil
}

// SwitchActive makes owner the active account. Registration is not
// checked.
func (s *Service) SwitchActive(owner string) error {
	if !registry.IsAddress(owner) {
		return apperr.New(apperr.KindInvalidInput, "invalid account address: %s", owner)
	}
	return s.store.SetActive(registry.NormalizeOwner(owner))
}

// Logout clears the registry. Wallet counters are kept so sequence numbers
// are never reissued.
func (s *Service) Logout() error {
	if err := s.store.Clear(); err != nil {
		return err
	}
	if c, ok := s.conn.(interface{ Close() }); ok {
		c.Close()
	}
	s.log.Info("logged out")
	return nil
}

