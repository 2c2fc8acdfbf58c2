package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/yolodolo42/tempwallet/internal/app"
	"github.com/yolodolo42/tempwallet/internal/chain"
	"github.com/yolodolo42/tempwallet/internal/config"
	"github.com/yolodolo42/tempwallet/internal/registry"
	"github.com/yolodolo42/tempwallet/internal/setup"
	"github.com/yolodolo42/tempwallet/internal/smartaccount"
	"github.com/yolodolo42/tempwallet/internal/storage"
	"github.com/yolodolo42/tempwallet/internal/wallet"
)

// env holds everything a command needs. Close releases it.
type env struct {
	cfg     *config.Config
	svc     *app.Service
	store   *registry.Store
	conn    wallet.Connector
	chains  *chain.Client
	reader  *chain.Reader
	closers []func()
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// openEnv wires storage, the wallet connector and the chain clients for cfg.
// password is consulted the first time a keystore signer is unlocked.
func openEnv(ctx context.Context, cfg *config.Config, password wallet.PasswordFunc) (*env, error) {
	e := &env{cfg: cfg}

	kv, err := storage.Open(cfg.StoreType, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	if c, ok := kv.(io.Closer); ok {
		e.closers = append(e.closers, func() { _ = c.Close() })
	}

	store, err := registry.NewStore(kv)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	e.store = store

	conn, err := openConnector(ctx, cfg, password)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.conn = conn
	if c, ok := conn.(interface{ Close() }); ok {
		e.closers = append(e.closers, c.Close)
	}

	chainCfg := cfg.ChainConfig()
	e.chains = chain.NewClient()
	e.chains.AddChain(cfg.Chain, chainCfg)
	e.closers = append(e.closers, e.chains.Close)
	e.reader = chain.NewReader(e.chains, cfg.Chain, cfg.Token)

	e.svc = app.New(app.Config{
		Chain:           chainCfg,
		BundlerURL:      cfg.BundlerURL,
		PaymasterURL:    cfg.PaymasterURL,
		PaymasterAPIKey: cfg.PaymasterAPIKey,
		EntryPoint:      cfg.EntryPoint,
		Factory:         cfg.Factory,
	}, conn, store, registry.NewCounter(kv), smartaccount.NewClient(), e.reader)

	return e, nil
}

// openConnector returns the remote wallet when SIGNER_URL is set and the
// local keystore otherwise.
func openConnector(ctx context.Context, cfg *config.Config, password wallet.PasswordFunc) (wallet.Connector, error) {
	if cfg.SignerURL != "" {
		conn, err := wallet.DialRPCConnector(ctx, cfg.SignerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to wallet at %s: %w", cfg.SignerURL, err)
		}
		return conn, nil
	}

	km, err := wallet.NewKeystoreManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore: %w", err)
	}

	owner := cfg.Owner
	if owner == (common.Address{}) {
		if accounts := km.ListAccounts(); len(accounts) > 0 {
			owner = accounts[0].Address
		}
	}
	if owner == (common.Address{}) {
		log.Debug("no keystore account; wallet stays disconnected")
	}
	return wallet.NewKeystoreConnector(km, owner, password), nil
}

// promptPassword asks for the keystore password on the terminal.
func promptPassword(addr common.Address) (string, error) {
	if !setup.IsInteractive() {
		return "", fmt.Errorf("keystore password for %s required: run interactively or use a remote signer", addr.Hex())
	}
	return readPassword(fmt.Sprintf("Password for %s: ", addr.Hex()))
}

// withEnv opens the environment for a command and closes it afterwards.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, cfg, promptPassword)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}
