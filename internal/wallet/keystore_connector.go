package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PasswordFunc supplies the keystore password for address, typically by
// prompting on the terminal.
type PasswordFunc func(address common.Address) (string, error)

// KeystoreConnector is a Connector over a local keystore account. It keeps
// its own list of known networks the way a browser wallet does, starting with
// Ethereum mainnet only.
type KeystoreConnector struct {
	mu       sync.Mutex
	km       *KeystoreManager
	account  common.Address
	password PasswordFunc
	chains   map[string]ChainParams
	current  *big.Int
	signer   *KeystoreSigner
}

// NewKeystoreConnector connects account from km. A zero account means no
// account is selected.
func NewKeystoreConnector(km *KeystoreManager, account common.Address, password PasswordFunc) *KeystoreConnector {
	mainnet := big.NewInt(1)
	return &KeystoreConnector{
		km:       km,
		account:  account,
		password: password,
		chains:   map[string]ChainParams{mainnet.String(): {ChainID: mainnet, ChainName: "Ethereum Mainnet"}},
		current:  mainnet,
	}
}

func (c *KeystoreConnector) Accounts(context.Context) ([]common.Address, error) {
	if c.account == (common.Address{}) || !c.km.HasAccount(c.account) {
		return nil, nil
	}
	return []common.Address{c.account}, nil
}

func (c *KeystoreConnector) ChainID(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.current), nil
}

func (c *KeystoreConnector) SwitchChain(_ context.Context, chainID *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.chains[chainID.String()]; !ok {
		return fmt.Errorf("%w: %s", ErrChainNotAdded, chainID)
	}
	c.current = new(big.Int).Set(chainID)
	return nil
}

func (c *KeystoreConnector) AddChain(_ context.Context, params ChainParams) error {
	if params.ChainID == nil {
		return fmt.Errorf("chain id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[params.ChainID.String()] = params
	return nil
}

// Signer unlocks the keystore account on first use and caches the signer.
func (c *KeystoreConnector) Signer(ctx context.Context) (Signer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.signer != nil {
		return c.signer, nil
	}
	if c.account == (common.Address{}) {
		return nil, ErrAccountNotFound
	}

	password, err := c.password(c.account)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	signer, err := c.km.GetSigner(c.account, password)
	if err != nil {
		return nil, err
	}
	c.signer = signer
	return signer, nil
}

// Close locks the cached signer.
func (c *KeystoreConnector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signer != nil {
		c.signer.Lock()
		c.signer = nil
	}
}
