package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountLocked   = errors.New("account is locked")
	ErrInvalidKey      = errors.New("invalid private key")
)

// KeystoreSigner implements Signer using go-ethereum's encrypted keystore.
// crypto.Sign derives nonces per RFC 6979, so signing the same message twice
// yields the same signature.
type KeystoreSigner struct {
	// mu protects key from concurrent access. Prevents signing operations from
	// racing with Lock() which zeros the key material.
	mu      sync.RWMutex
	account accounts.Account
	key     *ecdsa.PrivateKey // nil when locked
}

// KeystoreManager manages the keystore directory and accounts
type KeystoreManager struct {
	ks      *keystore.KeyStore
	dataDir string
}

// KeystoreOption tunes a KeystoreManager.
type KeystoreOption func(*keystoreOptions)

type keystoreOptions struct {
	scryptN, scryptP int
}

// WithLightScrypt trades key-file hardness for speed. Meant for tests.
func WithLightScrypt() KeystoreOption {
	return func(o *keystoreOptions) {
		o.scryptN = keystore.LightScryptN
		o.scryptP = keystore.LightScryptP
	}
}

// NewKeystoreManager creates a new keystore manager
func NewKeystoreManager(dataDir string, opts ...KeystoreOption) (*KeystoreManager, error) {
	keystoreDir := filepath.Join(dataDir, "keystore")
	if err := os.MkdirAll(keystoreDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	// StandardScryptN and StandardScryptP are secure defaults
	o := keystoreOptions{scryptN: keystore.StandardScryptN, scryptP: keystore.StandardScryptP}
	for _, opt := range opts {
		opt(&o)
	}

	return &KeystoreManager{
		ks:      keystore.NewKeyStore(keystoreDir, o.scryptN, o.scryptP),
		dataDir: dataDir,
	}, nil
}

// CreateAccount creates a new account with the given password
func (km *KeystoreManager) CreateAccount(password string) (accounts.Account, error) {
	return km.ks.NewAccount(password)
}

// ImportKey imports a private key and encrypts it with the password
func (km *KeystoreManager) ImportKey(privateKeyHex string, password string) (accounts.Account, error) {
	// Remove 0x prefix if present
	if len(privateKeyHex) >= 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return accounts.Account{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return km.ks.ImportECDSA(privateKey, password)
}

// ListAccounts returns all accounts in the keystore
func (km *KeystoreManager) ListAccounts() []accounts.Account {
	return km.ks.Accounts()
}

// HasAccount reports whether address has a key file in the keystore.
func (km *KeystoreManager) HasAccount(address common.Address) bool {
	return km.ks.HasAddress(address)
}

// GetSigner decrypts the key for address and returns an unlocked signer
func (km *KeystoreManager) GetSigner(address common.Address, password string) (*KeystoreSigner, error) {
	var targetAccount *accounts.Account
	for _, acc := range km.ks.Accounts() {
		if acc.Address == address {
			acc := acc
			targetAccount = &acc
			break
		}
	}

	if targetAccount == nil {
		return nil, ErrAccountNotFound
	}

	keyJSON, err := os.ReadFile(targetAccount.URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock account: %w", err)
	}

	return &KeystoreSigner{
		account: *targetAccount,
		key:     key.PrivateKey,
	}, nil
}

// Address returns the address of the signer
func (ks *KeystoreSigner) Address() common.Address {
	return ks.account.Address
}

// SignMessage signs an arbitrary message using EIP-191 personal sign
func (ks *KeystoreSigner) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.key == nil {
		return nil, ErrAccountLocked
	}

	sig, err := crypto.Sign(PersonalHash(message), ks.key)
	if err != nil {
		return nil, err
	}

	// Transform V from crypto.Sign's 0/1 to 27/28 for web3.js/MetaMask compatibility.
	sig[64] += 27

	return sig, nil
}

// Lock zeros private key material from memory. Safe to call multiple times.
// After Lock(), all signing operations return ErrAccountLocked.
func (ks *KeystoreSigner) Lock() {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.key != nil {
		// Zero out the key bytes before releasing reference
		ks.key.D.SetInt64(0)
		ks.key = nil
	}
}
