package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/yolodolo42/tempwallet/internal/storage"
)

const registryKey = "tempwallet.registry"

var ErrOwnerNotFound = errors.New("owner not registered")

// Store is the process-wide registry. Every mutation is applied to a copy,
// written through to the KV, and only then made visible.
type Store struct {
	mu   sync.RWMutex
	kv   storage.KV
	data Data
}

// NewStore loads the registry from kv, starting empty when none is stored.
func NewStore(kv storage.KV) (*Store, error) {
	s := &Store{kv: kv, data: Data{Accounts: []Account{}}}

	raw, ok, err := kv.Get(registryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	if !ok {
		return s, nil
	}

	var data Data
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	// Invariant: Accounts is never nil so the persisted form always carries
	// an accounts array.
	if data.Accounts == nil {
		data.Accounts = []Account{}
	}
	s.data = data
	return s, nil
}

func (s *Store) save(data Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := s.kv.Set(registryKey, string(raw)); err != nil {
		return fmt.Errorf("failed to persist registry: %w", err)
	}
	return nil
}

// Update runs fn on a copy of the registry and commits the copy if fn
// succeeds. On error nothing is persisted or changed.
func (s *Store) Update(fn func(*Data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if next.Accounts == nil {
		next.Accounts = []Account{}
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// Replace commits data wholesale.
func (s *Store) Replace(data Data) error {
	return s.Update(func(d *Data) error {
		*d = data.Clone()
		return nil
	})
}

// Snapshot returns a deep copy of the current registry.
func (s *Store) Snapshot() Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Clone()
}

// Account returns the entry for owner, matched case-insensitively.
func (s *Store) Account(owner string) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.data.Find(owner)
	if i < 0 {
		return Account{}, false
	}
	return s.data.Accounts[i].clone(), true
}

// Active returns the active owner, if any.
func (s *Store) Active() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.ActiveOwner, s.data.ActiveOwner != ""
}

// RegisterOrGetOwner returns the entry for owner, creating it with the next
// owner tag when absent. The name is only used on creation.
func (s *Store) RegisterOrGetOwner(owner, name string) (Account, error) {
	var out Account
	err := s.Update(func(d *Data) error {
		if i := d.Find(owner); i >= 0 {
			out = d.Accounts[i].clone()
			return errUnchanged
		}
		acc := Account{
			Owner:    owner,
			Name:     name,
			OwnerTag: uint64(len(d.Accounts)) + 1,
			Wallets:  []Wallet{},
		}
		d.Accounts = append(d.Accounts, acc)
		out = acc.clone()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return out, nil
	}
	return out, err
}

// errUnchanged aborts an Update that found nothing to write.
var errUnchanged = errors.New("registry unchanged")

// Rename sets the display name of a registered owner.
func (s *Store) Rename(owner, name string) error {
	return s.Update(func(d *Data) error {
		i := d.Find(owner)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrOwnerNotFound, owner)
		}
		d.Accounts[i].Name = name
		return nil
	})
}

// AppendWallet adds w under owner. Duplicate sequence numbers are allowed.
func (s *Store) AppendWallet(owner string, w Wallet) error {
	return s.Update(func(d *Data) error {
		i := d.Find(owner)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrOwnerNotFound, owner)
		}
		d.Accounts[i].Wallets = append(d.Accounts[i].Wallets, w)
		return nil
	})
}

// SetActive marks owner as the active one. The owner is not required to be
// registered.
func (s *Store) SetActive(owner string) error {
	return s.Update(func(d *Data) error {
		d.ActiveOwner = owner
		return nil
	})
}

// MutateWallet applies fn to the first wallet under owner identified by
// (address, sequence). A missing owner or wallet is a no-op.
func (s *Store) MutateWallet(owner, address string, sequence uint64, fn func(*Wallet)) error {
	err := s.Update(func(d *Data) error {
		i := d.Find(owner)
		if i < 0 {
			return errUnchanged
		}
		for j := range d.Accounts[i].Wallets {
			if d.Accounts[i].Wallets[j].Matches(address, sequence) {
				fn(&d.Accounts[i].Wallets[j])
				return nil
			}
		}
		return errUnchanged
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// Clear empties the registry and removes its storage key.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(registryKey); err != nil {
		return fmt.Errorf("failed to clear registry: %w", err)
	}
	s.data = Data{Accounts: []Account{}}
	return nil
}
