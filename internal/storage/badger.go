package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerKV stores each key as one record of an embedded badger database.
type BadgerKV struct {
	store *badgerhold.Store
}

type badgerRecord struct {
	Value string
}

// OpenBadgerKV opens (or creates) the database under dataDir/db.
func OpenBadgerKV(dataDir string) (*BadgerKV, error) {
	return openBadger(badger.DefaultOptions(filepath.Join(dataDir, "db")))
}

// OpenBadgerKVInMemory opens a database that lives only in memory.
func OpenBadgerKVInMemory() (*BadgerKV, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*BadgerKV, error) {
	opts.Logger = nil

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder:          jsonEncode,
		Decoder:          jsonDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &BadgerKV{store: store}, nil
}

func jsonEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer
	if err := json.NewEncoder(&buff).Encode(value); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

func jsonDecode(data []byte, value interface{}) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(value)
}

// Close closes the underlying DB.
func (b *BadgerKV) Close() error {
	if b == nil || b.store == nil {
		return nil
	}
	return b.store.Close()
}

func (b *BadgerKV) Get(key string) (string, bool, error) {
	var rec badgerRecord
	err := b.store.Get(key, &rec)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return rec.Value, true, nil
}

func (b *BadgerKV) Set(key, value string) error {
	if err := b.store.Upsert(key, badgerRecord{Value: value}); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func (b *BadgerKV) Delete(key string) error {
	err := b.store.Delete(key, badgerRecord{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
