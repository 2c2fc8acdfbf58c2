// Package storage provides the durable key-value backends the registry and
// the sequence counter persist into.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Type selects a KV backend.
type Type string

const (
	TypeFile   Type = "file"
	TypeSQLite Type = "sqlite"
	TypeBadger Type = "badger"
	TypeMemory Type = "memory"
)

var ErrUnknownType = errors.New("unknown storage type")

// KV is a text key-value store. Values are whole documents; there is no
// partial update and no TTL.
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set stores value under key, replacing any previous value.
	Set(key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// Open returns the backend of the given type rooted at dataDir.
func Open(t Type, dataDir string) (KV, error) {
	switch Type(strings.ToLower(string(t))) {
	case TypeFile, "":
		return NewFileKV(dataDir)
	case TypeSQLite:
		return OpenSQLiteKV(dataDir)
	case TypeBadger:
		return OpenBadgerKV(dataDir)
	case TypeMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}
