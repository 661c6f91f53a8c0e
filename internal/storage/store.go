package storage

import (
	"errors"
	"fmt"

	"github.com/Arsenji/tarot-client/internal/config"
)

// Well-known keys shared with the backend contract.
const (
	KeyAuthToken    = "authToken"
	KeyTokenExpires = "tokenExpires"
	KeyAuthUserID   = "authUserID"
	KeyStatusCache  = "subscriptionStatusCache"
)

var errStoreClosed = errors.New("storage: store is closed")

// Store is a durable string key-value store surviving process restarts.
// Concurrent writers across processes are last-writer-wins.
type Store interface {
	// Get returns the stored value and whether the key was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// Open constructs the store selected by the configuration.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Storage {
	case config.StorageFile:
		return NewFileStore(cfg.DataDir)
	case config.StorageSQLite:
		return NewSQLiteStore(cfg.DataDir)
	case config.StorageMemory:
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Storage)
	}
}
