package storage

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ruteri/vetkd-access-backend/interfaces"
)

// BadgerBackend stores component snapshots in an embedded badger database.
type BadgerBackend struct {
	uri string
	db  *badger.DB
}

// NewBadgerBackend opens (or creates) a badger database at dir.
func NewBadgerBackend(uri, dir string) (*BadgerBackend, error) {
	if dir == "" {
		return nil, errors.New("badger storage requires a directory path")
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening badger database at %q: %w", dir, err)
	}
	return &BadgerBackend{uri: uri, db: db}, nil
}

// NewMemoryBackend returns a badger backend that keeps everything in memory.
// Intended for tests and ephemeral deployments.
func NewMemoryBackend() (*BadgerBackend, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening in-memory badger database: %w", err)
	}
	return &BadgerBackend{uri: "memory://", db: db}, nil
}

// FetchSnapshot implements Backend.
func (b *BadgerBackend) FetchSnapshot(component string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(component))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("component %s: %w", component, interfaces.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot for %s: %w", component, err)
	}
	return data, nil
}

// StoreSnapshot implements Backend.
func (b *BadgerBackend) StoreSnapshot(component string, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(component), data)
	})
	if err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", component, err)
	}
	return nil
}

// Available implements Backend.
func (b *BadgerBackend) Available() bool { return !b.db.IsClosed() }

// Name implements Backend.
func (b *BadgerBackend) Name() string { return "badger" }

// LocationURI implements Backend.
func (b *BadgerBackend) LocationURI() string { return b.uri }

// Close implements Backend.
func (b *BadgerBackend) Close() error { return b.db.Close() }

func snapshotKey(component string) []byte {
	return []byte("snapshot/" + component)
}
