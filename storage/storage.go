// Package storage provides snapshot persistence for the in-memory stores.
// Each store exports its state as an opaque blob under a component name;
// backends only move blobs around and never inspect them.
package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// Backend stores and retrieves per-component state snapshots.
type Backend interface {
	// FetchSnapshot returns the stored blob for a component, or an error
	// wrapping interfaces.ErrSnapshotNotFound if none exists.
	FetchSnapshot(component string) ([]byte, error)

	// StoreSnapshot persists the blob for a component, replacing any
	// previous one.
	StoreSnapshot(component string, data []byte) error

	// Available reports whether the backend is ready to serve requests.
	Available() bool

	// Name returns a short backend identifier for logs.
	Name() string

	// LocationURI returns the URI the backend was created from.
	LocationURI() string

	// Close releases backend resources.
	Close() error
}

// NewBackend creates a backend from a location URI:
//
//	file:///var/lib/vetkdd/snapshots
//	badger:///var/lib/vetkdd/db
//	memory://
func NewBackend(locationURI string) (Backend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("parsing storage URI %q: %w", locationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewFileBackend(locationURI, u.Path)
	case "badger":
		return NewBadgerBackend(locationURI, u.Path)
	case "memory":
		return NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}
