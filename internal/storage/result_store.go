// Package storage provides the scratch blob store for command result
// payloads (screenshots, captured page content). It is spill space, not
// state of record: the store is opened fresh at boot and the in-memory
// registries remain authoritative.
package storage

import (
	"context"
	"errors"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

var ErrNotFound = errors.New("result not found")

// ResultStore persists opaque result payloads keyed by command id.
type ResultStore interface {
	Put(ctx context.Context, commandID string, payload []byte) error
	Get(ctx context.Context, commandID string) ([]byte, error)
	Close() error
}

// BadgerStore implements ResultStore on Badger.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a Badger store at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func resultKey(commandID string) []byte {
	return []byte("result:" + commandID)
}

func (s *BadgerStore) Put(ctx context.Context, commandID string, payload []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resultKey(commandID), payload)
	})
}

func (s *BadgerStore) Get(ctx context.Context, commandID string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resultKey(commandID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			out = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
