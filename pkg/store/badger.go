package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a Store on an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM, mostly for tests.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
}

// OpenBadger opens or creates a database.
//
// Example:
//
//	st, err := store.OpenBadger(store.BadgerOptions{Path: "./data"})
//	if err != nil {
//		return err
//	}
//	defer st.Close()
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", opts.Path, err)
	}
	return &BadgerStore{db: db}, nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		result, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return result, err
}

// Set implements Store.
func (s *BadgerStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// List implements Store. Badger iterates keys in byte order.
func (s *BadgerStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

// RunGC reclaims value log space. Call it periodically on long-lived stores.
func (s *BadgerStore) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
