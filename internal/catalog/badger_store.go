package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"tripc-agent/internal/domain"
)

var snapshotKey = []byte("catalog/categories/latest")

type snapshotRecord struct {
	Version    uint64            `json:"version"`
	FetchedAt  time.Time         `json:"fetchedAt"`
	Categories []domain.Category `json:"categories"`
}

// BadgerSnapshotStore persists the last good Index in an embedded badger
// database.
type BadgerSnapshotStore struct {
	db *badger.DB
}

// OpenBadgerSnapshotStore opens (or creates) the database at dir. An empty
// dir opens an in-memory database.
func OpenBadgerSnapshotStore(dir string) (*BadgerSnapshotStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("catalog: open badger: %w", err)
	}
	return &BadgerSnapshotStore{db: db}, nil
}

func (s *BadgerSnapshotStore) Save(_ context.Context, ix *Index) error {
	data, err := json.Marshal(snapshotRecord{
		Version:    ix.Version,
		FetchedAt:  ix.FetchedAt,
		Categories: ix.Categories(),
	})
	if err != nil {
		return fmt.Errorf("catalog: marshal snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, data)
	})
}

func (s *BadgerSnapshotStore) Load(_ context.Context) (*Index, error) {
	var rec snapshotRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: load snapshot: %w", err)
	}
	return NewIndex(rec.Version, rec.FetchedAt, rec.Categories), nil
}

func (s *BadgerSnapshotStore) Close() error {
	return s.db.Close()
}
