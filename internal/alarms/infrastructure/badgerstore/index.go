package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"wakeguard/internal/notify"
)

const (
	chainIDsPrefix  = "chain:ids:"
	chainMetaPrefix = "chain:meta:"
	chainUnionKey   = "chain:union"
)

// ChainIndex persists per-alarm identifier sets and chain metadata, and
// maintains the derived global union key. Mutations are serialized so
// the union is recomputed against a consistent view.
type ChainIndex struct {
	mu sync.Mutex
	db *badger.DB
}

// NewChainIndex constructs a chain index.
func NewChainIndex(db *badger.DB) (*ChainIndex, error) {
	if db == nil {
		return nil, errors.New("badgerstore: nil database")
	}
	return &ChainIndex{db: db}, nil
}

func chainIDsKey(alarmID uuid.UUID) []byte {
	return []byte(chainIDsPrefix + alarmID.String())
}

func chainMetaKey(alarmID uuid.UUID) []byte {
	return []byte(chainMetaPrefix + alarmID.String())
}

// Identifiers returns the tracked identifiers for an alarm.
func (x *ChainIndex) Identifiers(_ context.Context, alarmID uuid.UUID) ([]string, error) {
	var ids []string
	err := x.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, chainIDsKey(alarmID), &ids)
	})
	return ids, err
}

// SaveChain writes the identifier set and metadata together, then
// recomputes the union.
func (x *ChainIndex) SaveChain(_ context.Context, alarmID uuid.UUID, identifiers []string, meta notify.ChainMeta) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.db.Update(func(txn *badger.Txn) error {
		if err := writeJSON(txn, chainIDsKey(alarmID), identifiers); err != nil {
			return err
		}
		if err := writeJSON(txn, chainMetaKey(alarmID), meta); err != nil {
			return err
		}
		return x.recomputeUnion(txn)
	})
}

// Clear drops the alarm's identifiers and metadata.
func (x *ChainIndex) Clear(_ context.Context, alarmID uuid.UUID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(chainIDsKey(alarmID)); err != nil {
			return err
		}
		if err := txn.Delete(chainMetaKey(alarmID)); err != nil {
			return err
		}
		return x.recomputeUnion(txn)
	})
}

// RemoveIdentifiers drops only the given identifiers, keeping metadata.
func (x *ChainIndex) RemoveIdentifiers(_ context.Context, alarmID uuid.UUID, identifiers []string) error {
	if len(identifiers) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	drop := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		drop[id] = struct{}{}
	}
	return x.db.Update(func(txn *badger.Txn) error {
		var current []string
		if err := readJSON(txn, chainIDsKey(alarmID), &current); err != nil {
			return err
		}
		kept := make([]string, 0, len(current))
		for _, id := range current {
			if _, gone := drop[id]; !gone {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			if err := txn.Delete(chainIDsKey(alarmID)); err != nil {
				return err
			}
		} else {
			if err := writeJSON(txn, chainIDsKey(alarmID), kept); err != nil {
				return err
			}
		}
		return x.recomputeUnion(txn)
	})
}

// Meta returns the chain metadata, nil without error when absent.
func (x *ChainIndex) Meta(_ context.Context, alarmID uuid.UUID) (*notify.ChainMeta, error) {
	var meta *notify.ChainMeta
	err := x.db.View(func(txn *badger.Txn) error {
		var decoded notify.ChainMeta
		item, err := txn.Get(chainMetaKey(alarmID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &decoded)
		}); err != nil {
			return fmt.Errorf("badgerstore: decode chain meta %s: %w", alarmID, err)
		}
		meta = &decoded
		return nil
	})
	return meta, err
}

// AlarmIDs lists every alarm with identifiers or metadata tracked.
func (x *ChainIndex) AlarmIDs(_ context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	err := x.db.View(func(txn *badger.Txn) error {
		for _, prefix := range []string{chainIDsPrefix, chainMetaPrefix} {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefix)
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				raw := strings.TrimPrefix(string(it.Item().Key()), prefix)
				id, err := uuid.Parse(raw)
				if err != nil {
					continue
				}
				seen[id] = struct{}{}
			}
			it.Close()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

// GlobalUnion returns the derived union of all tracked identifiers.
func (x *ChainIndex) GlobalUnion(_ context.Context) ([]string, error) {
	var union []string
	err := x.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, []byte(chainUnionKey), &union)
	})
	return union, err
}

// recomputeUnion rebuilds the union key from every identifier set in
// the same transaction as the mutation that invalidated it.
func (x *ChainIndex) recomputeUnion(txn *badger.Txn) error {
	var union []string
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(chainIDsPrefix)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			var ids []string
			if err := json.Unmarshal(val, &ids); err != nil {
				return fmt.Errorf("badgerstore: decode identifier set: %w", err)
			}
			union = append(union, ids...)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return writeJSON(txn, []byte(chainUnionKey), union)
}

func readJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("badgerstore: decode %s: %w", key, err)
		}
		return nil
	})
}

func writeJSON(txn *badger.Txn, key []byte, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("badgerstore: marshal %s: %w", key, err)
	}
	return txn.Set(key, payload)
}
