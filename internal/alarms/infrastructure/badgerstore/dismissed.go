package badgerstore

import (
	"context"
	"errors"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"wakeguard/internal/dismissal"
)

const dismissedKeyPrefix = "dismissed:"

// DismissedRegistry is the durable dismissed-occurrence record. Entries
// carry a TTL so the store expires them itself; writes go through the
// database's synchronous-write path, which is what makes the
// mark-before-cleanup ordering in the dismissal flow crash safe.
type DismissedRegistry struct {
	db  *badger.DB
	ttl time.Duration
}

// NewDismissedRegistry constructs a registry with the default TTL.
func NewDismissedRegistry(db *badger.DB) (*DismissedRegistry, error) {
	if db == nil {
		return nil, errors.New("badgerstore: nil database")
	}
	return &DismissedRegistry{db: db, ttl: dismissal.DismissedEntryTTL}, nil
}

func dismissedKey(alarmID uuid.UUID, occurrenceKey string) []byte {
	return []byte(dismissedKeyPrefix + dismissal.RegistryKey(alarmID, occurrenceKey))
}

// MarkDismissed durably records the occurrence as handled.
func (r *DismissedRegistry) MarkDismissed(_ context.Context, alarmID uuid.UUID, occurrenceKey string) error {
	if occurrenceKey == "" {
		return errors.New("badgerstore: empty occurrence key")
	}
	return r.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(dismissedKey(alarmID, occurrenceKey), []byte{1}).WithTTL(r.ttl)
		return txn.SetEntry(entry)
	})
}

// IsDismissed reports whether a live record exists.
func (r *DismissedRegistry) IsDismissed(_ context.Context, alarmID uuid.UUID, occurrenceKey string) (bool, error) {
	var dismissed bool
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(dismissedKey(alarmID, occurrenceKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		dismissed = true
		return nil
	})
	return dismissed, err
}

// CleanupExpired reports the number of live entries removed. The store
// expires TTL entries on its own; this sweep only covers entries from
// database versions written without a TTL.
func (r *DismissedRegistry) CleanupExpired(_ context.Context) (int, error) {
	var stale [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(dismissedKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		now := uint64(time.Now().Unix())
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if item.ExpiresAt() != 0 && item.ExpiresAt() > now {
				continue
			}
			if item.ExpiresAt() == 0 {
				key := append([]byte(nil), item.Key()...)
				if strings.HasPrefix(string(key), dismissedKeyPrefix) {
					stale = append(stale, key)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}
