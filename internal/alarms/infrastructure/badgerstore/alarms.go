package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
)

const alarmKeyPrefix = "alarm:"

// AlarmStore persists alarms.
type AlarmStore struct {
	db *badger.DB
}

// NewAlarmStore constructs an alarm store.
func NewAlarmStore(db *badger.DB) (*AlarmStore, error) {
	if db == nil {
		return nil, errors.New("badgerstore: nil database")
	}
	return &AlarmStore{db: db}, nil
}

func alarmKey(id uuid.UUID) []byte {
	return []byte(alarmKeyPrefix + id.String())
}

// Save writes the alarm, replacing any previous version.
func (s *AlarmStore) Save(_ context.Context, alarm domain.Alarm) error {
	if alarm.ID == uuid.Nil {
		return domain.ErrInvalidConfiguration
	}
	payload, err := json.Marshal(alarm)
	if err != nil {
		return fmt.Errorf("badgerstore: marshal alarm: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(alarmKey(alarm.ID), payload)
	})
}

// Alarm loads one alarm. Nil without error when absent.
func (s *AlarmStore) Alarm(_ context.Context, id uuid.UUID) (*domain.Alarm, error) {
	var alarm *domain.Alarm
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(alarmKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded domain.Alarm
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("badgerstore: decode alarm %s: %w", id, err)
			}
			alarm = &decoded
			return nil
		})
	})
	return alarm, err
}

// Alarms loads every alarm, sorted by creation time.
func (s *AlarmStore) Alarms(_ context.Context) ([]domain.Alarm, error) {
	var alarms []domain.Alarm
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(alarmKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var alarm domain.Alarm
				if err := json.Unmarshal(val, &alarm); err != nil {
					return fmt.Errorf("badgerstore: decode alarm: %w", err)
				}
				alarms = append(alarms, alarm)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(alarms, func(i, j int) bool { return alarms[i].CreatedAt.Before(alarms[j].CreatedAt) })
	return alarms, nil
}

// Delete removes an alarm. Unknown ids are not an error.
func (s *AlarmStore) Delete(_ context.Context, id uuid.UUID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(alarmKey(id))
	})
}
