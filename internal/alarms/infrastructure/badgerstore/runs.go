package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
)

const runKeyPrefix = "run:"

// RunStore is the append-only run log. Re-appending a run with the same
// id replaces the earlier record, which closes out a run without a
// separate update operation.
type RunStore struct {
	db *badger.DB
}

// NewRunStore constructs a run store.
func NewRunStore(db *badger.DB) (*RunStore, error) {
	if db == nil {
		return nil, errors.New("badgerstore: nil database")
	}
	return &RunStore{db: db}, nil
}

func runKey(alarmID, runID uuid.UUID) []byte {
	return []byte(runKeyPrefix + alarmID.String() + ":" + runID.String())
}

// AppendRun writes the run record.
func (s *RunStore) AppendRun(_ context.Context, run domain.AlarmRun) error {
	if run.ID == uuid.Nil || run.AlarmID == uuid.Nil {
		return domain.ErrInvalidConfiguration
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("badgerstore: marshal run: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(run.AlarmID, run.ID), payload)
	})
}

// LoadRuns returns all runs, most recent firing first.
func (s *RunStore) LoadRuns(ctx context.Context) ([]domain.AlarmRun, error) {
	return s.loadRuns(ctx, runKeyPrefix)
}

// RunsFor returns one alarm's runs, most recent firing first.
func (s *RunStore) RunsFor(ctx context.Context, alarmID uuid.UUID) ([]domain.AlarmRun, error) {
	return s.loadRuns(ctx, runKeyPrefix+alarmID.String()+":")
}

func (s *RunStore) loadRuns(_ context.Context, prefix string) ([]domain.AlarmRun, error) {
	var runs []domain.AlarmRun
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var run domain.AlarmRun
				if err := json.Unmarshal(val, &run); err != nil {
					return fmt.Errorf("badgerstore: decode run: %w", err)
				}
				runs = append(runs, run)
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
	sort.Slice(runs, func(i, j int) bool { return runs[i].FiredAt.After(runs[j].FiredAt) })
	return runs, nil
}

// CleanupIncompleteRuns sweeps runs open past the stale threshold with
// no dismissal record to a closed failed outcome and reports how many
// were swept. Run on startup so a crash mid-ring still produces an
// honest history.
func (s *RunStore) CleanupIncompleteRuns(ctx context.Context, now time.Time) (int, error) {
	runs, err := s.LoadRuns(ctx)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, run := range runs {
		if !run.Open || !run.Stale(now, domain.StaleRunThreshold) {
			continue
		}
		closed := run.Closed()
		closed.Outcome = domain.RunOutcomeFailed
		if err := s.AppendRun(ctx, closed); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}
