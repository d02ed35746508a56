// Package postgres provides the optional long-term run archive. The
// embedded store stays the source of truth; the archive mirrors closed
// runs into Postgres for reporting across devices and reinstalls.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
)

const runArchiveSchema = `
CREATE TABLE IF NOT EXISTS alarm_runs (
	id             UUID PRIMARY KEY,
	alarm_id       UUID NOT NULL,
	occurrence_key TEXT NOT NULL,
	fired_at       TIMESTAMPTZ NOT NULL,
	dismissed_at   TIMESTAMPTZ,
	outcome        TEXT NOT NULL,
	open           BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS alarm_runs_alarm_fired_idx ON alarm_runs (alarm_id, fired_at DESC);
`

// RunArchive mirrors alarm runs into Postgres.
type RunArchive struct {
	db *sql.DB
}

// NewRunArchive constructs an archive.
func NewRunArchive(db *sql.DB) (*RunArchive, error) {
	if db == nil {
		return nil, errors.New("run archive: nil db")
	}
	return &RunArchive{db: db}, nil
}

// EnsureSchema creates the archive table when absent.
func (a *RunArchive) EnsureSchema(ctx context.Context) error {
	if a == nil || a.db == nil {
		return errors.New("run archive: nil db")
	}
	_, err := a.db.ExecContext(ctx, runArchiveSchema)
	return err
}

// ArchiveRun upserts one run. Re-archiving a run that was closed after
// an earlier mirror replaces the open record.
func (a *RunArchive) ArchiveRun(ctx context.Context, run domain.AlarmRun) error {
	if a == nil || a.db == nil {
		return errors.New("run archive: nil db")
	}
	if run.ID == uuid.Nil || run.AlarmID == uuid.Nil {
		return errors.New("run archive: run without identity")
	}
	var dismissedAt sql.NullTime
	if run.DismissedAt != nil {
		dismissedAt = sql.NullTime{Time: run.DismissedAt.UTC(), Valid: true}
	}
	_, err := a.db.ExecContext(ctx, `
INSERT INTO alarm_runs (id, alarm_id, occurrence_key, fired_at, dismissed_at, outcome, open)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	dismissed_at = EXCLUDED.dismissed_at,
	outcome = EXCLUDED.outcome,
	open = EXCLUDED.open`,
		run.ID, run.AlarmID, run.OccurrenceKey, run.FiredAt.UTC(), dismissedAt,
		string(run.Outcome), run.Open)
	return err
}

// RunsFor loads an alarm's archived runs, most recent first.
func (a *RunArchive) RunsFor(ctx context.Context, alarmID uuid.UUID) ([]domain.AlarmRun, error) {
	if a == nil || a.db == nil {
		return nil, errors.New("run archive: nil db")
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT id, alarm_id, occurrence_key, fired_at, dismissed_at, outcome, open
FROM alarm_runs
WHERE alarm_id = $1
ORDER BY fired_at DESC`, alarmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Runs loads the most recent archived runs across all alarms.
func (a *RunArchive) Runs(ctx context.Context, limit int) ([]domain.AlarmRun, error) {
	if a == nil || a.db == nil {
		return nil, errors.New("run archive: nil db")
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT id, alarm_id, occurrence_key, fired_at, dismissed_at, outcome, open
FROM alarm_runs
ORDER BY fired_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// SuccessRateSince reports the share of archived runs closed as success
// since the cutoff. Returns 0 with no error when nothing is archived.
func (a *RunArchive) SuccessRateSince(ctx context.Context, since time.Time) (float64, error) {
	if a == nil || a.db == nil {
		return 0, errors.New("run archive: nil db")
	}
	row := a.db.QueryRowContext(ctx, `
SELECT COUNT(*) FILTER (WHERE outcome = 'success'), COUNT(*)
FROM alarm_runs
WHERE fired_at >= $1`, since.UTC())
	var succeeded, total int
	if err := row.Scan(&succeeded, &total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(succeeded) / float64(total), nil
}

func scanRuns(rows *sql.Rows) ([]domain.AlarmRun, error) {
	var result []domain.AlarmRun
	for rows.Next() {
		var run domain.AlarmRun
		var dismissedAt sql.NullTime
		var outcome string
		if err := rows.Scan(
			&run.ID,
			&run.AlarmID,
			&run.OccurrenceKey,
			&run.FiredAt,
			&dismissedAt,
			&outcome,
			&run.Open,
		); err != nil {
			return nil, err
		}
		run.FiredAt = run.FiredAt.UTC()
		if dismissedAt.Valid {
			at := dismissedAt.Time.UTC()
			run.DismissedAt = &at
		}
		run.Outcome = domain.RunOutcome(outcome)
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
