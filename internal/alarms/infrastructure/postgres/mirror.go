package postgres

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/eventing"
)

// RunSource looks up runs by alarm in the primary store.
type RunSource interface {
	RunsFor(ctx context.Context, alarmID uuid.UUID) ([]domain.AlarmRun, error)
}

// RunMirror subscribes to run events and mirrors the affected run into
// the archive. Mirroring is best effort: an archive outage never blocks
// a dismissal.
type RunMirror struct {
	archive *RunArchive
	runs    RunSource
	logger  *log.Logger
}

// NewRunMirror constructs a mirror.
func NewRunMirror(archive *RunArchive, runs RunSource, logger *log.Logger) (*RunMirror, error) {
	if archive == nil || runs == nil {
		return nil, errors.New("run mirror: nil dependency")
	}
	if logger == nil {
		return nil, errors.New("run mirror: nil logger")
	}
	return &RunMirror{archive: archive, runs: runs, logger: logger}, nil
}

// Register attaches the mirror to the bus.
func (m *RunMirror) Register(bus eventing.EventBus) {
	if m == nil || bus == nil {
		return
	}
	bus.Subscribe(eventing.EventTypeOf[eventing.RunRecorded](), func(ctx context.Context, event any) error {
		recorded, ok := event.(eventing.RunRecorded)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		if err := m.mirror(ctx, recorded); err != nil {
			m.logger.Printf("run mirror: archive of %s failed: %v", recorded.RunID, err)
		}
		return nil
	})
}

func (m *RunMirror) mirror(ctx context.Context, recorded eventing.RunRecorded) error {
	runs, err := m.runs.RunsFor(ctx, recorded.AlarmID)
	if err != nil {
		return err
	}
	for _, run := range runs {
		if run.ID == recorded.RunID {
			return m.archive.ArchiveRun(ctx, run)
		}
	}
	return errors.New("run mirror: run not found in primary store")
}
