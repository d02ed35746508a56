package scheduler

import (
	"log"
	"time"

	"wakeguard/internal/notify"
	"wakeguard/internal/permission"
)

// Select returns the native backend when an alarm daemon is available
// and the notification-chain backend otherwise. The choice is made once
// at construction; callers hold only the AlarmScheduling interface.
func Select(daemon AlarmDaemon, chains ChainOps, index notify.Index, detector ActiveDetector, alarms notify.AlarmLoader, permissions permission.Service, location *time.Location, logger *log.Logger) (AlarmScheduling, error) {
	if daemon != nil {
		return NewNativeBackend(daemon, location, logger)
	}
	return NewChainedBackend(chains, index, detector, alarms, permissions, location, logger)
}
