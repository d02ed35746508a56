package audio

import "sync"

// ReliabilityMode selects how aggressively the engine backs up the
// notification chain with audible ringing.
type ReliabilityMode string

const (
	ModeNotificationsOnly      ReliabilityMode = "notificationsOnly"
	ModeNotificationsPlusAudio ReliabilityMode = "notificationsPlusAudio"
)

// ReliabilityProvider exposes the current mode plus the
// suppress-while-foregrounded flag consumed by the dismissal flow.
type ReliabilityProvider interface {
	Mode() ReliabilityMode
	SuppressForegroundSound() bool
}

// Settings is a mutable in-process reliability configuration.
type Settings struct {
	mu       sync.RWMutex
	mode     ReliabilityMode
	suppress bool
}

// NewSettings constructs reliability settings.
func NewSettings(mode ReliabilityMode, suppressForeground bool) *Settings {
	if mode != ModeNotificationsOnly && mode != ModeNotificationsPlusAudio {
		mode = ModeNotificationsPlusAudio
	}
	return &Settings{mode: mode, suppress: suppressForeground}
}

// Mode returns the current reliability mode.
func (s *Settings) Mode() ReliabilityMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SuppressForegroundSound reports whether ringing audio is muted while
// the app is foregrounded.
func (s *Settings) SuppressForegroundSound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suppress
}

// SetMode updates the reliability mode.
func (s *Settings) SetMode(mode ReliabilityMode) {
	if mode != ModeNotificationsOnly && mode != ModeNotificationsPlusAudio {
		return
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// SetSuppressForegroundSound updates the suppression flag.
func (s *Settings) SetSuppressForegroundSound(suppress bool) {
	s.mu.Lock()
	s.suppress = suppress
	s.mu.Unlock()
}
