package audio

import (
	"errors"
	"log"
	"sync"
)

// State of the sound engine.
type State string

const (
	StateIdle       State = "idle"
	StatePrewarming State = "prewarming"
	StateRinging    State = "ringing"
)

// Sink receives playback commands. Real implementations drive hardware;
// tests record calls.
type Sink interface {
	Play(soundName string, volume float64, loop bool) error
	Stop() error
}

// LogSink writes playback commands to the logger. It stands in where
// no audio device is wired, keeping the engine state machine exercised.
type LogSink struct {
	Logger *log.Logger
}

// Play implements Sink.
func (s LogSink) Play(soundName string, volume float64, loop bool) error {
	if s.Logger != nil {
		s.Logger.Printf("audio: play sound=%s volume=%.2f loop=%t", soundName, volume, loop)
	}
	return nil
}

// Stop implements Sink.
func (s LogSink) Stop() error {
	if s.Logger != nil {
		s.Logger.Printf("audio: stop")
	}
	return nil
}

// Engine is the alarm sound state machine: idle -> prewarming -> ringing.
// Prewarming holds the output path warm ahead of the anchor so the first
// ring is not delayed by session startup. A failed enhanced start falls
// back to a direct play rather than silence.
type Engine struct {
	mu     sync.Mutex
	state  State
	sink   Sink
	logger *log.Logger
}

// NewEngine constructs an engine.
func NewEngine(sink Sink, logger *log.Logger) (*Engine, error) {
	if sink == nil {
		return nil, errors.New("audio: nil sink")
	}
	if logger == nil {
		return nil, errors.New("audio: nil logger")
	}
	return &Engine{state: StateIdle, sink: sink, logger: logger}, nil
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Prewarm moves an idle engine to prewarming. A no-op in any other state.
func (e *Engine) Prewarm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateIdle {
		return
	}
	e.state = StatePrewarming
}

// PromoteToRinging starts looped playback from prewarming. If the warm
// path fails it falls back to a cold start before giving up.
func (e *Engine) PromoteToRinging(soundName string, volume float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRinging {
		return nil
	}
	if err := e.sink.Play(soundName, volume, true); err != nil {
		e.logger.Printf("audio: warm start failed, retrying cold: %v", err)
		if err := e.sink.Play(soundName, volume, true); err != nil {
			e.state = StateIdle
			return err
		}
	}
	e.state = StateRinging
	return nil
}

// PlayForegroundAlarm starts looped playback directly from idle,
// bypassing prewarming. Used when a delivery is detected while the
// process is already in the foreground.
func (e *Engine) PlayForegroundAlarm(soundName string, volume float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRinging {
		return nil
	}
	if err := e.sink.Play(soundName, volume, true); err != nil {
		e.state = StateIdle
		return err
	}
	e.state = StateRinging
	return nil
}

// Stop halts playback and returns to idle. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateIdle {
		return
	}
	if err := e.sink.Stop(); err != nil {
		e.logger.Printf("audio: stop error: %v", err)
	}
	e.state = StateIdle
}
