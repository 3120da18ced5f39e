package web

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/BoothGo/internal/logic/session"
)

// ShotValue is the value of a "shot" event.
type ShotValue struct {
	Shot  int  `json:"shot"`
	Total int  `json:"total"`
	OK    bool `json:"ok"`
}

// SessionEvents turns session signals into status stream events.
type SessionEvents struct {
	b *StatusBroadcaster

	mu        sync.Mutex
	lastState session.State
}

// NewSessionEvents creates a session observer publishing on b.
func NewSessionEvents(b *StatusBroadcaster) *SessionEvents {
	return &SessionEvents{b: b}
}

// SessionChanged publishes a state event on transitions and a countdown event while counting.
func (e *SessionEvents) SessionChanged(s session.Snapshot) {
	e.mu.Lock()
	changed := s.State != e.lastState
	e.lastState = s.State
	e.mu.Unlock()

	if changed {
		level, msg := "info", "Session "+s.State.String()
		if s.State == session.Failed {
			level = "error"
			if s.Error != "" {
				msg += ": " + s.Error
			}
		}
		e.b.Publish(StatusEvent{Kind: KindState, Level: level, Msg: msg, Value: s, Session: s.ID})
	}
	if s.State == session.Countdown {
		e.b.Publish(StatusEvent{Kind: KindCountdown, Value: s.Countdown, Session: s.ID})
	}
}

// Flash publishes the start and end of the flash cue.
func (e *SessionEvents) Flash(id string, on bool) {
	e.b.Publish(StatusEvent{Kind: KindFlash, Value: on, Session: id})
}

// Shot publishes a captured or skipped photo.
func (e *SessionEvents) Shot(id string, shot, total int, err error) {
	evt := StatusEvent{
		Kind:    KindShot,
		Level:   "info",
		Msg:     fmt.Sprintf("Photo %d/%d captured", shot, total),
		Value:   ShotValue{Shot: shot, Total: total, OK: err == nil},
		Session: id,
	}
	if err != nil {
		evt.Level = "warn"
		evt.Msg = fmt.Sprintf("Photo %d/%d skipped: %v", shot, total, err)
	}
	e.b.Publish(evt)
}
