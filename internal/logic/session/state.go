package session

import "fmt"

// State is the session lifecycle state. It decides which operations are legal.
type State int

const (
	Idle State = iota
	AwaitingDevice
	Countdown
	Capturing
	Complete
	Failed
)

var stateNames = [...]string{
	Idle:           "idle",
	AwaitingDevice: "awaiting_device",
	Countdown:      "countdown",
	Capturing:      "capturing",
	Complete:       "complete",
	Failed:         "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CameraHeld reports whether the camera is acquired in this state.
func (s State) CameraHeld() bool {
	return s == AwaitingDevice || s == Countdown || s == Capturing
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID        string `json:"id,omitempty"`
	State     State  `json:"state"`
	Countdown int    `json:"countdown,omitempty"`
	Mode      string `json:"mode"`
	Photos    int    `json:"photos"`
	Error     string `json:"error,omitempty"`
}
