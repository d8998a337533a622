package model

import (
	"encoding/json"
	"time"
)

// LiveEvent is one frame on the live connection. It is never persisted to the
// database; it lives only as long as its slot in a live buffer.
type LiveEvent struct {
	Type      LiveType        `json:"type"`
	Control   string          `json:"control,omitempty"` // set only on server-issued frames
	Sender    string          `json:"sender"`
	Target    string          `json:"target,omitempty"` // component addressed, e.g. a chat id
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// LiveClear marks a frame telling viewers to drop every buffered frame of its
// type. Only the server issues it, so it carries no sender.
const LiveClear = "clear"

// ClearFrame returns the frame announcing that t was cleared.
func ClearFrame(t LiveType, at time.Time) LiveEvent {
	return LiveEvent{Type: t, Control: LiveClear, Timestamp: at}
}

// IsClear reports whether e announces a clear.
func (e LiveEvent) IsClear() bool { return e.Control == LiveClear }
