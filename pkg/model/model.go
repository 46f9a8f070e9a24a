// Package model defines the wire messages exchanged with frontends over
// the local WebSocket connection.
package model

// Message types.
const (
	MessageTypeVolume    = "volume"
	MessageTypeSetVolume = "setVolume"
	MessageTypeError     = "error"
)

// VolumeMessage is pushed to every client on connect and on each effective
// volume transition. Available is false when no output device is present;
// Level is omitted then.
type VolumeMessage struct {
	Type      string  `json:"type"`
	Available bool    `json:"available"`
	Level     float32 `json:"level,omitempty"`
}

// SetVolumeRequest asks the monitor to change the output volume. Level is
// normalized [0,1] and is clamped by the core, not the client.
type SetVolumeRequest struct {
	Type  string  `json:"type"`
	Level float32 `json:"level"`
}

// ErrorMessage reports a rejected request back to its sender.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
