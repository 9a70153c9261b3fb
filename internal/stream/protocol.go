// internal/stream/protocol.go
package stream

import (
	"encoding/json"
	"time"

	"github.com/traintrack-ai/traintrack-cli/internal/job"
)

// MessageType constants define the types of WebSocket messages
const (
	// MessageTypeInitialState is sent from server to client on subscribe
	// with the complete job state
	MessageTypeInitialState = "initial_state"

	// MessageTypeHeartbeat is sent from server to client on the heartbeat pulse
	MessageTypeHeartbeat = "heartbeat"

	// MessageTypeAcknowledge is sent from client to server as a keepalive;
	// it refreshes liveness and carries no other effect
	MessageTypeAcknowledge = "acknowledge"

	// MessageTypeClose is sent from client to server to request an orderly close
	MessageTypeClose = "close"
)

// Frame is a typed server-to-client message: the initial state, the heartbeat
// pulse, or an error. Progress updates deliberately carry no type field and
// use the Update struct instead; clients tell them apart by the presence of
// a status field.
type Frame struct {
	// Type indicates the message type (initial_state, heartbeat)
	Type string `json:"type,omitempty"`

	// Data carries the complete job state for initial_state messages
	Data *job.Snapshot `json:"data,omitempty"`

	// Time is the RFC 3339 server timestamp for heartbeat messages
	Time string `json:"time,omitempty"`

	// Error carries the error detail for error messages
	Error string `json:"error,omitempty"`
}

// Update is one progress frame pushed to observers after the change gate
// approves a snapshot. The terminal frame is the same shape with a terminal
// status plus the result payload or failure detail.
type Update struct {
	ID       string       `json:"id"`
	Kind     job.Kind     `json:"kind"`
	Status   job.Status   `json:"status"`
	Progress job.Progress `json:"progress"`
	Metrics  job.Metrics  `json:"metrics,omitempty"`

	CurrentEpoch int `json:"current_epoch,omitempty"`
	TotalEpochs  int `json:"total_epochs,omitempty"`

	// Search-only fields.
	CurrentTrialInfo *job.Trial  `json:"current_trial_info,omitempty"`
	CurrentTrial     int         `json:"current_trial,omitempty"`
	TotalTrials      int         `json:"total_trials,omitempty"`
	BestTrial        int         `json:"best_trial,omitempty"`
	BestParams       job.Params  `json:"best_params,omitempty"`
	BestMetrics      job.Metrics `json:"best_metrics,omitempty"`

	// Error is the soft error detail while running, or the failure reason
	// on the terminal frame.
	Error string `json:"error,omitempty"`

	// Result is the final payload, present only on the completed frame.
	Result map[string]any `json:"result,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ClientMessage is a message sent from the observer to the server
type ClientMessage struct {
	// Type indicates the message type (acknowledge, close)
	Type string `json:"type"`
}

// NewInitialState creates the initial state message for a fresh subscriber
func NewInitialState(snap job.Snapshot) *Frame {
	return &Frame{
		Type: MessageTypeInitialState,
		Data: &snap,
	}
}

// NewHeartbeat creates a heartbeat message stamped with the given time
func NewHeartbeat(now time.Time) *Frame {
	return &Frame{
		Type: MessageTypeHeartbeat,
		Time: now.UTC().Format(time.RFC3339),
	}
}

// NewErrorFrame creates an error message
func NewErrorFrame(detail string) *Frame {
	return &Frame{
		Error: detail,
	}
}

// NewUpdate creates a progress update from a gated snapshot
func NewUpdate(snap job.Snapshot) *Update {
	return &Update{
		ID:               snap.ID,
		Kind:             snap.Kind,
		Status:           snap.Status,
		Progress:         snap.Progress,
		Metrics:          snap.Metrics,
		CurrentEpoch:     snap.CurrentEpoch,
		TotalEpochs:      snap.TotalEpochs,
		CurrentTrialInfo: snap.CurrentTrialInfo(),
		CurrentTrial:     snap.CurrentTrial,
		TotalTrials:      snap.TotalTrials,
		BestTrial:        snap.BestTrial,
		BestParams:       snap.BestParams,
		BestMetrics:      snap.BestMetrics,
		Error:            snap.Error,
		Result:           snap.Result,
		UpdatedAt:        snap.UpdatedAt,
	}
}

// Marshal serializes the frame to JSON
func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// Marshal serializes the update to JSON
func (u *Update) Marshal() ([]byte, error) {
	return json.Marshal(u)
}

// UnmarshalClientMessage deserializes a JSON client message
func UnmarshalClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrInvalidMessage
	}
	return &msg, nil
}

// Validate checks that the client message is well-formed
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case MessageTypeAcknowledge, MessageTypeClose:
		return nil
	default:
		return ErrInvalidMessageType
	}
}
