package ws

import "github.com/tberthier/minstrel/internal/status"

// MessageType identifies an outbound frame.
type MessageType string

const (
	MsgSubscribed MessageType = "subscribed"
	MsgSongStatus MessageType = "song_status"
	MsgError      MessageType = "error"
	MsgPong       MessageType = "pong"
)

// Message is the envelope for every outbound frame.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// EventKind identifies an inbound client frame.
type EventKind string

const (
	EventSubscribe   EventKind = "subscribe"
	EventUnsubscribe EventKind = "unsubscribe"
	EventPing        EventKind = "ping"
)

// Event is an inbound client frame. Frames with an unknown kind are
// logged and ignored.
type Event struct {
	Kind   EventKind `json:"event"`
	TaskID string    `json:"task_id,omitempty"`
	Token  string    `json:"token,omitempty"`
}

// Error codes carried by ErrorPayload.
const (
	CodeAuthRequired  = "AUTH_REQUIRED"
	CodeForbidden     = "FORBIDDEN"
	CodeMissingTaskID = "MISSING_TASK_ID"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SubscribedPayload struct {
	TaskID string `json:"task_id"`
}

// StatusPayload is one status snapshot on the wire.
type StatusPayload struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	AudioURL string `json:"audio_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func statusPayload(snap status.Snapshot) StatusPayload {
	return StatusPayload{
		TaskID:   snap.TaskID,
		Status:   string(snap.Status),
		Progress: snap.Progress,
		AudioURL: snap.AudioURL,
		Error:    snap.Error,
	}
}
