package websocket

import (
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/storage"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Server to client
	MessageTypeAuthSuccess        MessageType = "auth_success"
	MessageTypeAuthFailed         MessageType = "auth_failed"
	MessageTypeStatusUpdate       MessageType = "status_update"
	MessageTypeSingleStatusUpdate MessageType = "single_status_update"
	MessageTypeSystemStatus       MessageType = "system_status"
	MessageTypePing               MessageType = "ping"
	MessageTypeError              MessageType = "error"

	// Client to server
	MessageTypeAuth              MessageType = "auth"
	MessageTypeSubscribeStatus   MessageType = "subscribe_status"
	MessageTypeRequestFullUpdate MessageType = "request_full_update"
	MessageTypePong              MessageType = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type       MessageType `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data,omitempty"`
	TotalCount *int        `json:"total_count,omitempty"`
}

// ClientMessage is what dashboards send.
type ClientMessage struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token,omitempty"`
}

type AuthData struct {
	Username    string   `json:"username,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// SingleStatusData is the compact change notification for one pad.
type SingleStatusData struct {
	PadCode       string    `json:"pad_code"`
	CurrentStatus string    `json:"current_status"`
	RunCount      int       `json:"run_count"`
	SuccessCount  int       `json:"success_count"`
	ErrorCount    int       `json:"error_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewStatusUpdateMessage(records []storage.PadStatus) Message {
	if records == nil {
		records = []storage.PadStatus{}
	}
	msg := NewMessage(MessageTypeStatusUpdate, records)
	n := len(records)
	msg.TotalCount = &n
	return msg
}

func NewSingleStatusMessage(rec storage.PadStatus) Message {
	return NewMessage(MessageTypeSingleStatusUpdate, SingleStatusData{
		PadCode:       rec.PadCode,
		CurrentStatus: rec.CurrentStatus,
		RunCount:      rec.RunCount,
		SuccessCount:  rec.SuccessCount,
		ErrorCount:    rec.ErrorCount,
		UpdatedAt:     rec.UpdatedAt,
	})
}

// NewSystemStatusMessage wraps the lifecycle manager's status summary.
func NewSystemStatusMessage(status any) Message {
	return NewMessage(MessageTypeSystemStatus, status)
}
