// Package wire defines the JSON envelope exchanged over a pulse websocket
// connection. It is a pure contract; behaviour lives in the relay and
// session packages.
package wire

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// MessageType enumerates the frame vocabulary.
type MessageType string

// Inbound (client to server) frame types. Text, RoomMessage and Broadcast
// also appear outbound, on echo acks and relayed fan-out.
const (
	Text        MessageType = "text"
	JoinRoom    MessageType = "join_room"
	LeaveRoom   MessageType = "leave_room"
	RoomMessage MessageType = "room_message"
	Broadcast   MessageType = "broadcast"
)

// Outbound-only (server to client) frame types
const (
	Info         MessageType = "info"
	Error        MessageType = "error"
	Notification MessageType = "notification"
)

// Level is the severity attached to a notification frame.
type Level string

// Notification severity levels
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// ErrMissingRoom is returned when a room operation omits the room field.
var ErrMissingRoom = errors.New("room name is required")

// Message is an inbound frame from a client.
type Message struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
	Room string      `json:"room,omitempty"`
}

// Response is an outbound frame to a client. Every Response is independently
// interpretable; clients need no memory of prior frames to act on one.
type Response struct {
	Type    MessageType            `json:"type"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Room    string                 `json:"room,omitempty"`
}

// ParseMessage decodes and validates one inbound frame.
func ParseMessage(data []byte) (Message, error) {

	var m Message

	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("invalid message format: %w", err)
	}

	switch m.Type {
	case Text, Broadcast:
		return m, nil
	case JoinRoom, LeaveRoom, RoomMessage:
		if m.Room == "" {
			return Message{}, ErrMissingRoom
		}
		return m, nil
	default:
		return Message{}, fmt.Errorf("unknown message type: %s", m.Type)
	}
}

// Marshal encodes an outbound frame.
func (r Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// IsNotification reports whether the frame carries the notification flag
// that drives client-side toast creation.
func (r Response) IsNotification() bool {
	if r.Data == nil {
		return false
	}
	flagged, ok := r.Data["notification"].(bool)
	return ok && flagged
}

// Level extracts the severity from a notification frame, defaulting to info.
func (r Response) Level() Level {
	if r.Data != nil {
		if s, ok := r.Data["level"].(string); ok {
			return Level(s)
		}
	}
	return LevelInfo
}

// NewNotification builds a notification-flagged frame. The payload is opaque
// application data merged into the data object alongside the level and flag.
func NewNotification(message string, level Level, payload map[string]interface{}, room string) Response {

	data := make(map[string]interface{}, len(payload)+2)

	for k, v := range payload {
		data[k] = v
	}

	data["level"] = string(level)
	data["notification"] = true

	return Response{
		Type:    Notification,
		Message: message,
		Data:    data,
		Room:    room,
	}
}

// NewError builds an error frame for reporting protocol errors to a sender.
func NewError(message string) Response {
	return Response{Type: Error, Message: message}
}

// NewInfo builds an info frame, optionally carrying data.
func NewInfo(message string, data map[string]interface{}) Response {
	return Response{Type: Info, Message: message, Data: data}
}

// NewRoomAck builds the acknowledgement for a join/leave operation. It
// carries the connection's full current room list so the client can
// resynchronise its mirrored set rather than trust the ack alone.
func NewRoomAck(message, room string, rooms []string) Response {
	return Response{
		Type:    Info,
		Message: message,
		Room:    room,
		Data:    map[string]interface{}{"rooms": rooms},
	}
}
