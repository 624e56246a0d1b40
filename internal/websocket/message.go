package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexibleTime handles both Unix millisecond timestamps and RFC3339 strings
type FlexibleTime struct {
	time.Time
}

// UnmarshalJSON implements custom unmarshaling for timestamps
func (ft *FlexibleTime) UnmarshalJSON(b []byte) error {
	// Try to unmarshal as Unix milliseconds (integer)
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		ft.Time = time.UnixMilli(ms)
		return nil
	}

	// Fall back to RFC3339 string format
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("timestamp must be Unix milliseconds (integer) or RFC3339 string")
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	ft.Time = t
	return nil
}

// MarshalJSON implements custom marshaling (always output as RFC3339)
func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Time)
}

// Message types for WebSocket communication
const (
	// System / connection lifecycle
	MessageTypeSystem = "system"
	MessageTypePing   = "ping"
	MessageTypePong   = "pong"
	MessageTypeError  = "error"
	MessageTypeAuth   = "auth"

	// Collaborative editing protocol, per the Session Manager's client
	// protocol: Join/Submit/Leave from the client, RemoteOp/Participant/
	// Resync pushed from the server.
	MessageTypeJoin        = "join"
	MessageTypeJoinAck     = "join_ack"
	MessageTypeSubmit      = "submit"
	MessageTypeSubmitAck   = "submit_ack"
	MessageTypeSubmitReject = "submit_reject"
	MessageTypeRemoteOp    = "remote_op"
	MessageTypeParticipant = "participant"
	MessageTypeResync      = "resync"
)

// Message represents a WebSocket message
type Message struct {
	// Type identifies the message type for routing
	Type string `json:"type"`

	// Payload contains the message-specific data
	Payload interface{} `json:"payload,omitempty"`

	// ID is a unique message identifier for acknowledgment
	ID string `json:"id,omitempty"`

	// ReplyTo references the original message ID for responses
	ReplyTo string `json:"reply_to,omitempty"`

	// Timestamp when the message was created (accepts Unix ms or RFC3339)
	Timestamp FlexibleTime `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewMessageWithID creates a new message with a specific ID
func NewMessageWithID(msgType string, id string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		ID:        id,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewReply creates a reply message to an original message
func NewReply(original *Message, msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		ReplyTo:   original.ID,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(code string, message string) *Message {
	return &Message{
		Type: MessageTypeError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// ErrorPayload represents an error message payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PingPayload represents a ping message payload
type PingPayload struct {
	ClientTime int64 `json:"client_time"`
}

// PongPayload represents a pong message payload
type PongPayload struct {
	ClientTime int64 `json:"client_time"`
	ServerTime int64 `json:"server_time"`
	Latency    int64 `json:"latency_ms"`
}

// AuthPayload represents authentication message payload
type AuthPayload struct {
	Token  string `json:"token,omitempty"`
	UserID string `json:"user_id,omitempty"`
	Status string `json:"status,omitempty"` // "authenticated" on a successful auth
	Error  string `json:"error,omitempty"`
}

// ParsePayload unmarshals the payload into a specific type
func (m *Message) ParsePayload(target interface{}) error {
	// Nothing to decode: leave target untouched
	if m.Payload == nil {
		return nil
	}

	// Re-marshal and unmarshal to properly type the payload
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// JoinPayload requests enrollment in a document's collaboration session.
type JoinPayload struct {
	DocumentID string `json:"document_id"`
	Role       string `json:"role"` // "owner" | "editor" | "viewer"
}

// JoinAckPayload returns a document's current state to a newly joined
// session.
type JoinAckPayload struct {
	DocumentID   string `json:"document_id"`
	Content      string `json:"content"`
	Version      uint64 `json:"version"`
	Participants int    `json:"participants"`
}

// OperationPayload carries a single OT operation over the wire, independent
// of internal/ot.Operation's in-process representation so the wire schema
// doesn't change shape every time the internal type grows a field.
type OperationPayload struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"document_id"`
	AuthorID    string         `json:"author_id"`
	ClientID    string         `json:"client_id,omitempty"`
	Kind        string         `json:"kind"` // "insert" | "delete" | "retain" | "format"
	Position    int            `json:"position"`
	Text        string         `json:"text,omitempty"`
	Length      int            `json:"length,omitempty"`
	Attrs       map[string]any `json:"attrs,omitempty"`
	Seq         uint64         `json:"seq"`
	BaseVersion uint64         `json:"base_version"`
	Timestamp   int64          `json:"timestamp,omitempty"`
}

// SubmitAckPayload confirms a submitted operation committed successfully.
type SubmitAckPayload struct {
	OpID       string `json:"op_id"`
	NewVersion uint64 `json:"new_version"`
}

// SubmitRejectPayload reports why a submitted operation was not committed.
type SubmitRejectPayload struct {
	OpID   string `json:"op_id"`
	Reason string `json:"reason"`
}

// RemoteOpPayload pushes another session's committed operation to this
// client.
type RemoteOpPayload struct {
	Operation  OperationPayload `json:"operation"`
	NewVersion uint64           `json:"new_version"`
}

// ParticipantPayload announces a join or leave on the document.
type ParticipantPayload struct {
	AuthorID string `json:"author_id"`
	Joined   bool   `json:"joined"`
}

// ResyncPayload tells a client its sequence stream has an unrecoverable gap
// and it must rejoin to get a fresh snapshot.
type ResyncPayload struct {
	AuthorID    string `json:"author_id"`
	ExpectedSeq uint64 `json:"expected_seq"`
}
