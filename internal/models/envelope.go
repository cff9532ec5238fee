package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates every kind of envelope the collaboration protocol
// carries. The set is closed: decoding rejects anything outside it.
type EventType string

const (
	EventJoin           EventType = "join"
	EventLeave          EventType = "leave"
	EventCursorMove     EventType = "cursor_move"
	EventCursorHide     EventType = "cursor_hide"
	EventChatMessage    EventType = "chat_message"
	EventStatusChange   EventType = "status_change"
	EventDocumentChange EventType = "document_change" // reserved; carried but never applied
	EventPresenceUpdate EventType = "presence_update"
	EventError          EventType = "error"
)

// Envelope is the wire-level wrapper for every protocol message, identical in
// both directions. Payload stays raw until DecodePayload resolves it against
// Type, so a malformed payload can be dropped without trusting any of it.
type Envelope struct {
	Type       EventType       `json:"type"`
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Payload shapes, one per event type.

type JoinPayload struct {
	User  UserInfo        `json:"user"`
	Role  ParticipantRole `json:"role"`
	Color string          `json:"color"`
}

type LeavePayload struct {
	UserID string `json:"userId"`
}

type CursorMovePayload struct {
	Position CursorPosition `json:"position"`
}

type CursorHidePayload struct{}

type ChatMessagePayload struct {
	Content   string `json:"content"`
	MessageID string `json:"messageId"`
}

type StatusChangePayload struct {
	Status    ParticipantStatus `json:"status"`
	IsEditing *bool             `json:"isEditing,omitempty"`
}

type PresenceUpdatePayload struct {
	Participants []Participant `json:"participants"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEnvelope builds an outbound envelope, stamping the current time and
// marshaling the payload.
func NewEnvelope(eventType EventType, documentID, userID string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return &Envelope{
		Type:       eventType,
		DocumentID: documentID,
		UserID:     userID,
		Timestamp:  time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses one wire frame. It validates the outer schema only;
// callers decode the payload separately so an envelope with a bad payload is
// still attributable to a type and user in logs.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	if !env.Type.Valid() {
		return nil, fmt.Errorf("decode envelope: unknown event type %q", env.Type)
	}
	if env.DocumentID == "" {
		return nil, fmt.Errorf("decode envelope: missing documentId")
	}
	if env.UserID == "" {
		return nil, fmt.Errorf("decode envelope: missing userId")
	}

	return &env, nil
}

// Valid reports whether t is a member of the protocol's event-type set.
func (t EventType) Valid() bool {
	switch t {
	case EventJoin, EventLeave, EventCursorMove, EventCursorHide,
		EventChatMessage, EventStatusChange, EventDocumentChange,
		EventPresenceUpdate, EventError:
		return true
	}
	return false
}

// DecodePayload resolves the raw payload into the typed record for the
// envelope's event type. The result is one of the *Payload structs above;
// an exhaustive type switch over the return value covers every event kind.
func (e *Envelope) DecodePayload() (interface{}, error) {
	switch e.Type {
	case EventJoin:
		return decodeAs[JoinPayload](e)
	case EventLeave:
		return decodeAs[LeavePayload](e)
	case EventCursorMove:
		return decodeAs[CursorMovePayload](e)
	case EventCursorHide:
		return decodeAs[CursorHidePayload](e)
	case EventChatMessage:
		return decodeAs[ChatMessagePayload](e)
	case EventStatusChange:
		return decodeAs[StatusChangePayload](e)
	case EventDocumentChange:
		// Reserved for future document sync; the payload shape is not
		// specified yet, so it passes through untyped.
		return e.Payload, nil
	case EventPresenceUpdate:
		return decodeAs[PresenceUpdatePayload](e)
	case EventError:
		return decodeAs[ErrorPayload](e)
	}
	return nil, fmt.Errorf("decode payload: unknown event type %q", e.Type)
}

func decodeAs[T any](e *Envelope) (*T, error) {
	var payload T
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
	}
	return &payload, nil
}
