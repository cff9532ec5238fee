package models

import "time"

// ParticipantStatus describes how active a participant currently is.
type ParticipantStatus string

const (
	StatusOnline  ParticipantStatus = "online"
	StatusIdle    ParticipantStatus = "idle"
	StatusOffline ParticipantStatus = "offline"
)

// ParticipantRole governs UI affordances only; the session core carries the
// role but never enforces permissions.
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleEditor ParticipantRole = "editor"
	RoleViewer ParticipantRole = "viewer"
)

// UserInfo is the display identity of a user, supplied by the surrounding
// auth/session context. The session core never performs login itself.
type UserInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Participant is a user currently associated with a collaboration session.
type Participant struct {
	ID           string            `json:"id"`
	User         UserInfo          `json:"user"`
	Status       ParticipantStatus `json:"status"`
	Role         ParticipantRole   `json:"role"`
	Color        string            `json:"color"` // assigned at join, stable for the session
	LastActivity time.Time         `json:"lastActivity"`
	IsEditing    bool              `json:"isEditing"`
}

// CursorPosition is a 2D coordinate with an optional logical anchor for
// non-pixel-accurate placement.
type CursorPosition struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	ElementID  string  `json:"elementId,omitempty"`
	TextOffset *int    `json:"textOffset,omitempty"`
}

// RemoteCursor is the ephemeral pointer location of one participant.
//
// The core never expires cursors on its own: a participant who stops moving
// without sending cursor_hide leaves the last position in place. Consumers
// are expected to fade cursors based on LastUpdate.
type RemoteCursor struct {
	ParticipantID string         `json:"participantId"`
	Position      CursorPosition `json:"position"`
	LastUpdate    time.Time      `json:"lastUpdate"`
}

// ChatMessageType distinguishes human messages from informational ones.
type ChatMessageType string

const (
	ChatTypeMessage ChatMessageType = "message"
	ChatTypeSystem  ChatMessageType = "system"
)

// ChatMessage is one entry in the session chat log. Display identity fields
// are captured at message time, not live references — a later rename does not
// rewrite history.
type ChatMessage struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	UserName  string          `json:"userName"`
	Avatar    string          `json:"avatar,omitempty"`
	Color     string          `json:"color,omitempty"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Type      ChatMessageType `json:"type"`
}
