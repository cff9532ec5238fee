package collab

import (
	"time"

	"github.com/claudio-mas/SGDI-20-sub001/internal/models"
)

// SessionSnapshot is the published view of one collaboration session. Each
// reducer transition produces a fresh snapshot; consumers must treat a
// snapshot as an immutable value, never as a patch target.
type SessionSnapshot struct {
	DocumentID      string
	Participants    map[string]models.Participant
	Cursors         map[string]models.RemoteCursor
	Messages        []models.ChatMessage
	IsConnected     bool
	ConnectionError string
}

func newSnapshot(documentID string) SessionSnapshot {
	return SessionSnapshot{
		DocumentID:   documentID,
		Participants: make(map[string]models.Participant),
		Cursors:      make(map[string]models.RemoteCursor),
		Messages:     nil,
	}
}

// clone deep-copies the snapshot so the previous value stays untouched.
func (s SessionSnapshot) clone() SessionSnapshot {
	next := s
	next.Participants = make(map[string]models.Participant, len(s.Participants))
	for id, p := range s.Participants {
		next.Participants[id] = p
	}
	next.Cursors = make(map[string]models.RemoteCursor, len(s.Cursors))
	for id, c := range s.Cursors {
		next.Cursors[id] = c
	}
	next.Messages = make([]models.ChatMessage, len(s.Messages))
	copy(next.Messages, s.Messages)
	return next
}

// reduce applies one inbound envelope and returns the next snapshot. It is a
// pure function of (state, envelope): no I/O, no clock reads — the effective
// time comes from the envelope, falling back to now for unstamped frames.
//
// Self-echo rule: envelopes originating from localUserID are ignored for every
// type except presence_update, which is server-authoritative. Self-originated
// effects were already applied optimistically at send time; applying the echo
// again would double them.
func reduce(state SessionSnapshot, env *models.Envelope, localUserID string, now time.Time) (SessionSnapshot, error) {
	if env.UserID == localUserID && env.Type != models.EventPresenceUpdate {
		return state, nil
	}

	when := env.Timestamp
	if when.IsZero() {
		when = now
	}

	decoded, err := env.DecodePayload()
	if err != nil {
		return state, err
	}

	switch payload := decoded.(type) {
	case *models.JoinPayload:
		return applyJoin(state, env.UserID, payload, when), nil
	case *models.LeavePayload:
		return applyLeave(state, env.UserID), nil
	case *models.CursorMovePayload:
		return applyCursorMove(state, env.UserID, payload, when), nil
	case *models.CursorHidePayload:
		return applyCursorHide(state, env.UserID), nil
	case *models.ChatMessagePayload:
		return applyChatMessage(state, env.UserID, payload, when), nil
	case *models.StatusChangePayload:
		return applyStatusChange(state, env.UserID, payload, when), nil
	case *models.PresenceUpdatePayload:
		return applyPresenceUpdate(state, payload), nil
	case *models.ErrorPayload:
		next := state.clone()
		next.ConnectionError = payload.Message
		return next, nil
	}

	// document_change is reserved and carries no session-state effect yet.
	return state, nil
}

// applyJoin upserts the participant. A repeated join for the same id replaces
// the existing record instead of duplicating it.
func applyJoin(state SessionSnapshot, userID string, payload *models.JoinPayload, when time.Time) SessionSnapshot {
	next := state.clone()
	next.Participants[userID] = models.Participant{
		ID:           userID,
		User:         payload.User,
		Status:       models.StatusOnline,
		Role:         payload.Role,
		Color:        payload.Color,
		LastActivity: when,
	}
	return next
}

func applyLeave(state SessionSnapshot, userID string) SessionSnapshot {
	if _, known := state.Participants[userID]; !known {
		if _, hasCursor := state.Cursors[userID]; !hasCursor {
			return state
		}
	}
	next := state.clone()
	delete(next.Participants, userID)
	delete(next.Cursors, userID)
	return next
}

// applyCursorMove replaces the participant's cursor. A cursor cannot exist
// for a participant the client has no identity for, so unknown senders are
// dropped.
func applyCursorMove(state SessionSnapshot, userID string, payload *models.CursorMovePayload, when time.Time) SessionSnapshot {
	participant, known := state.Participants[userID]
	if !known {
		return state
	}

	next := state.clone()
	next.Cursors[userID] = models.RemoteCursor{
		ParticipantID: userID,
		Position:      payload.Position,
		LastUpdate:    when,
	}
	participant.LastActivity = when
	next.Participants[userID] = participant
	return next
}

func applyCursorHide(state SessionSnapshot, userID string) SessionSnapshot {
	if _, ok := state.Cursors[userID]; !ok {
		return state
	}
	next := state.clone()
	delete(next.Cursors, userID)
	return next
}

// applyChatMessage appends to the log, resolving display identity from the
// sender's current participant record. Unknown senders are dropped for the
// same reason as cursor_move. The log is append-only: arrival order, no
// dedup by content.
func applyChatMessage(state SessionSnapshot, userID string, payload *models.ChatMessagePayload, when time.Time) SessionSnapshot {
	participant, known := state.Participants[userID]
	if !known {
		return state
	}

	next := state.clone()
	next.Messages = append(next.Messages, models.ChatMessage{
		ID:        payload.MessageID,
		UserID:    userID,
		UserName:  participant.User.Name,
		Avatar:    participant.User.Avatar,
		Color:     participant.Color,
		Content:   payload.Content,
		Timestamp: when,
		Type:      models.ChatTypeMessage,
	})
	return next
}

func applyStatusChange(state SessionSnapshot, userID string, payload *models.StatusChangePayload, when time.Time) SessionSnapshot {
	participant, known := state.Participants[userID]
	if !known {
		return state
	}

	next := state.clone()
	participant.Status = payload.Status
	if payload.IsEditing != nil {
		participant.IsEditing = *payload.IsEditing
	}
	participant.LastActivity = when
	next.Participants[userID] = participant
	return next
}

// applyPresenceUpdate wholesale-replaces the participant set with the
// server-authoritative list. Cursors for participants no longer present are
// left in place; drop-on-unknown means they can never refresh, and consumers
// already fade cursors by LastUpdate.
func applyPresenceUpdate(state SessionSnapshot, payload *models.PresenceUpdatePayload) SessionSnapshot {
	next := state.clone()
	next.Participants = make(map[string]models.Participant, len(payload.Participants))
	for _, p := range payload.Participants {
		next.Participants[p.ID] = p
	}
	return next
}
