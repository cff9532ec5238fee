package relay

import (
	"log"
	"sync"
	"time"

	"github.com/claudio-mas/SGDI-20-sub001/internal/models"
)

/*
RELAY HUB

Server-side counterpart of the collaboration session core. One room per
document id. The hub relays envelopes between the room's connections and owns
the authoritative presence registry: joins, leaves, and status changes update
it, and every membership change fans a presence_update out to the whole room
so clients can resynchronize after reconnecting.

All room and presence mutations run on the hub's single event loop goroutine;
register/unregister/inbound envelopes arrive over channels.
*/

// RelayUserID marks envelopes originated by the relay itself
// (presence_update, error).
const RelayUserID = "relay"

// Hub coordinates all active rooms.
type Hub struct {
	rooms map[string]map[*Client]bool
	mu    sync.RWMutex

	// Authoritative presence, documentID -> userID -> participant.
	presence   map[string]map[string]models.Participant
	presenceMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	events     chan clientEvent

	done chan struct{}
}

type clientEvent struct {
	client   *Client
	envelope *models.Envelope
}

// NewHub creates an idle hub; call Start to begin serving.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		presence:   make(map[string]map[string]models.Participant),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan clientEvent, 256),
		done:       make(chan struct{}),
	}
}

// Start launches the hub event loop.
func (h *Hub) Start() {
	log.Println("🔄 Starting collaboration relay hub...")

	go func() {
		for {
			select {
			case <-h.done:
				log.Println("Relay hub shutting down...")
				return

			case client := <-h.register:
				h.handleRegister(client)

			case client := <-h.unregister:
				h.handleUnregister(client)

			case ev := <-h.events:
				h.handleEnvelope(ev.client, ev.envelope)
			}
		}
	}()

	log.Println("✓ Collaboration relay hub started")
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[client.DocumentID] == nil {
		h.rooms[client.DocumentID] = make(map[*Client]bool)
	}
	h.rooms[client.DocumentID][client] = true

	log.Printf("  Connection %s joined document %s (total: %d)",
		client.ID, client.DocumentID, len(h.rooms[client.DocumentID]))
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	room, ok := h.rooms[client.DocumentID]
	if !ok || !room[client] {
		h.mu.Unlock()
		return
	}
	delete(room, client)
	close(client.send)
	if len(room) == 0 {
		delete(h.rooms, client.DocumentID)
	}
	remaining := len(room)

	// Does this user still have another connection in the room?
	userGone := client.UserID != ""
	for other := range room {
		if other.UserID == client.UserID {
			userGone = false
			break
		}
	}
	h.mu.Unlock()

	log.Printf("  Connection %s left document %s (remaining: %d)",
		client.ID, client.DocumentID, remaining)

	if userGone {
		h.removePresence(client.DocumentID, client.UserID)

		// Synthesize the leave the client never got to send.
		leave, err := models.NewEnvelope(models.EventLeave, client.DocumentID,
			client.UserID, models.LeavePayload{UserID: client.UserID})
		if err == nil {
			h.broadcastEnvelope(client.DocumentID, leave, nil)
		}
		h.broadcastPresence(client.DocumentID)
	}
}

// handleEnvelope applies one inbound client envelope: presence bookkeeping
// first, then relay to the rest of the room. The sender never receives its
// own envelope back — clients apply their own effects optimistically and
// suppress self-echoes anyway.
func (h *Hub) handleEnvelope(client *Client, env *models.Envelope) {
	// The path the connection was opened on is authoritative.
	env.DocumentID = client.DocumentID
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	switch env.Type {
	case models.EventJoin:
		payload, err := env.DecodePayload()
		if err != nil {
			log.Printf("  Dropping join from %s: %v", env.UserID, err)
			return
		}
		join := payload.(*models.JoinPayload)
		client.UserID = env.UserID
		h.setPresence(env.DocumentID, models.Participant{
			ID:           env.UserID,
			User:         join.User,
			Status:       models.StatusOnline,
			Role:         join.Role,
			Color:        join.Color,
			LastActivity: env.Timestamp,
		})
		h.broadcastEnvelope(env.DocumentID, env, client)
		h.broadcastPresence(env.DocumentID)

	case models.EventLeave:
		h.removePresence(env.DocumentID, env.UserID)
		h.broadcastEnvelope(env.DocumentID, env, client)
		h.broadcastPresence(env.DocumentID)

	case models.EventStatusChange:
		payload, err := env.DecodePayload()
		if err != nil {
			log.Printf("  Dropping status_change from %s: %v", env.UserID, err)
			return
		}
		status := payload.(*models.StatusChangePayload)
		h.updatePresenceStatus(env.DocumentID, env.UserID, status, env.Timestamp)
		h.broadcastEnvelope(env.DocumentID, env, client)

	case models.EventCursorMove, models.EventCursorHide,
		models.EventChatMessage, models.EventDocumentChange:
		h.touchPresence(env.DocumentID, env.UserID, env.Timestamp)
		h.broadcastEnvelope(env.DocumentID, env, client)

	case models.EventPresenceUpdate, models.EventError:
		// Relay-originated types; clients may not inject them.
		log.Printf("  Dropping client-sent %s from %s", env.Type, env.UserID)
	}
}

// broadcastEnvelope sends an envelope to every connection in the room except
// skip. Connections with a full send buffer are torn down — a stalled buffer
// means the peer is slow or gone.
func (h *Hub) broadcastEnvelope(documentID string, env *models.Envelope, skip *Client) {
	data, err := env.Encode()
	if err != nil {
		log.Printf("  Encoding %s envelope: %v", env.Type, err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[documentID]))
	for client := range h.rooms[documentID] {
		if client != skip {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- data:
		default:
			log.Printf("⚠️  Connection %s buffer full, closing", client.ID)
			h.handleUnregister(client)
			client.conn.Close()
		}
	}
}

// broadcastPresence sends the authoritative participant list to the whole
// room, sender included.
func (h *Hub) broadcastPresence(documentID string) {
	env, err := models.NewEnvelope(models.EventPresenceUpdate, documentID, RelayUserID,
		models.PresenceUpdatePayload{Participants: h.Presence(documentID)})
	if err != nil {
		log.Printf("  Building presence_update: %v", err)
		return
	}
	h.broadcastEnvelope(documentID, env, nil)
}

// Presence returns the current participant list for a document.
func (h *Hub) Presence(documentID string) []models.Participant {
	h.presenceMu.RLock()
	defer h.presenceMu.RUnlock()

	room := h.presence[documentID]
	participants := make([]models.Participant, 0, len(room))
	for _, p := range room {
		participants = append(participants, p)
	}
	return participants
}

func (h *Hub) setPresence(documentID string, p models.Participant) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	if h.presence[documentID] == nil {
		h.presence[documentID] = make(map[string]models.Participant)
	}
	h.presence[documentID][p.ID] = p
}

func (h *Hub) removePresence(documentID, userID string) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	if room, ok := h.presence[documentID]; ok {
		delete(room, userID)
		if len(room) == 0 {
			delete(h.presence, documentID)
		}
	}
}

func (h *Hub) updatePresenceStatus(documentID, userID string, payload *models.StatusChangePayload, when time.Time) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	room := h.presence[documentID]
	p, ok := room[userID]
	if !ok {
		return
	}
	p.Status = payload.Status
	if payload.IsEditing != nil {
		p.IsEditing = *payload.IsEditing
	}
	p.LastActivity = when
	room[userID] = p
}

func (h *Hub) touchPresence(documentID, userID string, when time.Time) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	if p, ok := h.presence[documentID][userID]; ok {
		p.LastActivity = when
		h.presence[documentID][userID] = p
	}
}

// Shutdown gracefully closes every connection.
func (h *Hub) Shutdown() {
	log.Println("🛑 Shutting down relay hub...")

	close(h.done)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range h.rooms {
		for client := range room {
			close(client.send)
			client.conn.Close()
		}
	}
	h.rooms = make(map[string]map[*Client]bool)

	h.presenceMu.Lock()
	h.presence = make(map[string]map[string]models.Participant)
	h.presenceMu.Unlock()

	log.Println("✓ Relay hub shutdown complete")
}
