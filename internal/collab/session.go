package collab

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claudio-mas/SGDI-20-sub001/internal/middleware"
	"github.com/claudio-mas/SGDI-20-sub001/internal/models"

	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

/*
COLLABORATION SESSION MANAGER

One Session per open document. Two cooperating responsibilities:

1. Connection supervisor: owns the transport lifecycle (dial, join, detect
   loss, reconnect with a fixed interval and a bounded attempt count).
2. State reducer: applies inbound envelopes to the session snapshot and
   publishes each new snapshot to subscribers.

All state transitions run on a single goroutine (the run loop). Transport
callbacks, timers, and facade commands are funneled into it as messages, so
the reducer is never invoked concurrently with itself or with a command.
*/

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectInterval    = 3000 * time.Millisecond
)

// ConnectionState is the supervisor's lifecycle state.
type ConnectionState string

const (
	StateDisconnected     ConnectionState = "disconnected"
	StateConnecting       ConnectionState = "connecting"
	StateConnected        ConnectionState = "connected"
	StateReconnectPending ConnectionState = "reconnect_pending"
)

// Config describes one document/user collaboration pairing.
type Config struct {
	RelayURL   string
	DocumentID string
	User       models.UserInfo
	Role       models.ParticipantRole

	// MaxReconnectAttempts bounds automatic retries after connection loss
	// (default 5). Every retry waits ReconnectInterval — fixed, not
	// exponential (default 3s).
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration

	// Dialer overrides the transport; tests inject fakes here.
	Dialer Dialer
}

// Session manages one live collaboration session. Construct with NewSession,
// start with Connect, release with Close.
type Session struct {
	cfg      Config
	endpoint string
	color    string // chosen once, stable across reconnects

	commands   chan func()
	dialDone   chan dialResult
	inbound    chan inboundFrame
	readerDone chan readerExit
	done       chan struct{}

	started   atomic.Bool
	closeOnce sync.Once

	mu          sync.RWMutex
	published   SessionSnapshot
	connState   ConnectionState
	subscribers map[<-chan SessionSnapshot]chan SessionSnapshot

	// Owned exclusively by the run loop.
	state          SessionSnapshot
	conn           Transport
	epoch          int
	attempts       int
	manualStop     bool
	reconnectTimer *time.Timer
}

type dialResult struct {
	epoch int
	conn  Transport
	err   error
}

type inboundFrame struct {
	epoch    int
	envelope *models.Envelope
}

type readerExit struct {
	epoch int
	err   error
}

// NewSession validates the configuration and builds an idle session. No I/O
// happens until Connect.
func NewSession(cfg Config) (*Session, error) {
	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("collab: relay URL is required")
	}
	if cfg.DocumentID == "" {
		return nil, fmt.Errorf("collab: document id is required")
	}
	if cfg.User.ID == "" {
		return nil, fmt.Errorf("collab: local user id is required")
	}
	if cfg.Role == "" {
		cfg.Role = models.RoleViewer
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &WebsocketDialer{}
	}

	endpoint, err := EndpointURL(cfg.RelayURL, cfg.DocumentID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:         cfg,
		endpoint:    endpoint,
		color:       pickColor(),
		commands:    make(chan func(), 64),
		dialDone:    make(chan dialResult),
		inbound:     make(chan inboundFrame, 64),
		readerDone:  make(chan readerExit),
		done:        make(chan struct{}),
		connState:   StateDisconnected,
		subscribers: make(map[<-chan SessionSnapshot]chan SessionSnapshot),
		state:       newSnapshot(cfg.DocumentID),
	}
	s.published = s.state.clone()
	return s, nil
}

// Connect starts the run loop and the first dial. Calling it again is a no-op.
func (s *Session) Connect() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
	s.post(func() {
		s.manualStop = false
		s.attempts = 0
		s.enterConnecting()
	})
}

// Snapshot returns a copy of the current session state. The copy is the
// caller's to keep; later transitions never touch it.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published.clone()
}

// ConnectionState returns the supervisor's current lifecycle state.
func (s *Session) ConnectionState() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connState
}

// Subscribe registers a snapshot listener. The channel receives the current
// snapshot immediately and every published snapshot after that. Slow
// consumers skip intermediate snapshots (the buffer drops when full) but are
// never blocked on. Release with Unsubscribe; Close closes all channels.
func (s *Session) Subscribe() <-chan SessionSnapshot {
	ch := make(chan SessionSnapshot, 16)

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		close(ch)
		return ch
	default:
	}
	s.subscribers[ch] = ch
	ch <- s.published
	return ch
}

// Unsubscribe removes a listener registered with Subscribe and closes it.
func (s *Session) Unsubscribe(ch <-chan SessionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sender, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(sender)
	}
}

// SendCursorPosition shares the local cursor location. Best-effort: while
// disconnected the update is silently dropped — stale presence data is
// harmless and a queue would only replay it late.
func (s *Session) SendCursorPosition(position models.CursorPosition) {
	s.post(func() {
		if s.connState != StateConnected {
			return
		}
		now := time.Now().UTC()
		next := s.state.clone()
		next.Cursors[s.cfg.User.ID] = models.RemoteCursor{
			ParticipantID: s.cfg.User.ID,
			Position:      position,
			LastUpdate:    now,
		}
		if self, ok := next.Participants[s.cfg.User.ID]; ok {
			self.LastActivity = now
			next.Participants[s.cfg.User.ID] = self
		}
		s.state = next
		s.publish()
		s.sendEnvelope(models.EventCursorMove, models.CursorMovePayload{Position: position})
	})
}

// HideCursor retracts the local cursor.
func (s *Session) HideCursor() {
	s.post(func() {
		if _, ok := s.state.Cursors[s.cfg.User.ID]; ok {
			next := s.state.clone()
			delete(next.Cursors, s.cfg.User.ID)
			s.state = next
			s.publish()
		}
		if s.connState == StateConnected {
			s.sendEnvelope(models.EventCursorHide, models.CursorHidePayload{})
		}
	})
}

// SendChatMessage appends the message locally (optimistic echo — the sender
// sees it without a round trip) and transmits it. Empty or whitespace-only
// content is rejected before any effect. The message id is generated here and
// reused verbatim on the wire so the server's reflection is recognized as
// self and not applied twice.
func (s *Session) SendChatMessage(content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	s.post(func() {
		now := time.Now().UTC()
		messageID := ksuid.New().String()

		next := s.state.clone()
		next.Messages = append(next.Messages, models.ChatMessage{
			ID:        messageID,
			UserID:    s.cfg.User.ID,
			UserName:  s.cfg.User.Name,
			Avatar:    s.cfg.User.Avatar,
			Color:     s.color,
			Content:   content,
			Timestamp: now,
			Type:      models.ChatTypeMessage,
		})
		s.state = next
		s.publish()

		// While disconnected the transmit is dropped silently; the local
		// append above still happened. Known trade-off, kept as-is: the
		// IsConnected flag is the UI's cue to warn about delivery.
		s.sendEnvelope(models.EventChatMessage, models.ChatMessagePayload{
			Content:   content,
			MessageID: messageID,
		})
	})
}

// UpdateStatus shares an activity-status change. Pass isEditing to also flip
// the editing flag; nil leaves it untouched.
func (s *Session) UpdateStatus(status models.ParticipantStatus, isEditing *bool) {
	s.post(func() {
		if s.connState != StateConnected {
			return
		}
		now := time.Now().UTC()
		if self, ok := s.state.Participants[s.cfg.User.ID]; ok {
			next := s.state.clone()
			self.Status = status
			if isEditing != nil {
				self.IsEditing = *isEditing
			}
			self.LastActivity = now
			next.Participants[s.cfg.User.ID] = self
			s.state = next
			s.publish()
		}
		s.sendEnvelope(models.EventStatusChange, models.StatusChangePayload{
			Status:    status,
			IsEditing: isEditing,
		})
	})
}

// Disconnect leaves the session and suppresses automatic reconnection until
// Connect or Reconnect is called. Participants and cursors are cleared; the
// chat log is retained — history is not a connection-scoped artifact.
func (s *Session) Disconnect() {
	s.post(func() { s.doDisconnect() })
}

// Reconnect is the manual override: tear down whatever exists, reset the
// attempt counter, and dial immediately, bypassing the backoff/limit state.
func (s *Session) Reconnect() {
	s.post(func() {
		s.doDisconnect()
		s.manualStop = false
		s.attempts = 0
		s.enterConnecting()
	})
}

// Close disconnects and releases the session. Subscriber channels are closed;
// the session cannot be restarted afterwards.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if !s.started.Load() {
			close(s.done)
			s.closeSubscribers()
			return
		}
		s.post(func() {
			s.doDisconnect()
			close(s.done)
		})
	})
}

// post hands a command to the run loop. Commands issued after Close are
// dropped.
func (s *Session) post(fn func()) {
	select {
	case s.commands <- fn:
	case <-s.done:
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			if s.reconnectTimer != nil {
				s.reconnectTimer.Stop()
			}
			if s.conn != nil {
				s.conn.Close()
				s.conn = nil
			}
			s.closeSubscribers()
			return

		case fn := <-s.commands:
			fn()

		case res := <-s.dialDone:
			s.handleDialResult(res)

		case frame := <-s.inbound:
			s.handleInbound(frame)

		case exit := <-s.readerDone:
			if exit.epoch == s.epoch {
				s.handleConnectionLoss(exit.err)
			}
		}
	}
}

// enterConnecting starts a dial for a fresh epoch. Stale dials, readers, and
// timers from earlier epochs are ignored when they report back.
func (s *Session) enterConnecting() {
	s.epoch++
	s.setConnState(StateConnecting)
	go s.dial(s.epoch)
}

func (s *Session) dial(epoch int) {
	ctx, span := middleware.StartSpan(context.Background(), "Collab.Dial",
		attribute.String("document.id", s.cfg.DocumentID),
		attribute.String("user.id", s.cfg.User.ID),
	)
	defer span.End()

	conn, err := s.cfg.Dialer.Dial(ctx, s.endpoint)
	if err != nil {
		middleware.AddSpanError(ctx, err)
	}

	select {
	case s.dialDone <- dialResult{epoch: epoch, conn: conn, err: err}:
	case <-s.done:
		if conn != nil {
			conn.Close()
		}
	}
}

func (s *Session) handleDialResult(res dialResult) {
	if res.epoch != s.epoch || s.connState != StateConnecting {
		// A disconnect raced the dial; the open attempt is allowed to
		// complete and is torn down here.
		if res.conn != nil {
			res.conn.Close()
		}
		return
	}

	if res.err != nil {
		log.Printf("collab: connect to %s failed: %v", s.cfg.DocumentID, res.err)
		s.handleConnectionLoss(res.err)
		return
	}

	s.conn = res.conn
	s.attempts = 0
	s.setConnState(StateConnected)

	next := s.state.clone()
	next.IsConnected = true
	next.ConnectionError = ""
	// Optimistic self presence: the server's presence_update will confirm
	// or correct this shortly after the join lands.
	next.Participants[s.cfg.User.ID] = models.Participant{
		ID:           s.cfg.User.ID,
		User:         s.cfg.User,
		Status:       models.StatusOnline,
		Role:         s.cfg.Role,
		Color:        s.color,
		LastActivity: time.Now().UTC(),
	}
	s.state = next
	s.publish()

	s.sendEnvelope(models.EventJoin, models.JoinPayload{
		User:  s.cfg.User,
		Role:  s.cfg.Role,
		Color: s.color,
	})

	go s.readLoop(res.conn, s.epoch)
	log.Printf("collab: connected to document %s as %s", s.cfg.DocumentID, s.cfg.User.ID)
}

func (s *Session) readLoop(conn Transport, epoch int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			select {
			case s.readerDone <- readerExit{epoch: epoch, err: err}:
			case <-s.done:
			}
			return
		}

		env, err := models.DecodeEnvelope(data)
		if err != nil {
			// Malformed frames are dropped; they affect neither session
			// state nor connection state.
			log.Printf("collab: dropping malformed envelope: %v", err)
			continue
		}

		select {
		case s.inbound <- inboundFrame{epoch: epoch, envelope: env}:
		case <-s.done:
			return
		}
	}
}

func (s *Session) handleInbound(frame inboundFrame) {
	if frame.epoch != s.epoch {
		return
	}

	next, err := reduce(s.state, frame.envelope, s.cfg.User.ID, time.Now().UTC())
	if err != nil {
		log.Printf("collab: dropping %s envelope: %v", frame.envelope.Type, err)
		return
	}
	s.state = next
	s.publish()
}

// handleConnectionLoss drives the retry state machine. Transport failures are
// never surfaced as errors to callers — only as IsConnected/ConnectionError
// in the snapshot.
func (s *Session) handleConnectionLoss(err error) {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.epoch++

	next := s.state.clone()
	next.IsConnected = false
	if err != nil {
		next.ConnectionError = err.Error()
	}
	s.state = next
	s.publish()

	if s.manualStop {
		s.setConnState(StateDisconnected)
		return
	}

	if s.attempts >= s.cfg.MaxReconnectAttempts {
		s.setConnState(StateDisconnected)
		log.Printf("collab: giving up on document %s after %d attempts", s.cfg.DocumentID, s.attempts)
		return
	}

	s.attempts++
	s.setConnState(StateReconnectPending)

	epoch := s.epoch
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectInterval, func() {
		s.post(func() { s.onReconnectTimer(epoch) })
	})
}

func (s *Session) onReconnectTimer(epoch int) {
	if epoch != s.epoch || s.connState != StateReconnectPending || s.manualStop {
		return
	}
	s.enterConnecting()
}

func (s *Session) doDisconnect() {
	s.manualStop = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}

	if s.connState == StateConnected && s.conn != nil {
		s.sendEnvelope(models.EventLeave, models.LeavePayload{UserID: s.cfg.User.ID})
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.epoch++
	s.setConnState(StateDisconnected)

	next := s.state.clone()
	next.IsConnected = false
	next.Participants = make(map[string]models.Participant)
	next.Cursors = make(map[string]models.RemoteCursor)
	s.state = next
	s.publish()
}

// sendEnvelope is best-effort: without a live connection the envelope is
// silently dropped, and write failures are left for the read loop to report.
func (s *Session) sendEnvelope(eventType models.EventType, payload interface{}) {
	if s.conn == nil || s.connState != StateConnected {
		return
	}

	env, err := models.NewEnvelope(eventType, s.cfg.DocumentID, s.cfg.User.ID, payload)
	if err != nil {
		log.Printf("collab: building %s envelope: %v", eventType, err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		log.Printf("collab: encoding %s envelope: %v", eventType, err)
		return
	}
	if err := s.conn.WriteMessage(data); err != nil {
		log.Printf("collab: writing %s envelope: %v", eventType, err)
	}
}

// publish stores the new snapshot and fans it out without blocking.
func (s *Session) publish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.published = s.state.clone()
	for _, ch := range s.subscribers {
		select {
		case ch <- s.published:
		default:
			// Subscriber buffer full; it will catch up on a later publish.
		}
	}
}

func (s *Session) setConnState(state ConnectionState) {
	s.mu.Lock()
	s.connState = state
	s.mu.Unlock()
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, ch := range s.subscribers {
		delete(s.subscribers, key)
		close(ch)
	}
}
