package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claudio-mas/SGDI-20-sub001/internal/models"
)

// fakeTransport is an in-memory Transport the tests feed and inspect.
type fakeTransport struct {
	incoming chan []byte

	mu     sync.Mutex
	writes [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.incoming:
		return data, nil
	case <-t.closed:
		return nil, errors.New("transport closed")
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	default:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, data)
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// writtenEnvelopes decodes everything the session transmitted so far.
func (t *fakeTransport) writtenEnvelopes(tb *testing.T) []*models.Envelope {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()

	envs := make([]*models.Envelope, 0, len(t.writes))
	for _, data := range t.writes {
		env, err := models.DecodeEnvelope(data)
		if err != nil {
			tb.Fatalf("session wrote malformed envelope: %v", err)
		}
		envs = append(envs, env)
	}
	return envs
}

// deliver pushes a wire frame at the session, as if the relay sent it.
func (t *fakeTransport) deliver(tb *testing.T, env *models.Envelope) {
	tb.Helper()
	data, err := env.Encode()
	if err != nil {
		tb.Fatalf("encode envelope: %v", err)
	}
	t.incoming <- data
}

// fakeDialer hands out fakeTransports, optionally failing every attempt.
type fakeDialer struct {
	failAll atomic.Bool
	dials   atomic.Int32

	mu         sync.Mutex
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	d.dials.Add(1)
	if d.failAll.Load() {
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) latest() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

func newTestSession(t *testing.T, dialer Dialer) *Session {
	t.Helper()
	s, err := NewSession(Config{
		RelayURL:             "http://relay.test",
		DocumentID:           "doc-1",
		User:                 models.UserInfo{ID: localUser, Name: "Me"},
		Role:                 models.RoleEditor,
		MaxReconnectAttempts: 3,
		ReconnectInterval:    5 * time.Millisecond,
		Dialer:               dialer,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// eventually polls until the condition holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSessionConnectSendsJoin(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateConnected
	}, "session never connected")

	transport := dialer.latest()
	eventually(t, 2*time.Second, func() bool {
		return len(transport.writtenEnvelopes(t)) >= 1
	}, "join envelope never transmitted")

	envs := transport.writtenEnvelopes(t)
	if envs[0].Type != models.EventJoin {
		t.Fatalf("expected first envelope to be join, got %s", envs[0].Type)
	}
	if envs[0].UserID != localUser {
		t.Errorf("join carries wrong user id %s", envs[0].UserID)
	}

	var join models.JoinPayload
	if err := json.Unmarshal(envs[0].Payload, &join); err != nil {
		t.Fatalf("decode join payload: %v", err)
	}
	if join.Color == "" {
		t.Error("join must carry the session color")
	}

	snap := s.Snapshot()
	if !snap.IsConnected {
		t.Error("snapshot must report connected")
	}
	if _, ok := snap.Participants[localUser]; !ok {
		t.Error("local participant must appear optimistically on connect")
	}
}

func TestSessionColorStableAcrossReconnects(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateConnected
	}, "session never connected")
	first := dialer.latest()

	// Kill the transport; the supervisor reconnects on its own.
	first.Close()
	eventually(t, 2*time.Second, func() bool {
		return dialer.latest() != first && s.ConnectionState() == StateConnected
	}, "session never reconnected")

	second := dialer.latest()
	eventually(t, 2*time.Second, func() bool {
		return len(second.writtenEnvelopes(t)) >= 1
	}, "second join never transmitted")

	var firstJoin, secondJoin models.JoinPayload
	json.Unmarshal(first.writtenEnvelopes(t)[0].Payload, &firstJoin)
	json.Unmarshal(second.writtenEnvelopes(t)[0].Payload, &secondJoin)

	if firstJoin.Color != secondJoin.Color {
		t.Errorf("color must be stable across reconnects: %s vs %s", firstJoin.Color, secondJoin.Color)
	}
}

func TestSessionReconnectBound(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.failAll.Store(true)
	s := newTestSession(t, dialer)
	s.Connect()

	// Initial dial plus MaxReconnectAttempts retries, then give up.
	eventually(t, 2*time.Second, func() bool {
		return dialer.dials.Load() == 4 && s.ConnectionState() == StateDisconnected
	}, "supervisor did not stop after the attempt limit")

	time.Sleep(50 * time.Millisecond)
	if got := dialer.dials.Load(); got != 4 {
		t.Errorf("expected no further dials after exhaustion, got %d", got)
	}

	snap := s.Snapshot()
	if snap.IsConnected {
		t.Error("snapshot must report disconnected after exhaustion")
	}
	if snap.ConnectionError == "" {
		t.Error("last error must be retained after exhaustion")
	}
}

func TestSessionExplicitReconnectOverridesExhaustion(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.failAll.Store(true)
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return dialer.dials.Load() == 4 && s.ConnectionState() == StateDisconnected
	}, "supervisor did not exhaust")

	// Manual override resets the counter and dials immediately.
	dialer.failAll.Store(false)
	s.Reconnect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateConnected
	}, "explicit reconnect did not connect")

	snap := s.Snapshot()
	if snap.ConnectionError != "" {
		t.Errorf("connection error must clear on successful reconnect, got %q", snap.ConnectionError)
	}
}

func TestSessionSendChatMessage(t *testing.T) {
	// Scenario: sendChatMessage("hello") while connected.
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateConnected
	}, "session never connected")

	s.SendChatMessage("hello")

	eventually(t, 2*time.Second, func() bool {
		return len(s.Snapshot().Messages) == 1
	}, "optimistic echo never appeared")

	snap := s.Snapshot()
	msg := snap.Messages[0]
	if msg.Content != "hello" {
		t.Errorf("expected content hello, got %q", msg.Content)
	}
	if msg.UserID != localUser {
		t.Errorf("expected sender %s, got %s", localUser, msg.UserID)
	}

	transport := dialer.latest()
	eventually(t, 2*time.Second, func() bool {
		return len(transport.writtenEnvelopes(t)) >= 2
	}, "chat envelope never transmitted")

	envs := transport.writtenEnvelopes(t)
	chat := envs[len(envs)-1]
	if chat.Type != models.EventChatMessage {
		t.Fatalf("expected chat_message envelope, got %s", chat.Type)
	}
	var payload models.ChatMessagePayload
	if err := json.Unmarshal(chat.Payload, &payload); err != nil {
		t.Fatalf("decode chat payload: %v", err)
	}
	if payload.MessageID != msg.ID {
		t.Errorf("wire messageId %s must match local echo id %s", payload.MessageID, msg.ID)
	}
	if payload.Content != "hello" {
		t.Errorf("expected wire content hello, got %q", payload.Content)
	}
}

func TestSessionRejectsBlankChat(t *testing.T) {
	// Scenario: whitespace-only content has no effect at all.
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateConnected
	}, "session never connected")

	s.SendChatMessage("   ")
	s.SendChatMessage("")
	s.SendChatMessage("\n\t")

	time.Sleep(20 * time.Millisecond)

	if got := len(s.Snapshot().Messages); got != 0 {
		t.Errorf("expected no messages, got %d", got)
	}
	envs := dialer.latest().writtenEnvelopes(t)
	for _, env := range envs {
		if env.Type == models.EventChatMessage {
			t.Error("blank chat must never be transmitted")
		}
	}
}

func TestSessionChatWhileDisconnectedAppendsLocallyOnly(t *testing.T) {
	dialer := &fakeDialer{}
	dialer.failAll.Store(true)
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateDisconnected
	}, "supervisor did not exhaust")

	s.SendChatMessage("anyone there?")

	eventually(t, 2*time.Second, func() bool {
		return len(s.Snapshot().Messages) == 1
	}, "local echo must still happen while disconnected")
}

func TestSessionInboundEventsUpdateSnapshot(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateConnected
	}, "session never connected")

	transport := dialer.latest()
	transport.deliver(t, joinEnvelope(t, "user-b", "Bea"))
	transport.deliver(t, envelope(t, models.EventCursorMove, "user-b",
		models.CursorMovePayload{Position: models.CursorPosition{X: 10, Y: 20}}))

	eventually(t, 2*time.Second, func() bool {
		snap := s.Snapshot()
		_, hasB := snap.Participants["user-b"]
		cursor, hasCursor := snap.Cursors["user-b"]
		return hasB && hasCursor && cursor.Position.X == 10 && cursor.Position.Y == 20
	}, "inbound join/cursor_move never applied")
}

func TestSessionSelfEchoNotDuplicated(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateConnected
	}, "session never connected")

	s.SendChatMessage("hello")
	eventually(t, 2*time.Second, func() bool {
		return len(s.Snapshot().Messages) == 1
	}, "optimistic echo never appeared")

	// Reflect the session's own chat envelope back, as a naive relay would.
	transport := dialer.latest()
	envs := transport.writtenEnvelopes(t)
	transport.deliver(t, envs[len(envs)-1])

	time.Sleep(20 * time.Millisecond)
	if got := len(s.Snapshot().Messages); got != 1 {
		t.Errorf("self echo must not duplicate the chat entry, got %d messages", got)
	}
}

func TestSessionDisconnectClearsPresenceKeepsChat(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateConnected
	}, "session never connected")

	transport := dialer.latest()
	transport.deliver(t, joinEnvelope(t, "user-b", "Bea"))
	transport.deliver(t, envelope(t, models.EventChatMessage, "user-b",
		models.ChatMessagePayload{Content: "hi", MessageID: "m1"}))

	eventually(t, 2*time.Second, func() bool {
		return len(s.Snapshot().Messages) == 1
	}, "inbound chat never applied")

	s.Disconnect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateDisconnected
	}, "disconnect never completed")

	snap := s.Snapshot()
	if len(snap.Participants) != 0 || len(snap.Cursors) != 0 {
		t.Error("disconnect must clear participants and cursors")
	}
	if len(snap.Messages) != 1 {
		t.Error("chat history is not connection-scoped and must survive disconnect")
	}

	envs := transport.writtenEnvelopes(t)
	if envs[len(envs)-1].Type != models.EventLeave {
		t.Errorf("expected a leave envelope on disconnect, got %s", envs[len(envs)-1].Type)
	}

	// No automatic reconnection after an explicit disconnect.
	dials := dialer.dials.Load()
	time.Sleep(50 * time.Millisecond)
	if dialer.dials.Load() != dials {
		t.Error("explicit disconnect must suppress automatic reconnection")
	}
}

func TestSessionCursorCommands(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateConnected
	}, "session never connected")

	s.SendCursorPosition(models.CursorPosition{X: 4, Y: 2})
	eventually(t, 2*time.Second, func() bool {
		_, ok := s.Snapshot().Cursors[localUser]
		return ok
	}, "local cursor never applied")

	s.HideCursor()
	eventually(t, 2*time.Second, func() bool {
		_, ok := s.Snapshot().Cursors[localUser]
		return !ok
	}, "cursor never hidden")

	transport := dialer.latest()
	envs := transport.writtenEnvelopes(t)
	var sawMove, sawHide bool
	for _, env := range envs {
		switch env.Type {
		case models.EventCursorMove:
			sawMove = true
		case models.EventCursorHide:
			sawHide = true
		}
	}
	if !sawMove || !sawHide {
		t.Errorf("expected cursor_move and cursor_hide on the wire, got move=%v hide=%v", sawMove, sawHide)
	}
}

func TestSessionMalformedInboundIsDropped(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer)
	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		return s.ConnectionState() == StateConnected
	}, "session never connected")

	transport := dialer.latest()
	transport.incoming <- []byte("{not json")
	transport.incoming <- []byte(`{"type":"alien","documentId":"doc-1","userId":"x"}`)
	transport.deliver(t, joinEnvelope(t, "user-b", "Bea"))

	// The good envelope after the garbage still applies; the connection stays up.
	eventually(t, 2*time.Second, func() bool {
		_, ok := s.Snapshot().Participants["user-b"]
		return ok
	}, "valid envelope after malformed ones was not applied")

	if s.ConnectionState() != StateConnected {
		t.Error("malformed envelopes must not affect connection state")
	}
}

func TestSessionSubscribePublishesSnapshots(t *testing.T) {
	dialer := &fakeDialer{}
	s := newTestSession(t, dialer)

	snapshots := s.Subscribe()

	// First receive is the current state, before any connect.
	select {
	case snap := <-snapshots:
		if snap.IsConnected {
			t.Error("initial snapshot must be disconnected")
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	s.Connect()

	eventually(t, 2*time.Second, func() bool {
		for {
			select {
			case snap := <-snapshots:
				if snap.IsConnected {
					return true
				}
			default:
				return false
			}
		}
	}, "subscriber never saw the connected snapshot")

	s.Unsubscribe(snapshots)
	if _, open := <-snapshots; open {
		// Drain until closed; Unsubscribe closes the channel.
		for range snapshots {
		}
	}
}
