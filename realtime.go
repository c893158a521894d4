package brandloom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zoobzio/clockz"
	"nhooyr.io/websocket"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNotConnected is returned by actions that need an open connection.
	ErrNotConnected = errors.New("brandloom: not connected")

	// ErrNotAuthenticated is returned by actions that need a completed
	// authentication handshake. Nothing is sent in that case; the error
	// exists so callers and tests can observe the dropped action.
	ErrNotAuthenticated = errors.New("brandloom: not authenticated")
)

// ============================================================================
// Wire Types
// ============================================================================

// Envelope is the wire format for all gateway events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Command is a client-to-server message.
type Command struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// UserInfo identifies the local user to the gateway.
type UserInfo struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role,omitempty"`
	Token    string `json:"token,omitempty"`
}

// RoomInfo describes a room to join.
type RoomInfo struct {
	RoomID   string `json:"roomId"`
	RoomType string `json:"roomType"`
	TargetID string `json:"targetId,omitempty"`
}

// OutgoingMessage is a chat message sent into a room.
type OutgoingMessage struct {
	RoomID   string         `json:"roomId"`
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AuthenticatedPayload arrives when the gateway accepts the identity.
type AuthenticatedPayload struct {
	ConnectedUsers []RemoteUser `json:"connectedUsers,omitempty"`
}

// AuthErrorPayload arrives when authentication is rejected.
type AuthErrorPayload struct {
	Message string `json:"message"`
}

// RemoteUser is another user as reported by the gateway.
type RemoteUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Presence string `json:"presence,omitempty"`
}

// DisconnectedPayload is the payload of the local "disconnected" meta-event.
type DisconnectedPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// ReconnectingPayload is the payload of the local "reconnecting" meta-event.
type ReconnectingPayload struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

// ============================================================================
// Gateway interface
// ============================================================================

// EventHandler is the generic event callback type. Handlers run synchronously
// on the connection's read loop so that each component observes its events in
// arrival order; a slow handler delays everything behind it.
type EventHandler func(event string, payload json.RawMessage)

// Gateway is the subset of RealtimeClient that derived-state components
// (Tracker, Engine, Center) consume. They never touch the transport.
type Gateway interface {
	// On registers a handler and returns its unsubscribe function.
	On(event string, h EventHandler) func()
	// Emit sends a raw command over the open connection.
	Emit(ctx context.Context, event string, payload any) error
	// Authenticated reports whether the auth handshake completed.
	Authenticated() bool
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the RealtimeClient.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// RealtimeOption customizes a RealtimeClient.
type RealtimeOption func(*RealtimeClient)

// WithRealtimeConfig replaces the whole connection config.
func WithRealtimeConfig(cfg RealtimeConfig) RealtimeOption {
	return func(rc *RealtimeClient) { rc.config = cfg }
}

// WithRealtimeClock injects a clock; defaults to clockz.RealClock.
func WithRealtimeClock(clock clockz.Clock) RealtimeOption {
	return func(rc *RealtimeClient) { rc.clock = clock }
}

// WithRealtimeLogger injects a logger; defaults to NopLogger.
func WithRealtimeLogger(l Logger) RealtimeOption {
	return func(rc *RealtimeClient) { rc.log = l }
}

// ============================================================================
// Event Dispatcher
// ============================================================================

// The dispatcher is the source of truth for subscriptions: it outlives every
// transport, so a listener registered once keeps firing after a reconnect
// replaces the underlying connection.
type registration struct {
	id int
	fn EventHandler
}

type eventDispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string][]registration
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{handlers: make(map[string][]registration)}
}

func (d *eventDispatcher) on(event string, h EventHandler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[event] = append(d.handlers[event], registration{id: id, fn: h})
	d.mu.Unlock()

	return func() { d.remove(event, id) }
}

func (d *eventDispatcher) remove(event string, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.handlers[event]
	for i, r := range regs {
		if r.id == id {
			d.handlers[event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

func (d *eventDispatcher) removeAll(event string) {
	d.mu.Lock()
	delete(d.handlers, event)
	d.mu.Unlock()
}

// dispatch calls handlers outside the lock so they may subscribe/unsubscribe.
func (d *eventDispatcher) dispatch(event string, payload json.RawMessage) {
	d.mu.RLock()
	regs := append([]registration(nil), d.handlers[event]...)
	d.mu.RUnlock()

	for _, r := range regs {
		r.fn(event, payload)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	mu          sync.Mutex
	eb          *backoff.ExponentialBackOff
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg *RealtimeConfig) *reconnector {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.ReconnectBaseDelay
	eb.MaxInterval = cfg.ReconnectMaxDelay
	eb.MaxElapsedTime = 0 // attempts are bounded by count, not wall time
	eb.Reset()
	return &reconnector{eb: eb, maxAttempts: cfg.MaxReconnectAttempts}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	r.connectedAt = time.Now()
	r.mu.Unlock()
}

func (r *reconnector) nextDelay() (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// A minute of healthy uptime forgives earlier failures.
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
		r.eb.Reset()
	}
	r.attempt++
	return r.attempt, r.eb.NextBackOff()
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the single persistent connection to the collaboration
// gateway: connect/reconnect/auth lifecycle and raw event dispatch. All other
// realtime components subscribe through it and never hold the transport.
type RealtimeClient struct {
	baseURL string
	config  RealtimeConfig
	clock   clockz.Clock
	log     Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	authenticated    bool
	identity         *UserInfo
	lastError        string
	intentionalClose bool
	cancelFn         context.CancelFunc

	dispatcher *eventDispatcher
	recon      *reconnector
}

// NewRealtimeClient creates a client for the gateway at baseURL
// (http(s) scheme; the /ws path is appended on dial).
func NewRealtimeClient(baseURL string, opts ...RealtimeOption) *RealtimeClient {
	rc := &RealtimeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		state:      StateDisconnected,
		clock:      clockz.RealClock,
		log:        NopLogger{},
		dispatcher: newEventDispatcher(),
	}
	rc.config.AutoReconnect = true
	for _, opt := range opts {
		opt(rc)
	}
	rc.config.defaults()
	rc.recon = newReconnector(&rc.config)
	return rc
}

// State returns the current connection state.
func (rc *RealtimeClient) State() RealtimeState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// Connected reports whether the transport is open.
func (rc *RealtimeClient) Connected() bool {
	return rc.State() == StateConnected
}

// Authenticated reports whether the gateway acknowledged our identity. It is
// never set optimistically; only the authenticated event flips it.
func (rc *RealtimeClient) Authenticated() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.authenticated
}

// LastError returns the most recent connection or auth error, if any.
func (rc *RealtimeClient) LastError() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lastError
}

// On registers a generic event handler and returns its unsubscribe function.
// The registry survives reconnects.
func (rc *RealtimeClient) On(event string, h EventHandler) func() {
	return rc.dispatcher.on(event, h)
}

// Off removes every handler registered for event.
func (rc *RealtimeClient) Off(event string) {
	rc.dispatcher.removeAll(event)
}

// Connect establishes the WebSocket connection. It is idempotent: while
// connected or connecting it returns nil without side effects, and handlers
// registered on the dispatcher are never duplicated by a second call.
func (rc *RealtimeClient) Connect(ctx context.Context) error {
	rc.mu.Lock()
	if rc.state == StateConnected || rc.state == StateConnecting {
		rc.mu.Unlock()
		return nil
	}
	rc.state = StateConnecting
	rc.intentionalClose = false
	rc.mu.Unlock()

	wsURL := strings.Replace(rc.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws"
	if rc.config.Token != "" {
		wsURL += "?token=" + rc.config.Token
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rc.mu.Lock()
		rc.state = StateDisconnected
		rc.lastError = err.Error()
		rc.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	rc.mu.Lock()
	rc.conn = conn
	rc.state = StateConnected
	rc.lastError = ""
	rc.cancelFn = cancel
	identity := rc.identity
	rc.mu.Unlock()
	rc.recon.markConnected()

	rc.log.Debug("connected", map[string]any{"url": wsURL})
	rc.emitMeta(EventConnected, nil)

	// The dispatcher persisted across the transport swap, so every listener
	// registered before a reconnect is already attached to this conn.
	go rc.readLoop(connCtx, conn)

	// After an unintentional drop the gateway forgot who we are; replay the
	// identity. The authenticated flag still waits for the server's event.
	if identity != nil {
		if err := rc.Authenticate(ctx, *identity); err != nil {
			rc.log.Warn("re-authenticate after reconnect failed", map[string]any{"error": err.Error()})
		}
	}

	return nil
}

// Disconnect tears down the transport and clears all connection flags.
// Safe to call repeatedly.
func (rc *RealtimeClient) Disconnect() error {
	rc.mu.Lock()
	alreadyDown := rc.conn == nil && rc.state == StateDisconnected
	rc.intentionalClose = true
	if rc.cancelFn != nil {
		rc.cancelFn()
		rc.cancelFn = nil
	}
	conn := rc.conn
	rc.conn = nil
	rc.state = StateDisconnected
	rc.authenticated = false
	rc.mu.Unlock()

	if alreadyDown {
		return nil
	}

	rc.emitMeta(EventDisconnected, DisconnectedPayload{Code: 1000, Reason: "client disconnect"})

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Authenticate sends the local identity over an open connection. The
// authenticated flag flips only when the server acknowledges.
func (rc *RealtimeClient) Authenticate(ctx context.Context, user UserInfo) error {
	rc.mu.Lock()
	rc.identity = &user
	connected := rc.state == StateConnected
	rc.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	return rc.Emit(ctx, EventAuthenticate, user)
}

// JoinRoom asks the gateway to add us to a room. Requires authentication;
// otherwise nothing is sent and ErrNotAuthenticated is returned.
func (rc *RealtimeClient) JoinRoom(ctx context.Context, room RoomInfo) error {
	if !rc.Authenticated() {
		return ErrNotAuthenticated
	}
	return rc.Emit(ctx, EventJoinRoom, room)
}

// LeaveRoom asks the gateway to remove us from a room.
func (rc *RealtimeClient) LeaveRoom(ctx context.Context, roomID string) error {
	if !rc.Authenticated() {
		return ErrNotAuthenticated
	}
	return rc.Emit(ctx, EventLeaveRoom, map[string]string{"roomId": roomID})
}

// SendMessage sends a chat message into a room. Fire-and-forget: no delivery
// acknowledgment is modeled.
func (rc *RealtimeClient) SendMessage(ctx context.Context, msg OutgoingMessage) error {
	if !rc.Authenticated() {
		return ErrNotAuthenticated
	}
	return rc.Emit(ctx, EventSendMessage, msg)
}

// Emit sends a raw command over the open connection.
func (rc *RealtimeClient) Emit(ctx context.Context, event string, payload any) error {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(Command{Type: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ============================================================================
// Internals
// ============================================================================

func (rc *RealtimeClient) emitMeta(event string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	rc.dispatcher.dispatch(event, raw)
}

func (rc *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rc.mu.Lock()
			intentional := rc.intentionalClose
			current := rc.conn == conn
			if current {
				rc.conn = nil
				rc.state = StateDisconnected
				rc.authenticated = false
				rc.lastError = err.Error()
			}
			rc.mu.Unlock()

			if intentional || !current {
				return
			}

			rc.log.Warn("connection lost", map[string]any{"error": err.Error()})
			rc.emitMeta(EventDisconnected, DisconnectedPayload{
				Code:   int(websocket.CloseStatus(err)),
				Reason: err.Error(),
			})

			if rc.config.AutoReconnect && rc.recon.shouldReconnect() {
				rc.scheduleReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil || env.Type == "" {
			// Malformed frames are skipped; the stream continues.
			rc.log.Debug("dropping malformed frame", map[string]any{"bytes": len(data)})
			continue
		}

		rc.handleInternal(env)
		rc.dispatcher.dispatch(env.Type, env.Payload)
	}
}

// handleInternal updates connection-owned flags before the event reaches
// subscribers, so a handler reading client state sees the post-event view.
func (rc *RealtimeClient) handleInternal(env Envelope) {
	switch env.Type {
	case EventAuthenticated:
		rc.mu.Lock()
		rc.authenticated = true
		rc.lastError = ""
		rc.mu.Unlock()
	case EventAuthError:
		var p AuthErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			rc.mu.Lock()
			rc.authenticated = false
			rc.lastError = p.Message
			rc.mu.Unlock()
		}
	case EventServerError:
		rc.mu.Lock()
		rc.lastError = string(env.Payload)
		rc.mu.Unlock()
	}
}

func (rc *RealtimeClient) scheduleReconnect() {
	attempt, delay := rc.recon.nextDelay()

	rc.mu.Lock()
	rc.state = StateReconnecting
	rc.mu.Unlock()

	rc.log.Info("reconnecting", map[string]any{"attempt": attempt, "delay": delay.String()})
	rc.emitMeta(EventReconnecting, ReconnectingPayload{Attempt: attempt, Delay: delay})

	<-rc.clock.After(delay)

	rc.mu.Lock()
	if rc.intentionalClose {
		rc.mu.Unlock()
		return
	}
	rc.state = StateDisconnected
	rc.mu.Unlock()

	if err := rc.Connect(context.Background()); err != nil {
		if rc.config.AutoReconnect && rc.recon.shouldReconnect() {
			rc.scheduleReconnect()
			return
		}
		rc.mu.Lock()
		rc.state = StateDisconnected
		rc.mu.Unlock()
		rc.log.Error("reconnect attempts exhausted", map[string]any{"attempts": attempt})
	}
}
