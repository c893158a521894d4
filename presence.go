package brandloom

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// ============================================================================
// Types
// ============================================================================

// PresenceStatus is a user's availability state.
type PresenceStatus string

const (
	PresenceOnline    PresenceStatus = "online"
	PresenceAway      PresenceStatus = "away"
	PresenceBusy      PresenceStatus = "busy"
	PresenceInvisible PresenceStatus = "invisible"
)

// UserPresence is the tracked state of one remote user. At most one record
// exists per userId.
type UserPresence struct {
	UserID     string         `json:"userId"`
	Username   string         `json:"username"`
	Avatar     string         `json:"avatar,omitempty"`
	Presence   PresenceStatus `json:"presence"`
	LastActive time.Time      `json:"lastActive"`
}

// RoomParticipant is one member of a room.
type RoomParticipant struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// PresenceUpdatePayload is the inbound presence_update event.
type PresenceUpdatePayload struct {
	UserID     string         `json:"userId"`
	Username   string         `json:"username,omitempty"`
	Presence   PresenceStatus `json:"presence"`
	LastActive time.Time      `json:"lastActive"`
}

// RoomJoinedPayload is the inbound room_joined event carrying the
// authoritative participant list.
type RoomJoinedPayload struct {
	RoomID       string            `json:"roomId"`
	Participants []RoomParticipant `json:"participants"`
}

// RoomMemberPayload is the inbound user_joined_room / user_left_room event.
type RoomMemberPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// TypingIndicatorPayload is the inbound typing_indicator event.
type TypingIndicatorPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// ============================================================================
// Configuration
// ============================================================================

// TrackerConfig configures the presence tracker.
type TrackerConfig struct {
	// TypingTimeout expires typing indicators (local and remote) that are
	// not renewed. Default 3s.
	TypingTimeout time.Duration
	// IdleTimeout flips the local user online → away with no Activity calls.
	// Default 5m.
	IdleTimeout time.Duration
	// IdlePollInterval is how often the idle check runs. Default IdleTimeout/10.
	IdlePollInterval time.Duration
	// HeartbeatInterval spaces the liveness pings sent while authenticated.
	// Default 30s.
	HeartbeatInterval time.Duration
}

func (c *TrackerConfig) defaults() {
	if c.TypingTimeout == 0 {
		c.TypingTimeout = 3 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.IdlePollInterval == 0 {
		c.IdlePollInterval = c.IdleTimeout / 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerConfig replaces the tracker config.
func WithTrackerConfig(cfg TrackerConfig) TrackerOption {
	return func(t *Tracker) { t.cfg = cfg }
}

// WithTrackerClock injects a clock; defaults to clockz.RealClock.
func WithTrackerClock(clock clockz.Clock) TrackerOption {
	return func(t *Tracker) { t.clock = clock }
}

// WithTrackerLogger injects a logger; defaults to NopLogger.
func WithTrackerLogger(l Logger) TrackerOption {
	return func(t *Tracker) { t.log = l }
}

// ============================================================================
// Tracker
// ============================================================================

// Tracker consumes gateway events to maintain per-user presence, per-room
// membership, and typing indicators, and drives the local user's idle-based
// presence transitions plus the session heartbeat.
type Tracker struct {
	gw    Gateway
	clock clockz.Clock
	log   Logger
	cfg   TrackerConfig

	mu           sync.Mutex
	users        map[string]*UserPresence
	rooms        map[string]map[string]RoomParticipant
	typingRemote map[string]map[string]string // roomID → userID → username
	typingLocal  map[string]bool              // roomID → true while we type
	local        PresenceStatus
	manual       bool // busy/invisible set explicitly; wins over idle
	idleAway     bool // away entered by the idle timer, not by hand
	lastActivity time.Time

	timers *timerSet
	stop   chan struct{}
	unsubs []func()
}

// NewTracker builds a tracker on top of gw and begins consuming its events.
func NewTracker(gw Gateway, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		gw:           gw,
		clock:        clockz.RealClock,
		log:          NopLogger{},
		users:        make(map[string]*UserPresence),
		rooms:        make(map[string]map[string]RoomParticipant),
		typingRemote: make(map[string]map[string]string),
		typingLocal:  make(map[string]bool),
		local:        PresenceOnline,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.cfg.defaults()
	t.timers = newTimerSet(t.clock)
	t.lastActivity = t.clock.Now()

	t.unsubs = []func(){
		gw.On(EventAuthenticated, t.onAuthenticated),
		gw.On(EventUserConnected, t.onUserConnected),
		gw.On(EventUserDisconnected, t.onUserDisconnected),
		gw.On(EventPresenceUpdate, t.onPresenceUpdate),
		gw.On(EventRoomJoined, t.onRoomJoined),
		gw.On(EventUserJoinedRoom, t.onUserJoinedRoom),
		gw.On(EventUserLeftRoom, t.onUserLeftRoom),
		gw.On(EventTypingIndicator, t.onTypingIndicator),
		gw.On(EventDisconnected, t.onDisconnected),
	}

	go t.idleLoop()
	go t.heartbeatLoop()

	return t
}

// Close unsubscribes from the gateway and cancels every timer.
func (t *Tracker) Close() {
	for _, u := range t.unsubs {
		u()
	}
	t.unsubs = nil
	close(t.stop)
	t.timers.cancelAll()
}

// ============================================================================
// Read state
// ============================================================================

// OnlineUsers returns the tracked remote users, sorted by username.
func (t *Tracker) OnlineUsers() []UserPresence {
	t.mu.Lock()
	out := make([]UserPresence, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, *u)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// User returns the presence record for a user, if tracked.
func (t *Tracker) User(userID string) (UserPresence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		return UserPresence{}, false
	}
	return *u, true
}

// RoomParticipants returns the members of a room, sorted by username.
func (t *Tracker) RoomParticipants(roomID string) []RoomParticipant {
	t.mu.Lock()
	members := t.rooms[roomID]
	out := make([]RoomParticipant, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// TypingUsers returns the usernames currently typing in a room.
func (t *Tracker) TypingUsers(roomID string) []string {
	t.mu.Lock()
	out := make([]string, 0, len(t.typingRemote[roomID]))
	for _, name := range t.typingRemote[roomID] {
		out = append(out, name)
	}
	t.mu.Unlock()
	sort.Strings(out)
	return out
}

// LocalPresence returns the local user's current presence.
func (t *Tracker) LocalPresence() PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// ============================================================================
// Actions
// ============================================================================

// SetPresence sets the local presence. Busy and invisible are manual
// overrides that the idle detector will not touch.
func (t *Tracker) SetPresence(ctx context.Context, status PresenceStatus) error {
	if !t.gw.Authenticated() {
		return ErrNotAuthenticated
	}

	t.mu.Lock()
	t.local = status
	t.manual = status == PresenceBusy || status == PresenceInvisible
	t.idleAway = false
	if status == PresenceOnline {
		t.lastActivity = t.clock.Now()
	}
	t.mu.Unlock()

	return t.gw.Emit(ctx, EventPresenceUpdate, map[string]any{"presence": status})
}

// Activity records local user activity, resetting the idle timer and waking
// the local user from idle-induced away.
func (t *Tracker) Activity() {
	t.mu.Lock()
	t.lastActivity = t.clock.Now()
	wake := t.idleAway
	if wake {
		t.idleAway = false
		t.local = PresenceOnline
	}
	t.mu.Unlock()

	if wake && t.gw.Authenticated() {
		if err := t.gw.Emit(context.Background(), EventPresenceUpdate, map[string]any{"presence": PresenceOnline}); err != nil {
			t.log.Debug("presence wake emit failed", map[string]any{"error": err.Error()})
		}
	}
}

// StartTyping announces typing in a room and arms the auto-stop timer.
// Calling it again within the window renews the timer.
func (t *Tracker) StartTyping(ctx context.Context, roomID string) error {
	if !t.gw.Authenticated() {
		return ErrNotAuthenticated
	}

	t.mu.Lock()
	t.typingLocal[roomID] = true
	t.mu.Unlock()

	t.timers.arm("typing:"+roomID, t.cfg.TypingTimeout, func() {
		t.expireLocalTyping(roomID)
	})

	return t.gw.Emit(ctx, EventTypingStart, map[string]string{"roomId": roomID})
}

// StopTyping cancels the auto-stop timer and announces the stop. No-op when
// not typing in the room.
func (t *Tracker) StopTyping(ctx context.Context, roomID string) error {
	t.mu.Lock()
	wasTyping := t.typingLocal[roomID]
	delete(t.typingLocal, roomID)
	t.mu.Unlock()

	t.timers.cancel("typing:" + roomID)
	if !wasTyping {
		return nil
	}
	return t.gw.Emit(ctx, EventTypingStop, map[string]string{"roomId": roomID})
}

func (t *Tracker) expireLocalTyping(roomID string) {
	t.mu.Lock()
	wasTyping := t.typingLocal[roomID]
	delete(t.typingLocal, roomID)
	t.mu.Unlock()

	if !wasTyping {
		return
	}
	if err := t.gw.Emit(context.Background(), EventTypingStop, map[string]string{"roomId": roomID}); err != nil {
		t.log.Debug("typing expiry emit failed", map[string]any{"room": roomID, "error": err.Error()})
	}
}

// ============================================================================
// Event handlers
// ============================================================================

func (t *Tracker) onAuthenticated(_ string, payload json.RawMessage) {
	var p AuthenticatedPayload
	if json.Unmarshal(payload, &p) != nil {
		return
	}
	t.mu.Lock()
	for _, u := range p.ConnectedUsers {
		t.upsertLocked(u)
	}
	t.mu.Unlock()
}

func (t *Tracker) onUserConnected(_ string, payload json.RawMessage) {
	var u RemoteUser
	if json.Unmarshal(payload, &u) != nil || u.UserID == "" {
		return
	}
	t.mu.Lock()
	t.upsertLocked(u)
	t.mu.Unlock()
}

func (t *Tracker) upsertLocked(u RemoteUser) {
	status := PresenceStatus(u.Presence)
	if status == "" {
		status = PresenceOnline
	}
	if rec, ok := t.users[u.UserID]; ok {
		rec.Username = u.Username
		rec.Avatar = u.Avatar
		rec.Presence = status
		rec.LastActive = t.clock.Now()
		return
	}
	t.users[u.UserID] = &UserPresence{
		UserID:     u.UserID,
		Username:   u.Username,
		Avatar:     u.Avatar,
		Presence:   status,
		LastActive: t.clock.Now(),
	}
}

func (t *Tracker) onUserDisconnected(_ string, payload json.RawMessage) {
	var u RemoteUser
	if json.Unmarshal(payload, &u) != nil || u.UserID == "" {
		return
	}
	t.mu.Lock()
	delete(t.users, u.UserID)
	for roomID, members := range t.rooms {
		delete(members, u.UserID)
		t.removeRemoteTypingLocked(roomID, u.UserID)
	}
	t.mu.Unlock()
}

func (t *Tracker) onPresenceUpdate(_ string, payload json.RawMessage) {
	var p PresenceUpdatePayload
	if json.Unmarshal(payload, &p) != nil || p.UserID == "" {
		return
	}
	t.mu.Lock()
	rec, ok := t.users[p.UserID]
	if !ok {
		rec = &UserPresence{UserID: p.UserID, Username: p.Username}
		t.users[p.UserID] = rec
	}
	rec.Presence = p.Presence
	if !p.LastActive.IsZero() {
		rec.LastActive = p.LastActive
	} else {
		rec.LastActive = t.clock.Now()
	}
	t.mu.Unlock()
}

func (t *Tracker) onRoomJoined(_ string, payload json.RawMessage) {
	var p RoomJoinedPayload
	if json.Unmarshal(payload, &p) != nil || p.RoomID == "" {
		return
	}
	// Authoritative list replaces whatever we guessed so far.
	members := make(map[string]RoomParticipant, len(p.Participants))
	for _, m := range p.Participants {
		members[m.UserID] = m
	}
	t.mu.Lock()
	t.rooms[p.RoomID] = members
	t.mu.Unlock()
}

func (t *Tracker) onUserJoinedRoom(_ string, payload json.RawMessage) {
	var p RoomMemberPayload
	if json.Unmarshal(payload, &p) != nil || p.RoomID == "" || p.UserID == "" {
		return
	}
	t.mu.Lock()
	if t.rooms[p.RoomID] == nil {
		t.rooms[p.RoomID] = make(map[string]RoomParticipant)
	}
	t.rooms[p.RoomID][p.UserID] = RoomParticipant{UserID: p.UserID, Username: p.Username, Avatar: p.Avatar}
	t.mu.Unlock()
}

func (t *Tracker) onUserLeftRoom(_ string, payload json.RawMessage) {
	var p RoomMemberPayload
	if json.Unmarshal(payload, &p) != nil || p.RoomID == "" || p.UserID == "" {
		return
	}
	t.mu.Lock()
	delete(t.rooms[p.RoomID], p.UserID)
	t.removeRemoteTypingLocked(p.RoomID, p.UserID)
	t.mu.Unlock()
}

func (t *Tracker) onTypingIndicator(_ string, payload json.RawMessage) {
	var p TypingIndicatorPayload
	if json.Unmarshal(payload, &p) != nil || p.RoomID == "" || p.UserID == "" {
		return
	}

	if !p.IsTyping {
		t.mu.Lock()
		t.removeRemoteTypingLocked(p.RoomID, p.UserID)
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	if t.typingRemote[p.RoomID] == nil {
		t.typingRemote[p.RoomID] = make(map[string]string)
	}
	t.typingRemote[p.RoomID][p.UserID] = p.Username
	t.mu.Unlock()

	// Remote indicators expire locally even if the stop event never arrives.
	roomID, userID := p.RoomID, p.UserID
	t.timers.arm("rtyping:"+roomID+":"+userID, t.cfg.TypingTimeout, func() {
		t.mu.Lock()
		delete(t.typingRemote[roomID], userID)
		t.mu.Unlock()
	})
}

// removeRemoteTypingLocked is the single removal path for remote typing
// entries; it always cancels the paired expiry timer.
func (t *Tracker) removeRemoteTypingLocked(roomID, userID string) {
	delete(t.typingRemote[roomID], userID)
	t.timers.cancel("rtyping:" + roomID + ":" + userID)
}

func (t *Tracker) onDisconnected(_ string, _ json.RawMessage) {
	t.mu.Lock()
	t.users = make(map[string]*UserPresence)
	t.rooms = make(map[string]map[string]RoomParticipant)
	for roomID, members := range t.typingRemote {
		for userID := range members {
			t.timers.cancel("rtyping:" + roomID + ":" + userID)
		}
	}
	t.typingRemote = make(map[string]map[string]string)
	for roomID := range t.typingLocal {
		t.timers.cancel("typing:" + roomID)
	}
	t.typingLocal = make(map[string]bool)
	t.mu.Unlock()
}

// ============================================================================
// Background loops
// ============================================================================

func (t *Tracker) idleLoop() {
	ticker := t.clock.NewTicker(t.cfg.IdlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C():
			t.mu.Lock()
			idle := t.local == PresenceOnline && !t.manual &&
				t.clock.Now().Sub(t.lastActivity) >= t.cfg.IdleTimeout
			if idle {
				t.local = PresenceAway
				t.idleAway = true
			}
			t.mu.Unlock()

			if idle && t.gw.Authenticated() {
				if err := t.gw.Emit(context.Background(), EventPresenceUpdate, map[string]any{"presence": PresenceAway}); err != nil {
					t.log.Debug("idle presence emit failed", map[string]any{"error": err.Error()})
				}
			}
		}
	}
}

func (t *Tracker) heartbeatLoop() {
	ticker := t.clock.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C():
			if !t.gw.Authenticated() {
				continue
			}
			if err := t.gw.Emit(context.Background(), EventPing, nil); err != nil {
				t.log.Debug("heartbeat failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
