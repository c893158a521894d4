package brandloom

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

// emittedCommand is one command the fake gateway captured.
type emittedCommand struct {
	event   string
	payload []byte
}

// fakeGateway implements Gateway in-process: it records every Emit and lets
// tests inject inbound events the way the read loop would deliver them.
type fakeGateway struct {
	d *eventDispatcher

	mu      sync.Mutex
	authed  bool
	emitErr error
	emits   []emittedCommand
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{d: newEventDispatcher(), authed: true}
}

func (g *fakeGateway) On(event string, h EventHandler) func() {
	return g.d.on(event, h)
}

func (g *fakeGateway) Emit(_ context.Context, event string, payload any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.emitErr != nil {
		return g.emitErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	g.emits = append(g.emits, emittedCommand{event: event, payload: data})
	return nil
}

func (g *fakeGateway) Authenticated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authed
}

func (g *fakeGateway) setAuthenticated(v bool) {
	g.mu.Lock()
	g.authed = v
	g.mu.Unlock()
}

func (g *fakeGateway) setEmitErr(err error) {
	g.mu.Lock()
	g.emitErr = err
	g.mu.Unlock()
}

// receive injects an inbound event as the gateway read loop would.
func (g *fakeGateway) receive(t *testing.T, event string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	g.d.dispatch(event, raw)
}

// emitted returns the captured commands for one event type.
func (g *fakeGateway) emitted(event string) []emittedCommand {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []emittedCommand
	for _, e := range g.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestTracker(t *testing.T, gw *fakeGateway, cfg TrackerConfig) *Tracker {
	t.Helper()
	tr := NewTracker(gw, WithTrackerConfig(cfg))
	t.Cleanup(tr.Close)
	return tr
}

// ============================================================================
// User presence
// ============================================================================

func TestTrackerUserLifecycle(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{})

	gw.receive(t, EventUserConnected, RemoteUser{UserID: "u1", Username: "ana"})
	gw.receive(t, EventUserConnected, RemoteUser{UserID: "u2", Username: "bob", Presence: "busy"})

	if got := len(tr.OnlineUsers()); got != 2 {
		t.Fatalf("expected 2 tracked users, got %d", got)
	}
	if u, ok := tr.User("u2"); !ok || u.Presence != PresenceBusy {
		t.Errorf("expected u2 busy, got %+v ok=%v", u, ok)
	}

	// Duplicate connect events must not create a second record.
	gw.receive(t, EventUserConnected, RemoteUser{UserID: "u1", Username: "ana-renamed"})
	if got := len(tr.OnlineUsers()); got != 2 {
		t.Fatalf("duplicate user_connected created a record: %d users", got)
	}
	if u, _ := tr.User("u1"); u.Username != "ana-renamed" {
		t.Errorf("expected username updated in place, got %q", u.Username)
	}

	gw.receive(t, EventPresenceUpdate, PresenceUpdatePayload{UserID: "u1", Presence: PresenceAway})
	if u, _ := tr.User("u1"); u.Presence != PresenceAway {
		t.Errorf("expected u1 away, got %s", u.Presence)
	}

	gw.receive(t, EventUserDisconnected, RemoteUser{UserID: "u1"})
	if _, ok := tr.User("u1"); ok {
		t.Error("expected u1 removed after user_disconnected")
	}
	if got := len(tr.OnlineUsers()); got != 1 {
		t.Fatalf("expected 1 user left, got %d", got)
	}
}

func TestTrackerAuthenticatedSeedsUsers(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{})

	gw.receive(t, EventAuthenticated, AuthenticatedPayload{ConnectedUsers: []RemoteUser{
		{UserID: "u1", Username: "ana"},
		{UserID: "u2", Username: "bob"},
	}})

	users := tr.OnlineUsers()
	if len(users) != 2 {
		t.Fatalf("expected 2 seeded users, got %d", len(users))
	}
	if users[0].Username != "ana" || users[1].Username != "bob" {
		t.Errorf("expected sorted usernames, got %+v", users)
	}
}

func TestTrackerPresenceUpdateForUnknownUser(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{})

	gw.receive(t, EventPresenceUpdate, PresenceUpdatePayload{UserID: "ghost", Username: "ghost", Presence: PresenceOnline})
	if _, ok := tr.User("ghost"); !ok {
		t.Error("expected presence_update to create a record for an unknown user")
	}
}

// ============================================================================
// Rooms
// ============================================================================

func TestTrackerRoomMembership(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{})

	gw.receive(t, EventUserJoinedRoom, RoomMemberPayload{RoomID: "r1", UserID: "u1", Username: "ana"})
	gw.receive(t, EventUserJoinedRoom, RoomMemberPayload{RoomID: "r1", UserID: "u2", Username: "bob"})
	if got := len(tr.RoomParticipants("r1")); got != 2 {
		t.Fatalf("expected 2 participants, got %d", got)
	}

	// room_joined carries the authoritative list and replaces the local one.
	gw.receive(t, EventRoomJoined, RoomJoinedPayload{RoomID: "r1", Participants: []RoomParticipant{
		{UserID: "u3", Username: "cat"},
	}})
	participants := tr.RoomParticipants("r1")
	if len(participants) != 1 || participants[0].UserID != "u3" {
		t.Fatalf("expected room_joined to replace participants, got %+v", participants)
	}

	gw.receive(t, EventUserLeftRoom, RoomMemberPayload{RoomID: "r1", UserID: "u3"})
	if got := len(tr.RoomParticipants("r1")); got != 0 {
		t.Fatalf("expected empty room, got %d participants", got)
	}
}

// ============================================================================
// Typing indicators
// ============================================================================

func TestTrackerLocalTypingAutoExpires(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{TypingTimeout: 40 * time.Millisecond})

	if err := tr.StartTyping(context.Background(), "r1"); err != nil {
		t.Fatalf("StartTyping: %v", err)
	}
	if got := len(gw.emitted(EventTypingStart)); got != 1 {
		t.Fatalf("expected 1 typing_start, got %d", got)
	}

	waitFor(t, time.Second, func() bool {
		return len(gw.emitted(EventTypingStop)) == 1
	})

	// The expiry fires once; waiting longer must not emit a second stop.
	time.Sleep(100 * time.Millisecond)
	if got := len(gw.emitted(EventTypingStop)); got != 1 {
		t.Fatalf("expected exactly 1 typing_stop, got %d", got)
	}
}

func TestTrackerStartTypingRenewsTimer(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{TypingTimeout: 60 * time.Millisecond})

	if err := tr.StartTyping(context.Background(), "r1"); err != nil {
		t.Fatalf("StartTyping: %v", err)
	}
	time.Sleep(35 * time.Millisecond)
	if err := tr.StartTyping(context.Background(), "r1"); err != nil {
		t.Fatalf("StartTyping renew: %v", err)
	}
	time.Sleep(35 * time.Millisecond)

	// 70ms after the first start, but only 35ms after the renewal.
	if got := len(gw.emitted(EventTypingStop)); got != 0 {
		t.Fatalf("typing expired despite renewal: %d stops", got)
	}

	waitFor(t, time.Second, func() bool {
		return len(gw.emitted(EventTypingStop)) == 1
	})
}

func TestTrackerStopTypingCancelsExpiry(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{TypingTimeout: 40 * time.Millisecond})

	if err := tr.StartTyping(context.Background(), "r1"); err != nil {
		t.Fatalf("StartTyping: %v", err)
	}
	if err := tr.StopTyping(context.Background(), "r1"); err != nil {
		t.Fatalf("StopTyping: %v", err)
	}
	if got := len(gw.emitted(EventTypingStop)); got != 1 {
		t.Fatalf("expected 1 typing_stop from the explicit stop, got %d", got)
	}

	time.Sleep(100 * time.Millisecond)
	if got := len(gw.emitted(EventTypingStop)); got != 1 {
		t.Fatalf("cancelled expiry still fired: %d stops", got)
	}
}

func TestTrackerStopTypingWhenNotTyping(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{})

	if err := tr.StopTyping(context.Background(), "r1"); err != nil {
		t.Fatalf("StopTyping on idle room: %v", err)
	}
	if got := len(gw.emitted(EventTypingStop)); got != 0 {
		t.Fatalf("StopTyping emitted without a preceding start: %d", got)
	}
}

func TestTrackerRemoteTypingExpires(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{TypingTimeout: 40 * time.Millisecond})

	gw.receive(t, EventTypingIndicator, TypingIndicatorPayload{UserID: "u1", Username: "ana", RoomID: "r1", IsTyping: true})
	if got := tr.TypingUsers("r1"); len(got) != 1 || got[0] != "ana" {
		t.Fatalf("expected ana typing, got %v", got)
	}

	// A lost typing_stop must not leave the indicator stuck.
	waitFor(t, time.Second, func() bool {
		return len(tr.TypingUsers("r1")) == 0
	})
}

func TestTrackerRemoteTypingStopClears(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{TypingTimeout: time.Minute})

	gw.receive(t, EventTypingIndicator, TypingIndicatorPayload{UserID: "u1", Username: "ana", RoomID: "r1", IsTyping: true})
	gw.receive(t, EventTypingIndicator, TypingIndicatorPayload{UserID: "u1", Username: "ana", RoomID: "r1", IsTyping: false})

	if got := tr.TypingUsers("r1"); len(got) != 0 {
		t.Fatalf("expected no typing users, got %v", got)
	}
	if tr.timers.size() != 0 {
		t.Errorf("expected the expiry timer cancelled, %d still armed", tr.timers.size())
	}
}

// ============================================================================
// Local presence and idle detection
// ============================================================================

func TestTrackerSetPresence(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{})

	if err := tr.SetPresence(context.Background(), PresenceBusy); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	if got := tr.LocalPresence(); got != PresenceBusy {
		t.Errorf("expected busy, got %s", got)
	}
	if got := len(gw.emitted(EventPresenceUpdate)); got != 1 {
		t.Errorf("expected 1 presence_update, got %d", got)
	}
}

func TestTrackerIdleFlipsToAway(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{
		IdleTimeout:      50 * time.Millisecond,
		IdlePollInterval: 10 * time.Millisecond,
	})

	waitFor(t, time.Second, func() bool {
		return tr.LocalPresence() == PresenceAway
	})
	if got := len(gw.emitted(EventPresenceUpdate)); got != 1 {
		t.Errorf("expected 1 away broadcast, got %d", got)
	}

	// Activity wakes the user back to online.
	tr.Activity()
	if got := tr.LocalPresence(); got != PresenceOnline {
		t.Errorf("expected online after activity, got %s", got)
	}
	waitFor(t, time.Second, func() bool {
		return len(gw.emitted(EventPresenceUpdate)) == 2
	})
}

func TestTrackerActivityResetsIdleTimer(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{
		IdleTimeout:      80 * time.Millisecond,
		IdlePollInterval: 10 * time.Millisecond,
	})

	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		tr.Activity()
	}
	if got := tr.LocalPresence(); got != PresenceOnline {
		t.Errorf("went away despite steady activity: %s", got)
	}
}

func TestTrackerManualPresenceBeatsIdle(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{
		IdleTimeout:      40 * time.Millisecond,
		IdlePollInterval: 10 * time.Millisecond,
	})

	if err := tr.SetPresence(context.Background(), PresenceBusy); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if got := tr.LocalPresence(); got != PresenceBusy {
		t.Errorf("idle detector overrode manual busy: %s", got)
	}
}

func TestTrackerActionsRequireAuth(t *testing.T) {
	gw := newFakeGateway()
	gw.setAuthenticated(false)
	tr := newTestTracker(t, gw, TrackerConfig{})

	if err := tr.SetPresence(context.Background(), PresenceAway); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("SetPresence: expected ErrNotAuthenticated, got %v", err)
	}
	if err := tr.StartTyping(context.Background(), "r1"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("StartTyping: expected ErrNotAuthenticated, got %v", err)
	}
	if got := len(gw.emitted(EventPresenceUpdate)) + len(gw.emitted(EventTypingStart)); got != 0 {
		t.Errorf("unauthenticated actions still emitted %d commands", got)
	}
}

// ============================================================================
// Heartbeat
// ============================================================================

func TestTrackerHeartbeat(t *testing.T) {
	gw := newFakeGateway()
	newTestTracker(t, gw, TrackerConfig{HeartbeatInterval: 20 * time.Millisecond})

	waitFor(t, time.Second, func() bool {
		return len(gw.emitted(EventPing)) >= 2
	})
}

func TestTrackerHeartbeatPausesUnauthenticated(t *testing.T) {
	gw := newFakeGateway()
	gw.setAuthenticated(false)
	newTestTracker(t, gw, TrackerConfig{HeartbeatInterval: 15 * time.Millisecond})

	time.Sleep(80 * time.Millisecond)
	if got := len(gw.emitted(EventPing)); got != 0 {
		t.Errorf("heartbeat fired while unauthenticated: %d pings", got)
	}
}

// ============================================================================
// Disconnect reset
// ============================================================================

func TestTrackerDisconnectClearsDerivedState(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(t, gw, TrackerConfig{TypingTimeout: time.Minute})

	gw.receive(t, EventUserConnected, RemoteUser{UserID: "u1", Username: "ana"})
	gw.receive(t, EventUserJoinedRoom, RoomMemberPayload{RoomID: "r1", UserID: "u1", Username: "ana"})
	gw.receive(t, EventTypingIndicator, TypingIndicatorPayload{UserID: "u1", Username: "ana", RoomID: "r1", IsTyping: true})

	gw.receive(t, EventDisconnected, DisconnectedPayload{Code: 1006, Reason: "gone"})

	if got := len(tr.OnlineUsers()); got != 0 {
		t.Errorf("users survived disconnect: %d", got)
	}
	if got := len(tr.RoomParticipants("r1")); got != 0 {
		t.Errorf("room members survived disconnect: %d", got)
	}
	if got := len(tr.TypingUsers("r1")); got != 0 {
		t.Errorf("typing indicators survived disconnect: %d", got)
	}
	if tr.timers.size() != 0 {
		t.Errorf("timers survived disconnect: %d armed", tr.timers.size())
	}
}
