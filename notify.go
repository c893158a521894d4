package brandloom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// ============================================================================
// Types
// ============================================================================

// NotificationPriority orders notifications by urgency.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// NotificationCategory groups notifications for per-type filtering.
type NotificationCategory string

const (
	CategoryApproval      NotificationCategory = "approval"
	CategoryMention       NotificationCategory = "mention"
	CategorySystem        NotificationCategory = "system"
	CategoryCollaboration NotificationCategory = "collaboration"
)

// categoryFor maps a raw notification type onto a filter category.
// Everything unrecognized is collaboration.
func categoryFor(rawType string) NotificationCategory {
	switch NotificationCategory(rawType) {
	case CategoryApproval, CategoryMention, CategorySystem:
		return NotificationCategory(rawType)
	}
	return CategoryCollaboration
}

// NotificationAction is a follow-up a notification offers the user.
type NotificationAction struct {
	Label  string `json:"label"`
	Action string `json:"action"`
}

// Notification is one user-facing entry in the delivery queue.
type Notification struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	Category   NotificationCategory `json:"category"`
	Title      string               `json:"title"`
	Message    string               `json:"message"`
	Timestamp  time.Time            `json:"timestamp"`
	Read       bool                 `json:"read"`
	Priority   NotificationPriority `json:"priority"`
	Persistent bool                 `json:"persistent,omitempty"`
	Actions    []NotificationAction `json:"actions,omitempty"`
	// Sound overrides the global sound toggle for this notification.
	Sound *bool `json:"sound,omitempty"`
}

// QuietHours is a local-time window during which only urgent notifications
// are delivered. Start/End are "HH:MM"; the window may cross midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// NotificationSettings is the per-session notification configuration.
type NotificationSettings struct {
	Enabled    bool                          `json:"enabled"`
	Sound      bool                          `json:"sound"`
	Desktop    bool                          `json:"desktop"`
	Types      map[NotificationCategory]bool `json:"types"`
	QuietHours QuietHours                    `json:"quietHours"`
}

// DefaultNotificationSettings enables everything except desktop alerts,
// which stay off until permission is granted.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		Enabled: true,
		Sound:   true,
		Desktop: false,
		Types: map[NotificationCategory]bool{
			CategoryApproval:      true,
			CategoryMention:       true,
			CategorySystem:        true,
			CategoryCollaboration: true,
		},
	}
}

// SettingsPatch is a partial settings update. Pointer fields distinguish
// "not provided" from "set to zero".
type SettingsPatch struct {
	Enabled    *bool
	Sound      *bool
	Desktop    *bool
	Types      map[NotificationCategory]bool
	QuietHours *QuietHours
}

// ============================================================================
// Side-effect collaborators
// ============================================================================

// PermissionState mirrors the desktop-notification permission model:
// undecided, granted, or denied.
type PermissionState string

const (
	PermissionDefault PermissionState = "default"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// Sounder plays notification sounds.
type Sounder interface {
	Play(priority NotificationPriority) error
}

// DesktopNotifier raises OS-level notifications. Permission must be obtained
// through RequestPermission; Show is only called while Permission reports
// granted.
type DesktopNotifier interface {
	Permission() PermissionState
	RequestPermission(ctx context.Context) (PermissionState, error)
	Show(n Notification) error
}

// ErrNoDesktopNotifier is returned by RequestPermission when no desktop
// notifier was injected.
var ErrNoDesktopNotifier = errors.New("brandloom: no desktop notifier configured")

// ============================================================================
// Configuration
// ============================================================================

// CenterConfig configures the notification center.
type CenterConfig struct {
	// MaxNotifications caps the queue; oldest non-persistent entries are
	// evicted first. Default 100.
	MaxNotifications int
	// AutoRemoveAfter expires non-persistent notifications. Default 5m.
	AutoRemoveAfter time.Duration
}

func (c *CenterConfig) defaults() {
	if c.MaxNotifications == 0 {
		c.MaxNotifications = 100
	}
	if c.AutoRemoveAfter == 0 {
		c.AutoRemoveAfter = 5 * time.Minute
	}
}

// CenterOption customizes a Center.
type CenterOption func(*Center)

// WithCenterConfig replaces the center config.
func WithCenterConfig(cfg CenterConfig) CenterOption {
	return func(c *Center) { c.cfg = cfg }
}

// WithSettingsStore loads settings from the store at construction and writes
// every settings change back to it synchronously.
func WithSettingsStore(s *SettingsStore) CenterOption {
	return func(c *Center) { c.store = s }
}

// WithSounder injects the sound side effect.
func WithSounder(s Sounder) CenterOption {
	return func(c *Center) { c.sounder = s }
}

// WithDesktopNotifier injects the desktop-alert side effect.
func WithDesktopNotifier(d DesktopNotifier) CenterOption {
	return func(c *Center) { c.desktop = d }
}

// WithCenterClock injects a clock; defaults to clockz.RealClock.
func WithCenterClock(clock clockz.Clock) CenterOption {
	return func(c *Center) { c.clock = clock }
}

// WithCenterLogger injects a logger; defaults to NopLogger.
func WithCenterLogger(l Logger) CenterOption {
	return func(c *Center) { c.log = l }
}

// ============================================================================
// Center
// ============================================================================

// Center transforms inbound realtime events into user-facing notifications,
// applies the settings-driven filter pipeline, and manages lifecycle: sound
// and desktop side effects, read state, expiry, and eviction.
type Center struct {
	gw      Gateway
	clock   clockz.Clock
	log     Logger
	cfg     CenterConfig
	store   *SettingsStore
	sounder Sounder
	desktop DesktopNotifier

	mu       sync.Mutex
	list     []*Notification // newest first
	unread   int
	settings NotificationSettings

	timers *timerSet
	unsubs []func()
}

// NewCenter builds a notification center on top of gw and begins consuming
// its events. Settings load from the store when one is configured.
func NewCenter(gw Gateway, opts ...CenterOption) *Center {
	c := &Center{
		gw:       gw,
		clock:    clockz.RealClock,
		log:      NopLogger{},
		settings: DefaultNotificationSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg.defaults()
	c.timers = newTimerSet(c.clock)

	if c.store != nil {
		if saved, err := c.store.Load(); err != nil {
			c.log.Warn("loading notification settings failed", map[string]any{"error": err.Error()})
		} else if saved != nil {
			c.settings = *saved
		}
	}

	for _, event := range []string{
		EventNotification,
		EventApprovalUpdate,
		EventMention,
		EventSystemMessage,
		EventNewMessage,
	} {
		c.unsubs = append(c.unsubs, gw.On(event, c.onEvent))
	}

	return c
}

// Close unsubscribes from the gateway and cancels every expiry timer.
func (c *Center) Close() {
	for _, u := range c.unsubs {
		u()
	}
	c.unsubs = nil
	c.timers.cancelAll()
}

// ============================================================================
// Read state
// ============================================================================

// Notifications returns the queue, newest first.
func (c *Center) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.list))
	for i, n := range c.list {
		out[i] = *n
	}
	return out
}

// UnreadCount returns the number of unread notifications.
func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Settings returns a copy of the current settings.
func (c *Center) Settings() NotificationSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.settings
	s.Types = make(map[NotificationCategory]bool, len(c.settings.Types))
	for k, v := range c.settings.Types {
		s.Types[k] = v
	}
	return s
}

// ============================================================================
// Actions
// ============================================================================

// Publish runs a notification through the filter pipeline and, if accepted,
// enqueues it with all delivery side effects. Inbound gateway events route
// here; local callers may publish their own.
func (c *Center) Publish(n Notification) (accepted bool) {
	if n.Category == "" {
		n.Category = categoryFor(n.Type)
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}

	c.mu.Lock()
	if !c.acceptLocked(n) {
		c.mu.Unlock()
		return false
	}
	n.ID = uuid.NewString()
	n.Timestamp = c.clock.Now()
	stored := n
	c.list = append([]*Notification{&stored}, c.list...)
	c.unread++
	c.evictLocked()
	settings := c.settings
	c.mu.Unlock()

	if settings.Sound && c.sounder != nil && (n.Sound == nil || *n.Sound) {
		if err := c.sounder.Play(n.Priority); err != nil {
			c.log.Debug("notification sound failed", map[string]any{"error": err.Error()})
		}
	}
	if settings.Desktop && c.desktop != nil && c.desktop.Permission() == PermissionGranted {
		if err := c.desktop.Show(n); err != nil {
			c.log.Debug("desktop notification failed", map[string]any{"error": err.Error()})
		}
	}
	if !n.Persistent {
		id := stored.ID
		c.timers.arm("notif:"+id, c.cfg.AutoRemoveAfter, func() {
			c.Remove(id)
		})
	}
	return true
}

// acceptLocked is the filter pipeline: global toggle, per-category toggle,
// quiet hours. Rejections are silent by design.
func (c *Center) acceptLocked(n Notification) bool {
	if !c.settings.Enabled {
		return false
	}
	if enabled, ok := c.settings.Types[n.Category]; ok && !enabled {
		return false
	}
	if c.settings.QuietHours.Enabled &&
		quietHoursActive(c.settings.QuietHours, c.clock.Now()) &&
		n.Priority != PriorityUrgent {
		return false
	}
	return true
}

// MarkAsRead flips one notification to read.
func (c *Center) MarkAsRead(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.list {
		if n.ID == id {
			if !n.Read {
				n.Read = true
				c.unread--
			}
			return
		}
	}
}

// MarkAllAsRead flips every notification to read.
func (c *Center) MarkAllAsRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.list {
		n.Read = true
	}
	c.unread = 0
}

// Remove deletes one notification and cancels its expiry timer.
func (c *Center) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.list {
		if n.ID == id {
			c.removeAtLocked(i)
			return
		}
	}
}

// ClearAll empties the queue, cancelling every pending expiry timer.
func (c *Center) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.list) > 0 {
		c.removeAtLocked(0)
	}
}

// ClearRead removes every read notification.
func (c *Center) ClearRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.list) - 1; i >= 0; i-- {
		if c.list[i].Read {
			c.removeAtLocked(i)
		}
	}
}

// removeAtLocked is the single removal path: every eviction, expiry, and
// clear goes through it so the paired timer can never outlive the entry.
func (c *Center) removeAtLocked(i int) {
	n := c.list[i]
	if !n.Read {
		c.unread--
	}
	c.list = append(c.list[:i], c.list[i+1:]...)
	c.timers.cancel("notif:" + n.ID)
}

// evictLocked trims the queue to the cap, oldest non-persistent first.
func (c *Center) evictLocked() {
	for len(c.list) > c.cfg.MaxNotifications {
		victim := -1
		for i := len(c.list) - 1; i >= 0; i-- {
			if !c.list[i].Persistent {
				victim = i
				break
			}
		}
		if victim == -1 {
			victim = len(c.list) - 1 // all persistent; drop the oldest anyway
		}
		c.removeAtLocked(victim)
	}
}

// UpdateSettings merges a patch into the settings and writes the merged
// result to the store synchronously.
func (c *Center) UpdateSettings(patch SettingsPatch) error {
	c.mu.Lock()
	if patch.Enabled != nil {
		c.settings.Enabled = *patch.Enabled
	}
	if patch.Sound != nil {
		c.settings.Sound = *patch.Sound
	}
	if patch.Desktop != nil {
		c.settings.Desktop = *patch.Desktop
	}
	if patch.Types != nil {
		if c.settings.Types == nil {
			c.settings.Types = make(map[NotificationCategory]bool)
		}
		for k, v := range patch.Types {
			c.settings.Types[k] = v
		}
	}
	if patch.QuietHours != nil {
		c.settings.QuietHours = *patch.QuietHours
	}
	merged := c.settings
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(merged); err != nil {
			return fmt.Errorf("persist settings: %w", err)
		}
	}
	return nil
}

// RequestPermission asks the desktop notifier for permission. Desktop alerts
// never fire without an explicit grant obtained here.
func (c *Center) RequestPermission(ctx context.Context) (PermissionState, error) {
	if c.desktop == nil {
		return PermissionDenied, ErrNoDesktopNotifier
	}
	return c.desktop.RequestPermission(ctx)
}

// ============================================================================
// Event handling
// ============================================================================

func (c *Center) onEvent(event string, payload json.RawMessage) {
	n, ok := c.fromEvent(event, payload)
	if !ok {
		return
	}
	c.Publish(n)
}

// notificationPayload is the inbound notification event body.
type notificationPayload struct {
	Type       string               `json:"type"`
	Title      string               `json:"title"`
	Message    string               `json:"message"`
	Priority   NotificationPriority `json:"priority"`
	Persistent bool                 `json:"persistent"`
	Sound      *bool                `json:"sound"`
	Actions    []NotificationAction `json:"actions"`
}

func (c *Center) fromEvent(event string, payload json.RawMessage) (Notification, bool) {
	switch event {
	case EventNotification:
		var p notificationPayload
		if json.Unmarshal(payload, &p) != nil {
			return Notification{}, false
		}
		return Notification{
			Type:       p.Type,
			Title:      p.Title,
			Message:    p.Message,
			Priority:   p.Priority,
			Persistent: p.Persistent,
			Sound:      p.Sound,
			Actions:    p.Actions,
		}, true

	case EventApprovalUpdate:
		var p struct {
			ContentID string `json:"contentId"`
			Status    string `json:"status"`
			Reviewer  string `json:"reviewer"`
		}
		if json.Unmarshal(payload, &p) != nil {
			return Notification{}, false
		}
		priority := PriorityMedium
		if p.Status == "rejected" {
			priority = PriorityHigh
		}
		return Notification{
			Type:     string(CategoryApproval),
			Title:    "Approval update",
			Message:  fmt.Sprintf("Content %s was %s", p.ContentID, p.Status),
			Priority: priority,
		}, true

	case EventMention:
		var p struct {
			Username string `json:"username"`
			RoomID   string `json:"roomId"`
			Content  string `json:"content"`
		}
		if json.Unmarshal(payload, &p) != nil {
			return Notification{}, false
		}
		return Notification{
			Type:     string(CategoryMention),
			Title:    fmt.Sprintf("%s mentioned you", p.Username),
			Message:  p.Content,
			Priority: PriorityHigh,
		}, true

	case EventSystemMessage:
		var p struct {
			Message  string               `json:"message"`
			Priority NotificationPriority `json:"priority"`
		}
		if json.Unmarshal(payload, &p) != nil {
			return Notification{}, false
		}
		return Notification{
			Type:     string(CategorySystem),
			Title:    "System",
			Message:  p.Message,
			Priority: p.Priority,
		}, true

	case EventNewMessage:
		var p struct {
			Username string `json:"username"`
			RoomID   string `json:"roomId"`
			Content  string `json:"content"`
		}
		if json.Unmarshal(payload, &p) != nil {
			return Notification{}, false
		}
		return Notification{
			Type:     "message",
			Title:    fmt.Sprintf("New message from %s", p.Username),
			Message:  p.Content,
			Priority: PriorityLow,
		}, true
	}
	return Notification{}, false
}

// quietHoursActive reports whether t falls inside the quiet-hours window.
// Windows may cross midnight (22:00 to 08:00).
func quietHoursActive(q QuietHours, t time.Time) bool {
	start, err := parseClockMinutes(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClockMinutes(q.End)
	if err != nil {
		return false
	}
	now := t.Hour()*60 + t.Minute()
	if start <= end {
		return now >= start && now < end
	}
	return now >= start || now < end
}

func parseClockMinutes(s string) (int, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
