package brandloom

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// ============================================================================
// Types
// ============================================================================

// ChangeType classifies one atomic document edit.
type ChangeType string

const (
	ChangeInsert  ChangeType = "insert"
	ChangeDelete  ChangeType = "delete"
	ChangeReplace ChangeType = "replace"
	ChangeFormat  ChangeType = "format"
)

// Change is one immutable edit operation. Positions and lengths are rune
// offsets into the document buffer.
type Change struct {
	ID         string         `json:"id"`
	Type       ChangeType     `json:"type"`
	Position   int            `json:"position"`
	Content    string         `json:"content,omitempty"`
	Length     int            `json:"length,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	UserID     string         `json:"userId"`
	Username   string         `json:"username"`
	Timestamp  time.Time      `json:"timestamp"`
}

// CursorPosition is a remote user's cursor location.
type CursorPosition struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Username string  `json:"username,omitempty"`
}

// SelectionRange is a remote user's selection.
type SelectionRange struct {
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Username string `json:"username,omitempty"`
}

// DocumentUpdatePayload is the inbound document_update event: a batch of
// changes from one remote session plus that session's version.
type DocumentUpdatePayload struct {
	DocumentID string    `json:"documentId"`
	Changes    []Change  `json:"changes"`
	Version    int64     `json:"version"`
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	Timestamp  time.Time `json:"timestamp"`
}

// DocumentSyncPayload is the inbound document_sync event carrying the
// authoritative document state.
type DocumentSyncPayload struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	Version    int64  `json:"version"`
}

// CursorMovePayload is the cursor_move event in both directions.
type CursorMovePayload struct {
	RoomID   string  `json:"roomId"`
	UserID   string  `json:"userId,omitempty"`
	Username string  `json:"username,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// SelectionChangePayload is the selection_change event in both directions.
type SelectionChangePayload struct {
	RoomID     string `json:"roomId"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId,omitempty"`
	Username   string `json:"username,omitempty"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// TransformFunc reconciles a remote batch against not-yet-flushed local
// changes before the remote batch is applied. It must be pure. The only
// guaranteed behavior is pass-through when pending is empty; concurrent-edit
// transformation is an extension point, not a specified behavior.
type TransformFunc func(remote, pending []Change) []Change

// Resolution selects a conflict-resolution strategy.
type Resolution string

const (
	ResolutionAcceptRemote Resolution = "accept_remote"
	ResolutionAcceptLocal  Resolution = "accept_local"
	ResolutionMerge        Resolution = "merge"
)

// ErrMergeUnsupported is returned by ResolveConflict for ResolutionMerge.
// A three-way merge is not implemented.
var ErrMergeUnsupported = errors.New("brandloom: merge conflict resolution not implemented")

// ============================================================================
// Configuration
// ============================================================================

// EngineConfig configures the document engine.
type EngineConfig struct {
	// FlushDelay batches rapid local edits into one document_change message.
	// Default 300ms.
	FlushDelay time.Duration
	// MaxHistory caps the change history, dropping oldest first. Default 1000.
	MaxHistory int
	// CursorTTL prunes remote cursors and selections that stop updating,
	// covering dropped disconnect notifications. Default 10s.
	CursorTTL time.Duration
	// EnableCursors and EnableSelections gate position broadcasts.
	EnableCursors    bool
	EnableSelections bool
}

func (c *EngineConfig) defaults() {
	if c.FlushDelay == 0 {
		c.FlushDelay = 300 * time.Millisecond
	}
	if c.MaxHistory == 0 {
		c.MaxHistory = 1000
	}
	if c.CursorTTL == 0 {
		c.CursorTTL = 10 * time.Second
	}
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineConfig replaces the engine config.
func WithEngineConfig(cfg EngineConfig) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

// WithInitialContent seeds the document buffer.
func WithInitialContent(content string) EngineOption {
	return func(e *Engine) { e.content = []rune(content) }
}

// WithTransform replaces the transform step.
func WithTransform(fn TransformFunc) EngineOption {
	return func(e *Engine) { e.transform = fn }
}

// WithEngineClock injects a clock; defaults to clockz.RealClock.
func WithEngineClock(clock clockz.Clock) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithEngineLogger injects a logger; defaults to NopLogger.
func WithEngineLogger(l Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// ============================================================================
// Engine
// ============================================================================

// Engine maintains one shared text buffer under concurrent local and remote
// edits. Local edits apply optimistically and flush to the gateway on a
// debounce timer; remote batches pass through the transform step and merge
// with version = max(local, remote).
type Engine struct {
	gw    Gateway
	clock clockz.Clock
	log   Logger
	cfg   EngineConfig

	roomID     string
	documentID string
	user       UserInfo
	transform  TransformFunc

	mu         sync.Mutex
	content    []rune
	version    int64
	history    []Change
	pending    []Change
	cursors    map[string]CursorPosition
	selections map[string]SelectionRange

	timers *timerSet
	unsubs []func()
}

// NewEngine builds a document engine for one document in one room and begins
// consuming gateway events.
func NewEngine(gw Gateway, roomID, documentID string, user UserInfo, opts ...EngineOption) *Engine {
	e := &Engine{
		gw:         gw,
		clock:      clockz.RealClock,
		log:        NopLogger{},
		roomID:     roomID,
		documentID: documentID,
		user:       user,
		transform:  DefaultTransform,
		cursors:    make(map[string]CursorPosition),
		selections: make(map[string]SelectionRange),
	}
	e.cfg.EnableCursors = true
	e.cfg.EnableSelections = true
	for _, opt := range opts {
		opt(e)
	}
	e.cfg.defaults()
	e.timers = newTimerSet(e.clock)

	e.unsubs = []func(){
		gw.On(EventDocumentUpdate, e.onDocumentUpdate),
		gw.On(EventDocumentSync, e.onDocumentSync),
		gw.On(EventCursorMove, e.onCursorMove),
		gw.On(EventSelectionChange, e.onSelectionChange),
		gw.On(EventUserDisconnected, e.onUserDisconnected),
	}

	return e
}

// Close unsubscribes from the gateway and cancels the flush and expiry
// timers. Pending changes are dropped, not flushed.
func (e *Engine) Close() {
	for _, u := range e.unsubs {
		u()
	}
	e.unsubs = nil
	e.timers.cancelAll()
}

// ============================================================================
// Read state
// ============================================================================

// Content returns the current document buffer.
func (e *Engine) Content() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.content)
}

// Version returns the document version. It only ever increases.
func (e *Engine) Version() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// History returns a copy of the bounded change history, oldest first.
func (e *Engine) History() []Change {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Change(nil), e.history...)
}

// PendingCount returns the number of local changes awaiting flush.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Cursors returns the remote cursors keyed by userId.
func (e *Engine) Cursors() map[string]CursorPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]CursorPosition, len(e.cursors))
	for k, v := range e.cursors {
		out[k] = v
	}
	return out
}

// Selections returns the remote selections keyed by userId.
func (e *Engine) Selections() map[string]SelectionRange {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]SelectionRange, len(e.selections))
	for k, v := range e.selections {
		out[k] = v
	}
	return out
}

// ============================================================================
// Local operations
// ============================================================================

// InsertText inserts text at a rune position, applying it locally at once
// and queueing it for the debounced network flush.
func (e *Engine) InsertText(position int, text string, attrs map[string]any) Change {
	return e.localChange(Change{
		Type:       ChangeInsert,
		Position:   position,
		Content:    text,
		Attributes: attrs,
	})
}

// DeleteText deletes length runes starting at position.
func (e *Engine) DeleteText(position, length int) Change {
	return e.localChange(Change{
		Type:     ChangeDelete,
		Position: position,
		Length:   length,
	})
}

// ReplaceText replaces length runes at position with text.
func (e *Engine) ReplaceText(position, length int, text string, attrs map[string]any) Change {
	return e.localChange(Change{
		Type:       ChangeReplace,
		Position:   position,
		Length:     length,
		Content:    text,
		Attributes: attrs,
	})
}

func (e *Engine) localChange(c Change) Change {
	c.ID = uuid.NewString()
	c.UserID = e.user.UserID
	c.Username = e.user.Username
	c.Timestamp = e.clock.Now()

	e.mu.Lock()
	e.applyLocked(c)
	e.version++
	e.appendHistoryLocked(c)
	e.pending = append(e.pending, c)
	e.mu.Unlock()

	// Classic trailing debounce: every keystroke pushes the flush out.
	e.timers.arm("flush", e.cfg.FlushDelay, e.flush)

	return c
}

func (e *Engine) flush() {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.pending
	e.pending = nil
	version := e.version
	e.mu.Unlock()

	err := e.gw.Emit(context.Background(), EventDocumentChange, map[string]any{
		"roomId":     e.roomID,
		"documentId": e.documentID,
		"changes":    batch,
		"version":    version,
	})
	if err != nil {
		// Keep the batch; the next flush retries it ahead of newer edits.
		e.log.Warn("document flush failed", map[string]any{"error": err.Error(), "changes": len(batch)})
		e.mu.Lock()
		e.pending = append(batch, e.pending...)
		e.mu.Unlock()
		e.timers.arm("flush", e.cfg.FlushDelay, e.flush)
	}
}

// UpdateCursor broadcasts the local cursor position. Not debounced.
func (e *Engine) UpdateCursor(ctx context.Context, x, y float64) error {
	if !e.cfg.EnableCursors {
		return nil
	}
	return e.gw.Emit(ctx, EventCursorMove, CursorMovePayload{
		RoomID: e.roomID,
		X:      x,
		Y:      y,
	})
}

// UpdateSelection broadcasts the local selection range. Not debounced.
func (e *Engine) UpdateSelection(ctx context.Context, start, end int) error {
	if !e.cfg.EnableSelections {
		return nil
	}
	return e.gw.Emit(ctx, EventSelectionChange, SelectionChangePayload{
		RoomID:     e.roomID,
		DocumentID: e.documentID,
		Start:      start,
		End:        end,
	})
}

// SyncDocument requests the authoritative document state from the gateway.
func (e *Engine) SyncDocument(ctx context.Context) error {
	e.mu.Lock()
	version := e.version
	e.mu.Unlock()
	return e.gw.Emit(ctx, EventSyncDocument, map[string]any{
		"roomId":     e.roomID,
		"documentId": e.documentID,
		"version":    version,
	})
}

// ResolveConflict applies a conflict-resolution strategy. accept_remote
// discards unsynced local changes and re-syncs from the gateway;
// accept_local keeps the local buffer as-is; merge is not implemented.
func (e *Engine) ResolveConflict(ctx context.Context, r Resolution) error {
	switch r {
	case ResolutionAcceptRemote:
		e.mu.Lock()
		e.pending = nil
		e.mu.Unlock()
		e.timers.cancel("flush")
		return e.SyncDocument(ctx)
	case ResolutionAcceptLocal:
		return nil
	case ResolutionMerge:
		return ErrMergeUnsupported
	}
	return errors.New("brandloom: unknown resolution")
}

// ============================================================================
// Event handlers
// ============================================================================

func (e *Engine) onDocumentUpdate(_ string, payload json.RawMessage) {
	var p DocumentUpdatePayload
	if json.Unmarshal(payload, &p) != nil || p.DocumentID != e.documentID {
		return
	}
	// Our own flushed batches come back from the broadcast; skip them.
	if p.UserID == e.user.UserID {
		e.mu.Lock()
		if p.Version > e.version {
			e.version = p.Version
		}
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	transformed := e.transform(p.Changes, append([]Change(nil), e.pending...))
	for _, c := range transformed {
		e.applyLocked(c)
		e.appendHistoryLocked(c)
	}
	if p.Version > e.version {
		e.version = p.Version
	}
	e.mu.Unlock()
}

func (e *Engine) onDocumentSync(_ string, payload json.RawMessage) {
	var p DocumentSyncPayload
	if json.Unmarshal(payload, &p) != nil || p.DocumentID != e.documentID {
		return
	}
	e.mu.Lock()
	e.content = []rune(p.Content)
	if p.Version > e.version {
		e.version = p.Version
	}
	e.pending = nil
	e.mu.Unlock()
	e.timers.cancel("flush")
}

func (e *Engine) onCursorMove(_ string, payload json.RawMessage) {
	var p CursorMovePayload
	if json.Unmarshal(payload, &p) != nil || p.UserID == "" || p.UserID == e.user.UserID {
		return
	}
	e.mu.Lock()
	e.cursors[p.UserID] = CursorPosition{X: p.X, Y: p.Y, Username: p.Username}
	e.mu.Unlock()

	userID := p.UserID
	e.timers.arm("cursor:"+userID, e.cfg.CursorTTL, func() {
		e.mu.Lock()
		delete(e.cursors, userID)
		e.mu.Unlock()
	})
}

func (e *Engine) onSelectionChange(_ string, payload json.RawMessage) {
	var p SelectionChangePayload
	if json.Unmarshal(payload, &p) != nil || p.UserID == "" || p.UserID == e.user.UserID {
		return
	}
	if p.DocumentID != "" && p.DocumentID != e.documentID {
		return
	}
	e.mu.Lock()
	e.selections[p.UserID] = SelectionRange{Start: p.Start, End: p.End, Username: p.Username}
	e.mu.Unlock()

	userID := p.UserID
	e.timers.arm("selection:"+userID, e.cfg.CursorTTL, func() {
		e.mu.Lock()
		delete(e.selections, userID)
		e.mu.Unlock()
	})
}

func (e *Engine) onUserDisconnected(_ string, payload json.RawMessage) {
	var u RemoteUser
	if json.Unmarshal(payload, &u) != nil || u.UserID == "" {
		return
	}
	e.mu.Lock()
	delete(e.cursors, u.UserID)
	delete(e.selections, u.UserID)
	e.mu.Unlock()
	e.timers.cancel("cursor:" + u.UserID)
	e.timers.cancel("selection:" + u.UserID)
}

// ============================================================================
// Buffer and transform
// ============================================================================

func (e *Engine) applyLocked(c Change) {
	pos := clamp(c.Position, 0, len(e.content))
	switch c.Type {
	case ChangeInsert:
		ins := []rune(c.Content)
		e.content = append(e.content[:pos], append(ins, e.content[pos:]...)...)
	case ChangeDelete:
		end := clamp(pos+c.Length, pos, len(e.content))
		e.content = append(e.content[:pos], e.content[end:]...)
	case ChangeReplace:
		end := clamp(pos+c.Length, pos, len(e.content))
		ins := []rune(c.Content)
		e.content = append(e.content[:pos], append(ins, e.content[end:]...)...)
	case ChangeFormat:
		// Attribute-only; the buffer is untouched.
	}
}

func (e *Engine) appendHistoryLocked(c Change) {
	e.history = append(e.history, c)
	if len(e.history) > e.cfg.MaxHistory {
		e.history = e.history[len(e.history)-e.cfg.MaxHistory:]
	}
}

// DefaultTransform passes remote changes through unmodified when there are
// no pending local changes. With pending changes it shifts remote positions
// past local inserts and deletes at lower positions; overlapping edits
// resolve last-remote-wins. This is best-effort, not a full operational
// transform.
func DefaultTransform(remote, pending []Change) []Change {
	if len(pending) == 0 {
		return remote
	}
	out := make([]Change, len(remote))
	for i, rc := range remote {
		for _, lc := range pending {
			if lc.Position > rc.Position {
				continue
			}
			switch lc.Type {
			case ChangeInsert:
				rc.Position += len([]rune(lc.Content))
			case ChangeDelete:
				rc.Position -= min(lc.Length, rc.Position-lc.Position)
			case ChangeReplace:
				rc.Position += len([]rune(lc.Content)) - min(lc.Length, rc.Position-lc.Position)
			}
			if rc.Position < 0 {
				rc.Position = 0
			}
		}
		out[i] = rc
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
