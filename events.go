package brandloom

// Wire event names for the collaboration gateway. Outbound events are
// client-to-server commands; inbound events arrive on the read loop and are
// fanned out through the RealtimeClient dispatcher.

// Outbound (client → server).
const (
	EventAuthenticate    = "authenticate"
	EventJoinRoom        = "join_room"
	EventLeaveRoom       = "leave_room"
	EventSendMessage     = "send_message"
	EventPresenceUpdate  = "presence_update"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventDocumentChange  = "document_change"
	EventCursorMove      = "cursor_move"
	EventSelectionChange = "selection_change"
	EventSyncDocument    = "sync_document"
	EventPing            = "ping"
)

// Inbound (server → client).
const (
	EventAuthenticated    = "authenticated"
	EventAuthError        = "auth_error"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
	EventRoomJoined       = "room_joined"
	EventUserJoinedRoom   = "user_joined_room"
	EventUserLeftRoom     = "user_left_room"
	EventTypingIndicator  = "typing_indicator"
	EventDocumentUpdate   = "document_update"
	EventDocumentSync     = "document_sync"
	EventNewMessage       = "new_message"
	EventNotification     = "notification"
	EventApprovalUpdate   = "approval_update"
	EventMention          = "mention"
	EventSystemMessage    = "system_message"
	EventServerError      = "error"
)

// Local meta-events emitted by the RealtimeClient itself. They never cross
// the wire; components use them to observe the connection lifecycle.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventReconnecting = "reconnecting"
)
