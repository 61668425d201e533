package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by prefix
// ("chat.", "tracker.", "net.").
const (
	KindChatConnected    = "chat.connected"
	KindChatDisconnected = "chat.disconnected"
	KindChatHistory      = "chat.message_history"
	KindChatMessage      = "chat.chat_message"
	KindChatEdited       = "chat.edit_message"
	KindChatDeleted      = "chat.delete_message"
	KindChatTyping       = "chat.typing"
	KindChatReadReceipt  = "chat.read_receipt"
	KindChatOnline       = "chat.online_status"

	KindTrackerStatus  = "tracker.status_changed"
	KindTrackerSample  = "tracker.sample_sent"
	KindTrackerQueued  = "tracker.sample_queued"
	KindTrackerFlushed = "tracker.queue_flushed"
	KindTrackerEvicted = "tracker.queue_evicted"

	KindNetOnline  = "net.online"
	KindNetOffline = "net.offline"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
