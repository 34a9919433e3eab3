package connectors

const (
	// TopicRoomEvents carries every per-connection event in emission order.
	TopicRoomEvents    = "room.events"
	TopicConnStatus    = "conn.status"
	TopicMalformed     = "frame.malformed"
	TopicRoomView      = "room.view"
	TopicRoomUnread    = "room.unread"
	TopicRoomList      = "room.list"
	TopicSyncState     = "sync.state"
	TopicOutboundFrame = "frame.out"
)
