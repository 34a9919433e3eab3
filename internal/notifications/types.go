package notifications

import "github.com/skobkin/roomsync/internal/domain"

// Payload is a user-facing notification. RoomID is zero for notifications
// that are not about a room.
type Payload struct {
	Title   string
	Content string
	RoomID  domain.RoomID
}

// Sender delivers notifications. Implementations must not block for long.
type Sender interface {
	Send(payload Payload)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(Payload)

func (f SenderFunc) Send(payload Payload) {
	f(payload)
}
