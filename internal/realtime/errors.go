package realtime

import "errors"

var (
	// ErrNotConnected is returned by Send when no connection is in the Open state.
	ErrNotConnected = errors.New("not connected")
	// ErrSendQueueFull is returned by Send when the outbound queue of the open connection is saturated.
	ErrSendQueueFull = errors.New("send queue is full")
)

// MalformedFrameError describes why an inbound frame was dropped.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return "malformed frame: " + e.Reason
}

func malformed(reason string) error {
	return &MalformedFrameError{Reason: reason}
}
