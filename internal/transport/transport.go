package transport

import (
	"context"
	"errors"

	"github.com/skobkin/roomsync/internal/domain"
)

var (
	// ErrRejected is returned by Dial when the server refused the credential during the handshake.
	ErrRejected = errors.New("handshake rejected")
	// ErrUnreachable is returned by Dial when the endpoint could not be reached.
	ErrUnreachable = errors.New("endpoint unreachable")
)

// Transport dials a realtime connection scoped to a single room.
type Transport interface {
	Name() string
	Dial(ctx context.Context, roomID domain.RoomID, credential string) (Conn, error)
}

// Conn is one live room connection. ReadFrame and WriteFrame may be called
// from different goroutines; Close is safe to call more than once.
type Conn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
	Close() error
}

type StatusTargetResolver interface {
	StatusTarget() string
}
