package connectors

import (
	"time"

	"github.com/skobkin/roomsync/internal/domain"
)

// ConnectionState is the lifecycle state of one room connection.
type ConnectionState string

const (
	ConnectionStateConnecting ConnectionState = "connecting"
	ConnectionStateOpen       ConnectionState = "open"
	ConnectionStateClosed     ConnectionState = "closed"
	ConnectionStateErrored    ConnectionState = "errored"
)

func (s ConnectionState) Terminal() bool {
	return s == ConnectionStateClosed || s == ConnectionStateErrored
}

// ConnectionStatus is a bus snapshot of the current connection status.
type ConnectionStatus struct {
	State         ConnectionState
	Epoch         uint64
	RoomID        domain.RoomID
	ConnectionID  string
	TransportName string
	Err           string
	Timestamp     time.Time
}

// RoomEvent is implemented by every event published on TopicRoomEvents.
type RoomEvent interface {
	EventEpoch() uint64
}

// HistorySnapshot is emitted exactly once per successful open, before any NewMessage.
type HistorySnapshot struct {
	Epoch    uint64
	RoomID   domain.RoomID
	Messages []domain.Message
}

// NewMessage is a live message received after the history snapshot.
type NewMessage struct {
	Epoch   uint64
	RoomID  domain.RoomID
	Message domain.Message
}

// ConnectionClosed terminates a connection that ended without error.
type ConnectionClosed struct {
	Epoch  uint64
	RoomID domain.RoomID
}

// ConnectionErrored terminates a connection that failed.
type ConnectionErrored struct {
	Epoch  uint64
	RoomID domain.RoomID
	Err    *ConnectionError
}

func (e HistorySnapshot) EventEpoch() uint64   { return e.Epoch }
func (e NewMessage) EventEpoch() uint64        { return e.Epoch }
func (e ConnectionClosed) EventEpoch() uint64  { return e.Epoch }
func (e ConnectionErrored) EventEpoch() uint64 { return e.Epoch }

// MalformedFrame is a non-fatal diagnostic for an inbound frame that was dropped.
type MalformedFrame struct {
	Epoch  uint64
	RoomID domain.RoomID
	Reason string
	Len    int
}

// OutboundFrame carries outbound frame diagnostics.
type OutboundFrame struct {
	Epoch  uint64
	RoomID domain.RoomID
	Len    int
}

// SyncState is the orchestrator state published on TopicSyncState.
type SyncState string

const (
	SyncStateIdle      SyncState = "idle"
	SyncStateSwitching SyncState = "switching"
	SyncStateSynced    SyncState = "synced"
)

// SyncStateChanged reports an orchestrator transition. Err is set when a
// connection failure forced the fallback to idle.
type SyncStateChanged struct {
	State  SyncState
	RoomID domain.RoomID
	Err    error
}

// ViewKind tells presentation code how to apply a RoomViewUpdate.
type ViewKind int

const (
	ViewReset ViewKind = iota + 1
	ViewAppended
	ViewScrollAcked
)

// RoomViewUpdate describes a change to the active room message list.
type RoomViewUpdate struct {
	Kind     ViewKind
	RoomID   domain.RoomID
	Messages []domain.Message
	// ScrollTo is the first unread message the list should be scrolled to, or zero.
	ScrollTo domain.MessageID
}

// UnreadChanged reports a new unread counter value for a room that is not being viewed.
type UnreadChanged struct {
	RoomID  domain.RoomID
	Unread  int
	Message domain.Message
}

// RoomListChanged signals that room list annotations (unread, previews, rooms) changed.
type RoomListChanged struct{}
