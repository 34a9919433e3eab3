package unread

import (
	"log/slog"
	"time"

	"github.com/skobkin/roomsync/internal/domain"
)

// Store is the read state the tracker works on.
type Store interface {
	Cursor(roomID domain.RoomID) (time.Time, bool)
	SetCursor(roomID domain.RoomID, at time.Time) bool
	Unread(roomID domain.RoomID) int
	SetUnread(roomID domain.RoomID, count int)
	IncrementUnread(roomID domain.RoomID) int
}

// HistoryResult is the outcome of applying a history snapshot.
type HistoryResult struct {
	FirstUnreadID domain.MessageID
	Found         bool
	// PriorCursor is the cursor before the snapshot was applied.
	PriorCursor    time.Time
	HadPriorCursor bool
}

// MessageResult is the outcome of applying a live message.
type MessageResult struct {
	Unread      int
	Incremented bool
}

// Tracker derives unread counters and first unread positions from connection
// events. Callers serialize calls per room.
type Tracker struct {
	logger *slog.Logger
	store  Store
}

func NewTracker(logger *slog.Logger, store Store) *Tracker {
	if logger == nil {
		logger = slog.Default().With("component", "unread")
	}

	return &Tracker{logger: logger, store: store}
}

// OnHistory finds the first message after the stored cursor in msgs, which
// must be ordered by domain.MessageLess. When the room is active the cursor
// moves to the newest message and the counter resets.
func (t *Tracker) OnHistory(roomID domain.RoomID, msgs []domain.Message, isActive bool) HistoryResult {
	cursor, hasCursor := t.store.Cursor(roomID)
	res := HistoryResult{PriorCursor: cursor, HadPriorCursor: hasCursor}
	for _, msg := range msgs {
		if !hasCursor || msg.CreatedAt.After(cursor) {
			res.FirstUnreadID = msg.ID
			res.Found = true

			break
		}
	}
	if !isActive {
		return res
	}

	if len(msgs) > 0 {
		t.store.SetCursor(roomID, newest(msgs))
	}
	t.store.SetUnread(roomID, 0)
	t.logger.Debug("history applied", "room_id", roomID, "messages", len(msgs), "first_unread", res.FirstUnreadID)

	return res
}

// OnMessage applies a live message. Active rooms advance their cursor.
// Inactive rooms count the message unless it came from the current user.
func (t *Tracker) OnMessage(roomID domain.RoomID, msg domain.Message, isActive, isFromSelf bool) MessageResult {
	if isActive {
		t.store.SetCursor(roomID, msg.CreatedAt)
		t.store.SetUnread(roomID, 0)

		return MessageResult{}
	}
	if isFromSelf {
		return MessageResult{Unread: t.store.Unread(roomID)}
	}
	n := t.store.IncrementUnread(roomID)
	t.logger.Debug("unread incremented", "room_id", roomID, "unread", n, "message_id", msg.ID)

	return MessageResult{Unread: n, Incremented: true}
}

// MarkRead moves the cursor to at and clears the counter.
func (t *Tracker) MarkRead(roomID domain.RoomID, at time.Time) {
	if !at.IsZero() {
		t.store.SetCursor(roomID, at)
	}
	t.store.SetUnread(roomID, 0)
}

func newest(msgs []domain.Message) time.Time {
	var out time.Time
	for _, msg := range msgs {
		if msg.CreatedAt.After(out) {
			out = msg.CreatedAt
		}
	}

	return out
}
