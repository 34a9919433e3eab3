package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RoomID is the server-assigned room identifier.
type RoomID int64

func (id RoomID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseRoomID parses a decimal room identifier.
func ParseRoomID(raw string) (RoomID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse room id %q: %w", raw, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("room id must be positive: %d", v)
	}

	return RoomID(v), nil
}

// MessageID is the server-assigned message identifier. It grows with insertion order.
type MessageID int64

func (id MessageID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

type RoomKind string

const (
	RoomKindGroup   RoomKind = "group"
	RoomKindPrivate RoomKind = "private"
)

type Participant struct {
	ID       int64
	Username string
}

// Room is an immutable snapshot of a room as reported by the room directory.
type Room struct {
	ID           RoomID
	Kind         RoomKind
	Name         string
	Participants []Participant
}

func (r Room) Validate() error {
	if r.ID <= 0 {
		return errors.New("room id must be positive")
	}
	switch r.Kind {
	case RoomKindGroup:
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("group room %s has no name", r.ID)
		}
	case RoomKindPrivate:
		if len(r.Participants) != 2 {
			return fmt.Errorf("private room %s must have exactly two participants, got %d", r.ID, len(r.Participants))
		}
	default:
		return fmt.Errorf("room %s has unknown kind %q", r.ID, r.Kind)
	}

	return nil
}

// Message is a chat message as received from the server. Messages are never mutated after decode.
type Message struct {
	ID         MessageID
	RoomID     RoomID
	Sender     Identity
	SenderName string
	Content    string
	CreatedAt  time.Time
}

// Preview is the latest message summary shown in the room list.
type Preview struct {
	MessageID  MessageID
	Sender     Identity
	SenderName string
	Text       string
	At         time.Time
}

func PreviewFromMessage(msg Message) Preview {
	return Preview{
		MessageID:  msg.ID,
		Sender:     msg.Sender,
		SenderName: msg.SenderName,
		Text:       msg.Content,
		At:         msg.CreatedAt,
	}
}

// RoomView is a room annotated with read state for list rendering.
type RoomView struct {
	Room        Room
	DisplayName string
	Unread      int
	Preview     Preview
	Active      bool
}

// ReadState is the persisted per-room read cursor and unread counter.
type ReadState struct {
	RoomID    RoomID
	Cursor    time.Time
	HasCursor bool
	Unread    int
}
