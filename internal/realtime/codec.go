package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/skobkin/roomsync/internal/domain"
)

// FrameKind is the discriminator of a decoded inbound frame.
type FrameKind int

const (
	FrameHistory FrameKind = iota + 1
	FrameMessage
	FrameError
)

// DecodedFrame is a parsed inbound frame.
type DecodedFrame struct {
	Kind FrameKind
	// History is ordered ascending and free of duplicate ids.
	History []domain.Message
	// Skipped lists reasons for history entries that were dropped individually.
	Skipped   []string
	Message   *domain.Message
	ErrorCode string
}

// Codec translates between transport frames and domain values.
type Codec interface {
	Decode(payload []byte, roomID domain.RoomID) (DecodedFrame, error)
	EncodeMessage(content string) ([]byte, error)
}

// JSONCodec speaks the chat server JSON protocol.
type JSONCodec struct {
	canon *domain.Canonicalizer
}

func NewJSONCodec(canon *domain.Canonicalizer) *JSONCodec {
	if canon == nil {
		canon = domain.NewCanonicalizer()
	}

	return &JSONCodec{canon: canon}
}

type wireMessage struct {
	ID        *int64          `json:"id"`
	Room      *int64          `json:"room"`
	Sender    json.RawMessage `json:"sender"`
	Content   *string         `json:"content"`
	Timestamp string          `json:"timestamp"`
	CreatedAt string          `json:"created_at"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

func (c *JSONCodec) EncodeMessage(content string) ([]byte, error) {
	payload, err := json.Marshal(outboundMessage{Type: "message", Content: content})
	if err != nil {
		return nil, fmt.Errorf("encode message frame: %w", err)
	}

	return payload, nil
}

func (c *JSONCodec) Decode(payload []byte, roomID domain.RoomID) (DecodedFrame, error) {
	if !gjson.ValidBytes(payload) {
		return DecodedFrame{}, malformed("invalid json")
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return DecodedFrame{}, malformed("frame is not an object")
	}

	typ := root.Get("type")
	if !typ.Exists() {
		if code := root.Get("error"); code.Exists() {
			return DecodedFrame{Kind: FrameError, ErrorCode: code.String()}, nil
		}

		return DecodedFrame{}, malformed("missing type")
	}
	if typ.Type != gjson.String {
		return DecodedFrame{}, malformed("type is not a string")
	}

	switch typ.String() {
	case "history":
		return c.decodeHistory(root, roomID)
	case "message":
		raw := root.Get("message")
		if !raw.IsObject() {
			return DecodedFrame{}, malformed("message field is not an object")
		}
		msg, err := c.decodeMessage([]byte(raw.Raw), roomID)
		if err != nil {
			return DecodedFrame{}, malformed(err.Error())
		}

		return DecodedFrame{Kind: FrameMessage, Message: &msg}, nil
	default:
		return DecodedFrame{}, malformed(fmt.Sprintf("unrecognized type %q", typ.String()))
	}
}

func (c *JSONCodec) decodeHistory(root gjson.Result, roomID domain.RoomID) (DecodedFrame, error) {
	items := root.Get("messages")
	if !items.IsArray() {
		return DecodedFrame{}, malformed("history messages field is not an array")
	}
	frame := DecodedFrame{Kind: FrameHistory}
	msgs := make([]domain.Message, 0, len(items.Array()))
	items.ForEach(func(_, item gjson.Result) bool {
		msg, err := c.decodeMessage([]byte(item.Raw), roomID)
		if err != nil {
			frame.Skipped = append(frame.Skipped, err.Error())

			return true
		}
		msgs = append(msgs, msg)

		return true
	})
	frame.History = domain.SortedMessages(msgs)

	return frame, nil
}

func (c *JSONCodec) decodeMessage(raw []byte, roomID domain.RoomID) (domain.Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(raw, &wm); err != nil {
		return domain.Message{}, fmt.Errorf("decode message: %w", err)
	}
	if wm.ID == nil || *wm.ID <= 0 {
		return domain.Message{}, fmt.Errorf("message id is missing")
	}
	if wm.Content == nil {
		return domain.Message{}, fmt.Errorf("message %d has no content", *wm.ID)
	}
	ref, ok := parseSender(wm.Sender)
	if !ok {
		return domain.Message{}, fmt.Errorf("message %d has no sender", *wm.ID)
	}
	rawTime := wm.CreatedAt
	if rawTime == "" {
		rawTime = wm.Timestamp
	}
	at, err := parseTimestamp(rawTime)
	if err != nil {
		return domain.Message{}, fmt.Errorf("message %d: %w", *wm.ID, err)
	}
	room := roomID
	if wm.Room != nil && *wm.Room > 0 {
		room = domain.RoomID(*wm.Room)
	}

	return domain.Message{
		ID:         domain.MessageID(*wm.ID),
		RoomID:     room,
		Sender:     c.canon.Canonical(ref),
		SenderName: c.canon.DisplayName(ref),
		Content:    *wm.Content,
		CreatedAt:  at,
	}, nil
}

// parseSender accepts a username string, a numeric user id, or an {id, username} object.
func parseSender(raw json.RawMessage) (domain.SenderRef, bool) {
	if len(raw) == 0 {
		return domain.SenderRef{}, false
	}
	v := gjson.ParseBytes(raw)
	var ref domain.SenderRef
	switch {
	case v.Type == gjson.String:
		ref.Username = strings.TrimSpace(v.String())
	case v.Type == gjson.Number:
		ref.ID = v.Int()
	case v.IsObject():
		ref.ID = v.Get("id").Int()
		ref.Username = strings.TrimSpace(v.Get("username").String())
	}

	return ref, ref.ID > 0 || ref.Username != ""
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 instants and naive ISO 8601 values, which are taken as UTC.
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("timestamp is missing")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
