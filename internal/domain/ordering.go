package domain

import "sort"

// MessageLess orders messages by creation time, falling back to id on equal timestamps.
func MessageLess(a, b Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}

	return a.CreatedAt.Before(b.CreatedAt)
}

// SortedMessages returns an ordered copy of msgs with duplicate ids removed.
// When ids repeat, the first occurrence wins.
func SortedMessages(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	seen := make(map[MessageID]struct{}, len(msgs))
	for _, msg := range msgs {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return MessageLess(out[i], out[j])
	})

	return out
}

// InsertMessage places msg into the ordered slice msgs. It reports false and
// leaves msgs untouched when a message with the same id is already present.
func InsertMessage(msgs []Message, msg Message) ([]Message, bool) {
	for _, existing := range msgs {
		if existing.ID == msg.ID {
			return msgs, false
		}
	}
	idx := sort.Search(len(msgs), func(i int) bool {
		return MessageLess(msg, msgs[i])
	})
	msgs = append(msgs, Message{})
	copy(msgs[idx+1:], msgs[idx:])
	msgs[idx] = msg

	return msgs, true
}
