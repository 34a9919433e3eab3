package domain

import (
	"strconv"
	"strings"
	"sync"
)

// Identity is the canonical sender token. Two messages come from the same user
// exactly when their identities are equal. The zero value means "unknown sender".
type Identity string

// SenderRef is whatever the wire told us about a sender: a username, a numeric id, or both.
type SenderRef struct {
	ID       int64
	Username string
}

// Canonicalizer maps sender references to identities. It learns id to username
// pairs from room participants and the session so that id-only senders resolve
// to the same token as username senders.
type Canonicalizer struct {
	mu    sync.RWMutex
	names map[int64]string
}

func NewCanonicalizer() *Canonicalizer {
	return &Canonicalizer{names: make(map[int64]string)}
}

func (c *Canonicalizer) Register(id int64, username string) {
	username = strings.TrimSpace(username)
	if id <= 0 || username == "" {
		return
	}
	c.mu.Lock()
	c.names[id] = username
	c.mu.Unlock()
}

func (c *Canonicalizer) RegisterRooms(rooms []Room) {
	for _, room := range rooms {
		for _, p := range room.Participants {
			c.Register(p.ID, p.Username)
		}
	}
}

// Canonical returns the identity token for ref. Usernames win over ids.
func (c *Canonicalizer) Canonical(ref SenderRef) Identity {
	name := strings.TrimSpace(ref.Username)
	if name == "" && ref.ID > 0 {
		c.mu.RLock()
		name = c.names[ref.ID]
		c.mu.RUnlock()
	}
	if name != "" {
		return Identity("user:" + name)
	}
	if ref.ID > 0 {
		return Identity("id:" + strconv.FormatInt(ref.ID, 10))
	}

	return ""
}

// DisplayName resolves the best human-readable name for ref.
func (c *Canonicalizer) DisplayName(ref SenderRef) string {
	if name := strings.TrimSpace(ref.Username); name != "" {
		return name
	}
	if ref.ID > 0 {
		c.mu.RLock()
		name := c.names[ref.ID]
		c.mu.RUnlock()
		if name != "" {
			return name
		}

		return "user " + strconv.FormatInt(ref.ID, 10)
	}

	return "unknown"
}

// RoomDisplayName renders a room title from the point of view of self.
func (c *Canonicalizer) RoomDisplayName(room Room, self Identity) string {
	if room.Kind != RoomKindPrivate {
		if name := strings.TrimSpace(room.Name); name != "" {
			return name
		}

		return "Room " + room.ID.String()
	}
	for _, p := range room.Participants {
		ref := SenderRef{ID: p.ID, Username: p.Username}
		if c.Canonical(ref) == self {
			continue
		}

		return c.DisplayName(ref)
	}

	return "Private"
}
