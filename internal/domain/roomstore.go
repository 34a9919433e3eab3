package domain

import (
	"sort"
	"sync"
)

// RoomStore keeps the room directory snapshot and per-room previews in memory.
type RoomStore struct {
	mu       sync.RWMutex
	rooms    map[RoomID]Room
	previews map[RoomID]Preview
	changes  chan struct{}
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:    make(map[RoomID]Room),
		previews: make(map[RoomID]Preview),
		changes:  make(chan struct{}, 1),
	}
}

// Load replaces the known room set. Previews of rooms that remain are kept.
func (s *RoomStore) Load(rooms []Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[RoomID]Room, len(rooms))
	for _, room := range rooms {
		next[room.ID] = cloneRoom(room)
	}
	s.rooms = next
	s.notify()
}

func (s *RoomStore) UpsertRoom(room Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.ID] = cloneRoom(room)
	s.notify()
}

func (s *RoomStore) Room(id RoomID) (Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return Room{}, false
	}

	return cloneRoom(room), true
}

// ApplyMessage updates the room preview when msg is newer than the current one.
// Unknown rooms get a placeholder group entry so the message is not lost from the list.
func (s *RoomStore) ApplyMessage(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[msg.RoomID]; !ok {
		s.rooms[msg.RoomID] = Room{ID: msg.RoomID, Kind: RoomKindGroup}
	}
	current, ok := s.previews[msg.RoomID]
	if ok && !MessageLess(Message{ID: current.MessageID, CreatedAt: current.At}, msg) {
		return false
	}
	s.previews[msg.RoomID] = PreviewFromMessage(msg)
	s.notify()

	return true
}

func (s *RoomStore) Preview(id RoomID) (Preview, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.previews[id]

	return p, ok
}

// ListSorted returns rooms with the most recent activity first, then by id.
func (s *RoomStore) ListSorted() []Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, cloneRoom(room))
	}
	sort.Slice(out, func(i, j int) bool {
		pi := s.previews[out[i].ID]
		pj := s.previews[out[j].ID]
		if pi.At.Equal(pj.At) {
			return out[i].ID < out[j].ID
		}

		return pi.At.After(pj.At)
	})

	return out
}

func (s *RoomStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[RoomID]Room)
	s.previews = make(map[RoomID]Preview)
	s.notify()
}

func (s *RoomStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *RoomStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func cloneRoom(room Room) Room {
	if room.Participants != nil {
		room.Participants = append([]Participant(nil), room.Participants...)
	}

	return room
}
