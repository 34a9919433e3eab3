package readstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/skobkin/roomsync/internal/domain"
)

// WriteQueue runs persistence writes asynchronously. Writes sharing a key
// may be coalesced while one is still waiting.
type WriteQueue interface {
	EnqueueKeyed(key, name string, fn func(context.Context) error)
}

// Store holds per-room read cursors and unread counters in memory and mirrors
// every mutation to a repository through the write queue. Reads always see the
// latest in-process writes.
type Store struct {
	logger *slog.Logger
	repo   domain.ReadStateRepository
	queue  WriteQueue

	mu     sync.RWMutex
	states map[domain.RoomID]domain.ReadState
}

// NewStore creates a store. A nil repo or queue keeps the state in memory only.
func NewStore(logger *slog.Logger, repo domain.ReadStateRepository, queue WriteQueue) *Store {
	if logger == nil {
		logger = slog.Default().With("component", "readstate")
	}

	return &Store{
		logger: logger,
		repo:   repo,
		queue:  queue,
		states: make(map[domain.RoomID]domain.ReadState),
	}
}

// Load replaces the in-memory state with the persisted one. A read failure
// leaves the store empty; it is never fatal.
func (s *Store) Load(ctx context.Context) {
	if s.repo == nil {
		return
	}
	states, err := s.repo.LoadAll(ctx)
	if err != nil {
		s.logger.Warn("load read state failed, starting empty", "error", err)

		return
	}
	loaded := make(map[domain.RoomID]domain.ReadState, len(states))
	for _, st := range states {
		if st.Unread < 0 {
			st.Unread = 0
		}
		loaded[st.RoomID] = st
	}

	s.mu.Lock()
	s.states = loaded
	s.mu.Unlock()
	s.logger.Info("loaded read state", "rooms", len(loaded))
}

func (s *Store) Cursor(roomID domain.RoomID) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[roomID]
	if !ok || !st.HasCursor {
		return time.Time{}, false
	}

	return st.Cursor, true
}

// SetCursor moves the cursor forward. It reports false and changes nothing
// when at is not after the current cursor.
func (s *Store) SetCursor(roomID domain.RoomID, at time.Time) bool {
	s.mu.Lock()
	st := s.states[roomID]
	if st.HasCursor && !at.After(st.Cursor) {
		s.mu.Unlock()
		s.logger.Debug("cursor update ignored", "room_id", roomID, "cursor", st.Cursor, "candidate", at)

		return false
	}
	st.RoomID = roomID
	st.Cursor = at
	st.HasCursor = true
	s.states[roomID] = st
	s.mu.Unlock()

	s.persist(roomID)

	return true
}

func (s *Store) Unread(roomID domain.RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.states[roomID].Unread
}

func (s *Store) SetUnread(roomID domain.RoomID, count int) {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	st := s.states[roomID]
	if st.Unread == count && st.RoomID == roomID {
		s.mu.Unlock()

		return
	}
	st.RoomID = roomID
	st.Unread = count
	s.states[roomID] = st
	s.mu.Unlock()

	s.persist(roomID)
}

// IncrementUnread adds one to the counter and returns the new value.
func (s *Store) IncrementUnread(roomID domain.RoomID) int {
	s.mu.Lock()
	st := s.states[roomID]
	st.RoomID = roomID
	st.Unread++
	s.states[roomID] = st
	s.mu.Unlock()

	s.persist(roomID)

	return st.Unread
}

// Snapshot returns a copy of every known entry.
func (s *Store) Snapshot() map[domain.RoomID]domain.ReadState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[domain.RoomID]domain.ReadState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}

	return out
}

// Clear drops all state in memory and in the repository.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.states = make(map[domain.RoomID]domain.ReadState)
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}

	return s.repo.Clear(ctx)
}

// persist enqueues a write of the entry as it is when the write runs, so a
// burst of mutations for one room collapses into a single save.
func (s *Store) persist(roomID domain.RoomID) {
	if s.repo == nil || s.queue == nil {
		return
	}
	s.queue.EnqueueKeyed("readstate:"+roomID.String(), "save read state", func(ctx context.Context) error {
		s.mu.RLock()
		st, ok := s.states[roomID]
		s.mu.RUnlock()
		if !ok {
			return nil
		}

		return s.repo.Save(ctx, st)
	})
}
