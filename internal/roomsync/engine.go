package roomsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/roomsync/internal/bus"
	"github.com/skobkin/roomsync/internal/connectors"
	"github.com/skobkin/roomsync/internal/domain"
	"github.com/skobkin/roomsync/internal/realtime"
	"github.com/skobkin/roomsync/internal/unread"
)

var (
	// ErrSendWhileNotReady is returned by Send unless the engine is Synced.
	ErrSendWhileNotReady = errors.New("room is not synced")
	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNothingToRetry is returned by Retry when no room was opened yet or a room is active.
	ErrNothingToRetry = errors.New("nothing to retry")
)

// Connector is the connection manager as seen by the engine.
type Connector interface {
	Open(ctx context.Context, roomID domain.RoomID, credential string) realtime.Handle
	Send(content string) error
	Close()
}

// Engine owns the active room. All state changes happen under one mutex,
// and bus notifications are published after it is released.
type Engine struct {
	logger  *slog.Logger
	bus     bus.MessageBus
	conn    Connector
	store   unread.Store
	tracker *unread.Tracker
	rooms   *domain.RoomStore
	canon   *domain.Canonicalizer
	changes chan struct{}

	mu         sync.Mutex
	ctx        context.Context
	self       domain.Identity
	credential string
	state      connectors.SyncState
	active     domain.RoomID
	epoch      uint64
	buffer     []domain.Message
	scrollTo   domain.MessageID
	lastRoom   domain.RoomID
	lastErr    error
}

func NewEngine(
	logger *slog.Logger,
	b bus.MessageBus,
	conn Connector,
	store unread.Store,
	rooms *domain.RoomStore,
	canon *domain.Canonicalizer,
) *Engine {
	if logger == nil {
		logger = slog.Default().With("component", "roomsync")
	}
	if rooms == nil {
		rooms = domain.NewRoomStore()
	}
	if canon == nil {
		canon = domain.NewCanonicalizer()
	}

	return &Engine{
		logger:  logger,
		bus:     b,
		conn:    conn,
		store:   store,
		tracker: unread.NewTracker(logger, store),
		rooms:   rooms,
		canon:   canon,
		changes: make(chan struct{}, 1),
		ctx:     context.Background(),
		state:   connectors.SyncStateIdle,
	}
}

// SetSession installs the current user identity and bearer credential.
// The credential is used for the next connection that is opened.
func (e *Engine) SetSession(self domain.Identity, credential string) {
	e.mu.Lock()
	e.self = self
	e.credential = credential
	e.mu.Unlock()
}

// Start subscribes to connection events and handles them until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	sub := e.bus.Subscribe(connectors.TopicRoomEvents)
	queue := newEventQueue()
	go func() {
		defer e.bus.Unsubscribe(sub, connectors.TopicRoomEvents)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				ev, ok := raw.(connectors.RoomEvent)
				if !ok {
					e.logger.Warn("unexpected payload on room events topic", "type", fmt.Sprintf("%T", raw))

					continue
				}
				queue.push(ev)
			}
		}
	}()
	go func() {
		for {
			ev, ok := queue.pop(ctx)
			if !ok {
				return
			}
			e.handleEvent(ev)
		}
	}()
}

type outbound struct {
	topic string
	msg   any
}

func (e *Engine) flush(out []outbound) {
	for _, o := range out {
		e.bus.Publish(o.topic, o.msg)
	}
	if len(out) > 0 {
		select {
		case e.changes <- struct{}{}:
		default:
		}
	}
}

// SwitchRoom drops the current room and opens roomID.
func (e *Engine) SwitchRoom(roomID domain.RoomID) error {
	if roomID <= 0 {
		return fmt.Errorf("invalid room id %d", roomID)
	}

	e.mu.Lock()
	e.state = connectors.SyncStateSwitching
	e.active = roomID
	e.buffer = nil
	e.scrollTo = 0
	e.lastRoom = roomID
	e.lastErr = nil
	h := e.conn.Open(e.ctx, roomID, e.credential)
	e.epoch = h.Epoch
	e.mu.Unlock()

	e.logger.Info("switching room", "room_id", roomID, "epoch", h.Epoch)
	e.flush([]outbound{
		{connectors.TopicSyncState, connectors.SyncStateChanged{State: connectors.SyncStateSwitching, RoomID: roomID}},
		{connectors.TopicRoomView, connectors.RoomViewUpdate{Kind: connectors.ViewReset, RoomID: roomID}},
		{connectors.TopicRoomList, connectors.RoomListChanged{}},
	})

	return nil
}

// Send queues text for the active room. It never blocks.
func (e *Engine) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	state, room := e.state, e.active
	e.mu.Unlock()

	if state != connectors.SyncStateSynced {
		e.logger.Info("send rejected", "state", state, "room_id", room)

		return ErrSendWhileNotReady
	}
	if err := e.conn.Send(text); err != nil {
		e.logger.Info("send failed", "room_id", room, "error", err)

		return fmt.Errorf("send to room %s: %w", room, err)
	}

	return nil
}

// AckScroll is called by the presentation layer once it has scrolled to the
// pending target. It clears the target and marks everything buffered as read.
func (e *Engine) AckScroll() {
	e.mu.Lock()
	if e.state != connectors.SyncStateSynced {
		e.mu.Unlock()

		return
	}
	room := e.active
	e.scrollTo = 0
	if n := len(e.buffer); n > 0 {
		e.tracker.MarkRead(room, e.buffer[n-1].CreatedAt)
	} else {
		e.tracker.MarkRead(room, time.Time{})
	}
	e.mu.Unlock()

	e.flush([]outbound{
		{connectors.TopicRoomView, connectors.RoomViewUpdate{Kind: connectors.ViewScrollAcked, RoomID: room}},
		{connectors.TopicRoomList, connectors.RoomListChanged{}},
	})
}

// Leave closes the active room and returns to Idle.
func (e *Engine) Leave() {
	e.mu.Lock()
	room := e.active
	e.state = connectors.SyncStateIdle
	e.active = 0
	// Epochs start at 1, so anything still queued from the closed connection is stale.
	e.epoch = 0
	e.buffer = nil
	e.scrollTo = 0
	e.lastErr = nil
	e.mu.Unlock()

	e.conn.Close()
	e.logger.Info("left room", "room_id", room)
	e.flush([]outbound{
		{connectors.TopicSyncState, connectors.SyncStateChanged{State: connectors.SyncStateIdle, RoomID: room}},
		{connectors.TopicRoomView, connectors.RoomViewUpdate{Kind: connectors.ViewReset}},
		{connectors.TopicRoomList, connectors.RoomListChanged{}},
	})
}

// Retry reopens the last room after a failure dropped the engine to Idle.
func (e *Engine) Retry() error {
	e.mu.Lock()
	state, room := e.state, e.lastRoom
	e.mu.Unlock()

	if state != connectors.SyncStateIdle || room == 0 {
		return ErrNothingToRetry
	}

	return e.SwitchRoom(room)
}

// LoadRooms replaces the room directory snapshot.
func (e *Engine) LoadRooms(rooms []domain.Room) {
	e.canon.RegisterRooms(rooms)
	e.rooms.Load(rooms)
	e.flush([]outbound{{connectors.TopicRoomList, connectors.RoomListChanged{}}})
}

func (e *Engine) handleEvent(ev connectors.RoomEvent) {
	e.mu.Lock()
	if current := e.epoch; ev.EventEpoch() != current {
		e.mu.Unlock()
		e.logger.Debug("dropping stale event", "epoch", ev.EventEpoch(), "current_epoch", current, "type", fmt.Sprintf("%T", ev))

		return
	}

	var out []outbound
	switch ev := ev.(type) {
	case connectors.HistorySnapshot:
		out = e.onHistory(ev)
	case connectors.NewMessage:
		out = e.onMessage(ev)
	case connectors.ConnectionErrored:
		out = e.onTerminal(ev.RoomID, ev.Err)
	case connectors.ConnectionClosed:
		out = e.onTerminal(ev.RoomID, nil)
	}
	e.mu.Unlock()

	e.flush(out)
}

func (e *Engine) onHistory(ev connectors.HistorySnapshot) []outbound {
	if e.state != connectors.SyncStateSwitching || ev.RoomID != e.active {
		e.logger.Warn("unexpected history snapshot", "room_id", ev.RoomID, "state", e.state)

		return nil
	}
	e.state = connectors.SyncStateSynced
	e.buffer = append([]domain.Message(nil), ev.Messages...)
	res := e.tracker.OnHistory(e.active, e.buffer, true)
	if res.Found {
		e.scrollTo = res.FirstUnreadID
	}
	if n := len(e.buffer); n > 0 {
		e.rooms.ApplyMessage(e.buffer[n-1])
	}
	e.logger.Info("room synced", "room_id", e.active, "messages", len(e.buffer), "first_unread", e.scrollTo)

	return []outbound{
		{connectors.TopicSyncState, connectors.SyncStateChanged{State: connectors.SyncStateSynced, RoomID: e.active}},
		{connectors.TopicRoomView, connectors.RoomViewUpdate{
			Kind:     connectors.ViewReset,
			RoomID:   e.active,
			Messages: append([]domain.Message(nil), e.buffer...),
			ScrollTo: e.scrollTo,
		}},
		{connectors.TopicRoomList, connectors.RoomListChanged{}},
	}
}

func (e *Engine) onMessage(ev connectors.NewMessage) []outbound {
	msg := ev.Message
	if msg.RoomID == 0 {
		msg.RoomID = ev.RoomID
	}
	isSelf := msg.Sender != "" && msg.Sender == e.self

	if msg.RoomID == e.active {
		if e.state != connectors.SyncStateSynced {
			e.logger.Warn("message for active room before history", "room_id", msg.RoomID, "message_id", msg.ID)

			return nil
		}
		var inserted bool
		e.buffer, inserted = domain.InsertMessage(e.buffer, msg)
		if !inserted {
			e.logger.Debug("duplicate message ignored", "room_id", msg.RoomID, "message_id", msg.ID)

			return nil
		}
		e.tracker.OnMessage(msg.RoomID, msg, true, isSelf)
		e.rooms.ApplyMessage(msg)

		return []outbound{
			{connectors.TopicRoomView, connectors.RoomViewUpdate{
				Kind:     connectors.ViewAppended,
				RoomID:   msg.RoomID,
				Messages: []domain.Message{msg},
			}},
			{connectors.TopicRoomList, connectors.RoomListChanged{}},
		}
	}

	res := e.tracker.OnMessage(msg.RoomID, msg, false, isSelf)
	e.rooms.ApplyMessage(msg)
	out := []outbound{{connectors.TopicRoomList, connectors.RoomListChanged{}}}
	if res.Incremented {
		out = append(out, outbound{connectors.TopicRoomUnread, connectors.UnreadChanged{
			RoomID:  msg.RoomID,
			Unread:  res.Unread,
			Message: msg,
		}})
	}

	return out
}

func (e *Engine) onTerminal(roomID domain.RoomID, connErr *connectors.ConnectionError) []outbound {
	if e.state == connectors.SyncStateIdle {
		return nil
	}
	e.state = connectors.SyncStateIdle
	e.active = 0
	e.buffer = nil
	e.scrollTo = 0

	changed := connectors.SyncStateChanged{State: connectors.SyncStateIdle, RoomID: roomID}
	if connErr != nil {
		e.lastErr = connErr
		changed.Err = connErr
		e.logger.Warn("room connection failed", "room_id", roomID, "error", connErr)
	} else {
		e.logger.Info("room connection closed", "room_id", roomID)
	}

	return []outbound{
		{connectors.TopicSyncState, changed},
		{connectors.TopicRoomView, connectors.RoomViewUpdate{Kind: connectors.ViewReset}},
		{connectors.TopicRoomList, connectors.RoomListChanged{}},
	}
}

// Messages returns the ordered message list of the active room.
func (e *Engine) Messages() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]domain.Message(nil), e.buffer...)
}

// ScrollTarget returns the first unread message the view should reveal, if any.
func (e *Engine) ScrollTarget() (domain.MessageID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.scrollTo, e.scrollTo != 0
}

func (e *Engine) State() connectors.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

func (e *Engine) ActiveRoom() (domain.RoomID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active, e.active != 0
}

// LastError is the failure that last forced the engine to Idle.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastErr
}

// Rooms returns the room list annotated with unread counters and previews.
func (e *Engine) Rooms() []domain.RoomView {
	e.mu.Lock()
	self, active := e.self, e.active
	e.mu.Unlock()

	rooms := e.rooms.ListSorted()
	out := make([]domain.RoomView, 0, len(rooms))
	for _, room := range rooms {
		view := domain.RoomView{
			Room:        room,
			DisplayName: e.canon.RoomDisplayName(room, self),
			Unread:      e.store.Unread(room.ID),
			Active:      room.ID == active,
		}
		if p, ok := e.rooms.Preview(room.ID); ok {
			view.Preview = p
		}
		out = append(out, view)
	}

	return out
}

// Changes signals after any observable change. Signals coalesce.
func (e *Engine) Changes() <-chan struct{} {
	return e.changes
}
