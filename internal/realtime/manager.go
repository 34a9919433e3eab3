package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/roomsync/internal/bus"
	"github.com/skobkin/roomsync/internal/connectors"
	"github.com/skobkin/roomsync/internal/domain"
	"github.com/skobkin/roomsync/internal/transport"
)

const (
	outboxCapacity     = 128
	maxPendingMessages = 1000
	writeTimeout       = 8 * time.Second
)

// authErrorCodes are server error codes that mean the credential was refused.
var authErrorCodes = map[string]struct{}{
	"invalid_token":            {},
	"missing_or_invalid_token": {},
	"invalid_refresh":          {},
	"no_token_provided":        {},
	"not_in_room":              {},
}

// Handle identifies one Open call.
type Handle struct {
	Epoch  uint64
	RoomID domain.RoomID
	ID     string
}

// Manager owns the single live room connection. Every event it produces is
// published on connectors.TopicRoomEvents tagged with the epoch of the
// connection that produced it.
type Manager struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	transport transport.Transport
	codec     Codec

	mu      sync.Mutex
	epoch   uint64
	current *connection
	// last is the most recently opened connection, kept after Close so the
	// next one can wait for its transport to be released.
	last *connection
}

func NewManager(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, codec Codec) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "realtime")
	}

	return &Manager{
		logger:    logger,
		bus:       b,
		transport: tr,
		codec:     codec,
	}
}

// Open closes any prior connection and starts a new one scoped to roomID.
// The new connection dials only after the prior one has released its
// transport. The outcome is reported asynchronously on the bus.
func (m *Manager) Open(ctx context.Context, roomID domain.RoomID, credential string) Handle {
	m.mu.Lock()
	prev := m.current
	m.epoch++
	h := Handle{Epoch: m.epoch, RoomID: roomID, ID: uuid.NewString()}
	connCtx, cancel := context.WithCancel(ctx)
	c := &connection{
		handle: h,
		cancel: cancel,
		prev:   m.last,
		done:   make(chan struct{}),
		outbox: make(chan []byte, outboxCapacity),
		state:  connectors.ConnectionStateConnecting,
		logger: m.logger.With("room_id", roomID, "epoch", h.Epoch, "conn_id", h.ID),
	}
	m.current = c
	m.last = c
	m.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	go m.run(connCtx, c, credential)

	return h
}

// Send queues content for the open connection without blocking.
func (m *Manager) Send(content string) error {
	m.mu.Lock()
	c := m.current
	m.mu.Unlock()

	if c == nil || c.State() != connectors.ConnectionStateOpen {
		m.logger.Info("send skipped: not connected")

		return ErrNotConnected
	}
	payload, err := m.codec.EncodeMessage(content)
	if err != nil {
		return err
	}
	select {
	case c.outbox <- payload:
		return nil
	default:
		c.logger.Warn("send queue full", "len", len(payload))

		return ErrSendQueueFull
	}
}

// Close tears down the current connection. It is safe to call at any time.
func (m *Manager) Close() {
	m.mu.Lock()
	c := m.current
	m.current = nil
	m.mu.Unlock()

	if c != nil {
		c.cancel()
	}
}

// State reports the state of the current connection.
func (m *Manager) State() connectors.ConnectionState {
	m.mu.Lock()
	c := m.current
	m.mu.Unlock()

	if c == nil {
		return connectors.ConnectionStateClosed
	}

	return c.State()
}

// Current returns the handle of the current connection, if any.
func (m *Manager) Current() (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Handle{}, false
	}

	return m.current.handle, true
}

type connection struct {
	handle Handle
	cancel context.CancelFunc
	// prev is the connection this one replaced; done is closed once run has
	// released the transport and published the terminal event.
	prev   *connection
	done   chan struct{}
	outbox chan []byte
	logger *slog.Logger

	mu    sync.Mutex
	state connectors.ConnectionState
}

func (c *connection) State() connectors.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *connection) setState(state connectors.ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, c *connection, credential string) {
	defer close(c.done)
	if prev := c.prev; prev != nil {
		c.prev = nil
		<-prev.done
	}
	m.publishStatus(c, connectors.ConnectionStateConnecting, nil)

	var connErr *connectors.ConnectionError
	if ctx.Err() == nil {
		connErr = m.serve(ctx, c, credential)
	}

	m.mu.Lock()
	if m.current == c {
		m.current = nil
	}
	m.mu.Unlock()
	c.cancel()

	if connErr != nil {
		c.setState(connectors.ConnectionStateErrored)
		c.logger.Warn("connection errored", "error", connErr)
		m.publishStatus(c, connectors.ConnectionStateErrored, connErr)
		m.bus.Publish(connectors.TopicRoomEvents, connectors.ConnectionErrored{
			Epoch:  c.handle.Epoch,
			RoomID: c.handle.RoomID,
			Err:    connErr,
		})

		return
	}
	c.setState(connectors.ConnectionStateClosed)
	c.logger.Info("connection closed")
	m.publishStatus(c, connectors.ConnectionStateClosed, nil)
	m.bus.Publish(connectors.TopicRoomEvents, connectors.ConnectionClosed{
		Epoch:  c.handle.Epoch,
		RoomID: c.handle.RoomID,
	})
}

// serve runs one connection to completion. A nil result means the connection
// was closed on request.
func (m *Manager) serve(ctx context.Context, c *connection, credential string) *connectors.ConnectionError {
	conn, err := m.transport.Dial(ctx, c.handle.RoomID, credential)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		reason := connectors.ReasonUnreachable
		if errors.Is(err, transport.ErrRejected) {
			reason = connectors.ReasonAuthRejected
		}

		return &connectors.ConnectionError{Reason: reason, Err: err}
	}
	defer func() {
		c.cancel()
		_ = conn.Close()
	}()
	if ctx.Err() != nil {
		c.logger.Debug("discarding connection opened after close")

		return nil
	}

	c.setState(connectors.ConnectionStateOpen)
	m.publishStatus(c, connectors.ConnectionStateOpen, nil)

	go m.runOutbox(ctx, c, conn)

	return m.runReader(ctx, c, conn)
}

func (m *Manager) runOutbox(ctx context.Context, c *connection, conn transport.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-c.outbox:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.WriteFrame(writeCtx, payload)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("outbound frame write failed", "error", err)
				_ = conn.Close()

				return
			}
			m.bus.Publish(connectors.TopicOutboundFrame, connectors.OutboundFrame{
				Epoch:  c.handle.Epoch,
				RoomID: c.handle.RoomID,
				Len:    len(payload),
			})
		}
	}
}

func (m *Manager) runReader(ctx context.Context, c *connection, conn transport.Conn) *connectors.ConnectionError {
	var (
		historySeen bool
		pending     []domain.Message
	)
	for {
		payload, err := conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			detail := ""
			if errors.Is(err, transport.ErrClosedByPeer) {
				detail = "closed_by_peer"
			}

			return &connectors.ConnectionError{Reason: connectors.ReasonUnreachable, Detail: detail, Err: err}
		}

		frame, err := m.codec.Decode(payload, c.handle.RoomID)
		if err != nil {
			m.reportMalformed(c, err, len(payload))

			continue
		}

		switch frame.Kind {
		case FrameError:
			reason := connectors.ReasonProtocolViolation
			if _, ok := authErrorCodes[frame.ErrorCode]; ok {
				reason = connectors.ReasonAuthRejected
			}

			return &connectors.ConnectionError{Reason: reason, Detail: frame.ErrorCode}
		case FrameHistory:
			if historySeen {
				m.reportMalformed(c, malformed("duplicate history frame"), len(payload))

				continue
			}
			historySeen = true
			for _, reason := range frame.Skipped {
				m.reportMalformed(c, malformed("history entry: "+reason), len(payload))
			}
			m.bus.Publish(connectors.TopicRoomEvents, connectors.HistorySnapshot{
				Epoch:    c.handle.Epoch,
				RoomID:   c.handle.RoomID,
				Messages: frame.History,
			})
			m.flushPending(c, frame.History, pending)
			pending = nil
		case FrameMessage:
			if !historySeen {
				if len(pending) >= maxPendingMessages {
					m.reportMalformed(c, malformed("too many messages before history"), len(payload))

					continue
				}
				pending = append(pending, *frame.Message)

				continue
			}
			m.publishMessage(c, *frame.Message)
		}
	}
}

// flushPending emits messages that arrived before the snapshot, skipping any the snapshot already holds.
func (m *Manager) flushPending(c *connection, history, pending []domain.Message) {
	if len(pending) == 0 {
		return
	}
	seen := make(map[domain.MessageID]struct{}, len(history))
	for _, msg := range history {
		seen[msg.ID] = struct{}{}
	}
	for _, msg := range domain.SortedMessages(pending) {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		m.publishMessage(c, msg)
	}
}

func (m *Manager) publishMessage(c *connection, msg domain.Message) {
	m.bus.Publish(connectors.TopicRoomEvents, connectors.NewMessage{
		Epoch:   c.handle.Epoch,
		RoomID:  c.handle.RoomID,
		Message: msg,
	})
}

func (m *Manager) reportMalformed(c *connection, err error, size int) {
	reason := err.Error()
	var mf *MalformedFrameError
	if errors.As(err, &mf) {
		reason = mf.Reason
	}
	c.logger.Warn("dropping malformed frame", "reason", reason, "len", size)
	m.bus.Publish(connectors.TopicMalformed, connectors.MalformedFrame{
		Epoch:  c.handle.Epoch,
		RoomID: c.handle.RoomID,
		Reason: reason,
		Len:    size,
	})
}

func (m *Manager) publishStatus(c *connection, state connectors.ConnectionState, err error) {
	status := connectors.ConnectionStatus{
		State:         state,
		Epoch:         c.handle.Epoch,
		RoomID:        c.handle.RoomID,
		ConnectionID:  c.handle.ID,
		TransportName: m.transport.Name(),
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	m.bus.Publish(connectors.TopicConnStatus, status)
}
