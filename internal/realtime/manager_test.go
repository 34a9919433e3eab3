package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/roomsync/internal/bus"
	"github.com/skobkin/roomsync/internal/connectors"
	"github.com/skobkin/roomsync/internal/domain"
	"github.com/skobkin/roomsync/internal/transport"
)

type fakeConn struct {
	frames  chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once
	onClose func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan []byte, 16),
		written: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, transport.ErrClosedByPeer
	case f := <-c.frames:
		return f, nil
	}
}

func (c *fakeConn) WriteFrame(_ context.Context, payload []byte) error {
	c.written <- payload

	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})

	return nil
}

type fakeTransport struct {
	dial func(ctx context.Context, roomID domain.RoomID, credential string) (transport.Conn, error)
}

func (t *fakeTransport) Name() string { return "fake" }

func (t *fakeTransport) Dial(ctx context.Context, roomID domain.RoomID, credential string) (transport.Conn, error) {
	return t.dial(ctx, roomID, credential)
}

func newTestManager(t *testing.T, tr transport.Transport) (*Manager, bus.Subscription) {
	t.Helper()
	b := bus.New(nil)
	t.Cleanup(b.Close)
	sub := b.Subscribe(connectors.TopicRoomEvents)

	return NewManager(nil, b, tr, NewJSONCodec(nil)), sub
}

func nextEvent(t *testing.T, sub bus.Subscription) any {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for room event")

		return nil
	}
}

func waitOpen(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.State() != connectors.ConnectionStateOpen {
		if time.Now().After(deadline) {
			t.Fatalf("connection never opened, state %s", m.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManager_HistoryThenMessagesThenClosed(t *testing.T) {
	conn := newFakeConn()
	m, sub := newTestManager(t, &fakeTransport{dial: func(context.Context, domain.RoomID, string) (transport.Conn, error) {
		return conn, nil
	}})

	h := m.Open(context.Background(), 3, "tok")
	conn.frames <- []byte(`{"type":"message","message":{"id":5,"sender":"a","content":"early","created_at":"2024-01-01T00:00:05Z"}}`)
	conn.frames <- []byte(`{"type":"typing","username":"a"}`)
	conn.frames <- []byte(`{"type":"history","messages":[{"id":4,"sender":"a","content":"x","timestamp":"2024-01-01T00:00:04Z"},{"id":5,"sender":"a","content":"early","timestamp":"2024-01-01T00:00:05Z"}]}`)
	conn.frames <- []byte(`{"type":"message","message":{"id":6,"sender":"b","content":"late","created_at":"2024-01-01T00:00:06Z"}}`)

	hist, ok := nextEvent(t, sub).(connectors.HistorySnapshot)
	if !ok {
		t.Fatalf("expected history snapshot first")
	}
	if hist.Epoch != h.Epoch || len(hist.Messages) != 2 {
		t.Fatalf("unexpected snapshot: %+v", hist)
	}
	msg, ok := nextEvent(t, sub).(connectors.NewMessage)
	if !ok || msg.Message.ID != 6 {
		t.Fatalf("expected message 6 after snapshot without the duplicate early one, got %+v", msg)
	}

	waitOpen(t, m)
	if err := m.Send("hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case out := <-conn.written:
		if string(out) != `{"type":"message","content":"hello"}` {
			t.Fatalf("unexpected outbound frame %s", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("outbound frame was not written")
	}

	m.Close()
	m.Close()
	closed, ok := nextEvent(t, sub).(connectors.ConnectionClosed)
	if !ok || closed.Epoch != h.Epoch {
		t.Fatalf("expected closed event for epoch %d, got %+v", h.Epoch, closed)
	}
	if err := m.Send("late"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestManager_SendBeforeOpenIsNotConnected(t *testing.T) {
	m, _ := newTestManager(t, &fakeTransport{dial: func(ctx context.Context, _ domain.RoomID, _ string) (transport.Conn, error) {
		<-ctx.Done()

		return nil, ctx.Err()
	}})

	if err := m.Send("x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected without connection, got %v", err)
	}
	m.Open(context.Background(), 1, "tok")
	if err := m.Send("x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected while connecting, got %v", err)
	}
	m.Close()
}

func TestManager_DialFailuresMapToReasons(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason connectors.ConnectionErrorReason
	}{
		{name: "rejected", err: transport.ErrRejected, reason: connectors.ReasonAuthRejected},
		{name: "unreachable", err: transport.ErrUnreachable, reason: connectors.ReasonUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, sub := newTestManager(t, &fakeTransport{dial: func(context.Context, domain.RoomID, string) (transport.Conn, error) {
				return nil, tt.err
			}})
			m.Open(context.Background(), 2, "tok")
			ev, ok := nextEvent(t, sub).(connectors.ConnectionErrored)
			if !ok {
				t.Fatalf("expected errored event")
			}
			if ev.Err.Reason != tt.reason {
				t.Fatalf("expected reason %s, got %s", tt.reason, ev.Err.Reason)
			}
			if m.State() != connectors.ConnectionStateClosed {
				t.Fatalf("expected no current connection after error, got %s", m.State())
			}
		})
	}
}

func TestManager_ErrorFrameEndsConnection(t *testing.T) {
	tests := []struct {
		code   string
		reason connectors.ConnectionErrorReason
	}{
		{code: "invalid_token", reason: connectors.ReasonAuthRejected},
		{code: "not_in_room", reason: connectors.ReasonAuthRejected},
		{code: "room_not_found", reason: connectors.ReasonProtocolViolation},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			conn := newFakeConn()
			m, sub := newTestManager(t, &fakeTransport{dial: func(context.Context, domain.RoomID, string) (transport.Conn, error) {
				return conn, nil
			}})
			m.Open(context.Background(), 2, "tok")
			conn.frames <- []byte(`{"error":"` + tt.code + `"}`)

			ev, ok := nextEvent(t, sub).(connectors.ConnectionErrored)
			if !ok {
				t.Fatalf("expected errored event")
			}
			if ev.Err.Reason != tt.reason || ev.Err.Detail != tt.code {
				t.Fatalf("unexpected error: %+v", ev.Err)
			}
		})
	}
}

func TestManager_PeerDropIsErrored(t *testing.T) {
	conn := newFakeConn()
	m, sub := newTestManager(t, &fakeTransport{dial: func(context.Context, domain.RoomID, string) (transport.Conn, error) {
		return conn, nil
	}})
	m.Open(context.Background(), 2, "tok")
	conn.frames <- []byte(`{"type":"history","messages":[]}`)
	if _, ok := nextEvent(t, sub).(connectors.HistorySnapshot); !ok {
		t.Fatalf("expected empty history snapshot")
	}
	_ = conn.Close()

	ev, ok := nextEvent(t, sub).(connectors.ConnectionErrored)
	if !ok || ev.Err.Reason != connectors.ReasonUnreachable {
		t.Fatalf("expected unreachable error after drop, got %+v", ev)
	}
}

func TestManager_DuplicateHistoryIsMalformed(t *testing.T) {
	conn := newFakeConn()
	b := bus.New(nil)
	defer b.Close()
	events := b.Subscribe(connectors.TopicRoomEvents)
	diag := b.Subscribe(connectors.TopicMalformed)
	m := NewManager(nil, b, &fakeTransport{dial: func(context.Context, domain.RoomID, string) (transport.Conn, error) {
		return conn, nil
	}}, NewJSONCodec(nil))

	m.Open(context.Background(), 2, "tok")
	conn.frames <- []byte(`{"type":"history","messages":[]}`)
	conn.frames <- []byte(`{"type":"history","messages":[]}`)

	if _, ok := nextEvent(t, events).(connectors.HistorySnapshot); !ok {
		t.Fatalf("expected history snapshot")
	}
	mf, ok := nextEvent(t, diag).(connectors.MalformedFrame)
	if !ok || mf.Reason != "duplicate history frame" {
		t.Fatalf("expected duplicate history diagnostic, got %+v", mf)
	}
	m.Close()
}

func TestManager_ReopenSupersedesSlowDial(t *testing.T) {
	release := make(chan struct{})
	slow := newFakeConn()
	fast := newFakeConn()
	m, sub := newTestManager(t, &fakeTransport{dial: func(_ context.Context, roomID domain.RoomID, _ string) (transport.Conn, error) {
		if roomID == 1 {
			<-release

			return slow, nil
		}

		return fast, nil
	}})

	first := m.Open(context.Background(), 1, "tok")
	second := m.Open(context.Background(), 2, "tok")
	if second.Epoch <= first.Epoch {
		t.Fatalf("expected epoch to grow, got %d then %d", first.Epoch, second.Epoch)
	}
	fast.frames <- []byte(`{"type":"history","messages":[]}`)
	close(release)
	slow.frames <- []byte(`{"type":"history","messages":[{"id":1,"sender":"a","content":"x","timestamp":"2024-01-01T00:00:00Z"}]}`)

	var gotSecondHistory, gotFirstClosed bool
	for !(gotSecondHistory && gotFirstClosed) {
		switch ev := nextEvent(t, sub).(type) {
		case connectors.HistorySnapshot:
			if ev.Epoch != second.Epoch {
				t.Fatalf("stale connection delivered history: %+v", ev)
			}
			gotSecondHistory = true
		case connectors.ConnectionClosed:
			if ev.Epoch == first.Epoch {
				gotFirstClosed = true
			}
		default:
			t.Fatalf("unexpected event %T", ev)
		}
	}
	m.Close()
}

// countingTransport hands out fresh fake connections and records how many
// are open at the same time.
type countingTransport struct {
	mu      sync.Mutex
	open    int
	maxOpen int
	dialed  []*fakeConn
}

func (t *countingTransport) Name() string { return "counting" }

func (t *countingTransport) Dial(_ context.Context, _ domain.RoomID, _ string) (transport.Conn, error) {
	conn := newFakeConn()
	conn.onClose = func() {
		t.mu.Lock()
		t.open--
		t.mu.Unlock()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.open++
	if t.open > t.maxOpen {
		t.maxOpen = t.open
	}
	t.dialed = append(t.dialed, conn)

	return conn, nil
}

func (t *countingTransport) counts() (open, maxOpen, dialed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.open, t.maxOpen, len(t.dialed)
}

func TestManager_ReopenKeepsOneTransportOpen(t *testing.T) {
	tr := &countingTransport{}
	m, _ := newTestManager(t, tr)

	for room := domain.RoomID(1); room <= 4; room++ {
		h := m.Open(context.Background(), room, "tok")
		waitOpen(t, m)
		if cur, ok := m.Current(); !ok || cur.Epoch != h.Epoch {
			t.Fatalf("expected current epoch %d, got %+v", h.Epoch, cur)
		}
	}
	if open, maxOpen, dialed := tr.counts(); open != 1 || maxOpen != 1 || dialed != 4 {
		t.Fatalf("expected 4 dials with at most one open, got open=%d max=%d dialed=%d", open, maxOpen, dialed)
	}

	m.Close()
	m.Open(context.Background(), 5, "tok")
	waitOpen(t, m)
	if _, maxOpen, _ := tr.counts(); maxOpen != 1 {
		t.Fatalf("open after close overlapped the closing connection, max=%d", maxOpen)
	}
	m.Close()
}

func TestManager_RapidReopenDialsAfterPriorRelease(t *testing.T) {
	tr := &countingTransport{}
	m, sub := newTestManager(t, tr)

	var last Handle
	for room := domain.RoomID(1); room <= 5; room++ {
		last = m.Open(context.Background(), room, "tok")
	}
	waitOpen(t, m)
	if cur, _ := m.Current(); cur.Epoch != last.Epoch {
		t.Fatalf("expected the last open to win, got epoch %d", cur.Epoch)
	}
	if _, maxOpen, _ := tr.counts(); maxOpen != 1 {
		t.Fatalf("expected at most one open transport, got %d", maxOpen)
	}

	terminal := 0
	for terminal < 4 {
		switch ev := nextEvent(t, sub).(type) {
		case connectors.ConnectionClosed:
			if ev.Epoch == last.Epoch {
				t.Fatalf("current connection reported closed")
			}
			terminal++
		default:
			t.Fatalf("unexpected event %T", ev)
		}
	}
	m.Close()
}
