package roomsync

import (
	"context"
	"sync"

	"github.com/skobkin/roomsync/internal/connectors"
)

// eventQueue is an unbounded FIFO between the bus subscription and the
// handler. The handler publishes on the same bus, so it must never be the
// goroutine that keeps the subscription drained.
type eventQueue struct {
	mu    sync.Mutex
	items []connectors.RoomEvent
	ready chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev connectors.RoomEvent) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop(ctx context.Context) (connectors.RoomEvent, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()

			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.ready:
		}
	}
}
