package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const writeMaxAttempts = 3

type writeCmd struct {
	key  string
	name string
	fn   func(context.Context) error
}

// WriterQueue runs persistence writes one at a time, in enqueue order, off the
// caller's goroutine. Enqueueing never blocks.
type WriterQueue struct {
	logger *slog.Logger
	wake   chan struct{}

	mu      sync.Mutex
	cmds    []writeCmd
	pending map[string]struct{}
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if logger == nil {
		logger = slog.Default().With("component", "persistence")
	}
	if capacity <= 0 {
		capacity = 256
	}

	return &WriterQueue{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		cmds:    make([]writeCmd, 0, capacity),
		pending: make(map[string]struct{}),
	}
}

func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	w.mu.Lock()
	w.cmds = append(w.cmds, writeCmd{name: name, fn: fn})
	w.mu.Unlock()
	w.signal()
}

// EnqueueKeyed is for writes that persist whatever the latest state of key is
// when they run. It is a no-op while a write for key is still waiting.
func (w *WriterQueue) EnqueueKeyed(key, name string, fn func(context.Context) error) {
	w.mu.Lock()
	if _, ok := w.pending[key]; ok {
		w.mu.Unlock()

		return
	}
	w.pending[key] = struct{}{}
	w.cmds = append(w.cmds, writeCmd{key: key, name: name, fn: fn})
	w.mu.Unlock()
	w.signal()
}

// Len reports the number of writes waiting to run.
func (w *WriterQueue) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.cmds)
}

func (w *WriterQueue) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// next pops the oldest write. A keyed write stops being pending once popped,
// so state changed while it runs is picked up by a fresh write.
func (w *WriterQueue) next() (writeCmd, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.cmds) == 0 {
		return writeCmd{}, false
	}
	cmd := w.cmds[0]
	w.cmds[0] = writeCmd{}
	w.cmds = w.cmds[1:]
	if cmd.key != "" {
		delete(w.pending, cmd.key)
	}

	return cmd, true
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		for {
			for {
				cmd, ok := w.next()
				if !ok {
					break
				}
				w.runWithRetry(ctx, cmd)
				if ctx.Err() != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
			}
		}
	}()
}

// Drain waits until every write enqueued before the call has run.
func (w *WriterQueue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	w.Enqueue("drain", func(context.Context) error {
		close(done)

		return nil
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	for attempt := 1; attempt <= writeMaxAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("db write failed", "cmd", cmd.name, "key", cmd.key, "attempt", attempt, "error", err)
		if attempt == writeMaxAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
		}
	}
}
