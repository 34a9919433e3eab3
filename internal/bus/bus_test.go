package bus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestPubSubBus_DeliversInPublishOrder(t *testing.T) {
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer b.Close()

	sub := b.Subscribe("room.events")
	defer b.Unsubscribe(sub, "room.events")

	for i := 0; i < 50; i++ {
		b.Publish("room.events", i)
	}

	for want := 0; want < 50; want++ {
		select {
		case raw := <-sub:
			got, ok := raw.(int)
			if !ok {
				t.Fatalf("unexpected payload type %T", raw)
			}
			if got != want {
				t.Fatalf("out of order delivery: got %d want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", want)
		}
	}
}

func TestPubSubBus_SubscribeToSeveralTopics(t *testing.T) {
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer b.Close()

	sub := b.Subscribe("a", "b")
	defer b.Unsubscribe(sub)

	b.Publish("a", "from-a")
	b.Publish("c", "ignored")
	b.Publish("b", "from-b")

	for _, want := range []string{"from-a", "from-b"} {
		select {
		case raw := <-sub:
			if raw != want {
				t.Fatalf("got %v want %v", raw, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestPubSubBus_PublishAfterCloseDoesNotBlock(t *testing.T) {
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.Close()
	b.Close()

	done := make(chan struct{})
	go func() {
		b.Publish("room.events", 1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish after close blocked")
	}
}

func TestPubSubBus_CloseRacingPublishersNeverBlocks(t *testing.T) {
	for round := 0; round < 20; round++ {
		b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
		sub := b.Subscribe("room.events")

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					b.Publish("room.events", j)
				}
			}()
		}
		b.Close()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: publisher blocked after close", round)
		}
		for range sub {
		}

		late := b.Subscribe("room.events")
		if _, ok := <-late; ok {
			t.Fatalf("subscription made after close must be closed")
		}
		b.Unsubscribe(late, "room.events")
	}
}
