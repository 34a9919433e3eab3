package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/roomsync/internal/bus"
	"github.com/skobkin/roomsync/internal/config"
	"github.com/skobkin/roomsync/internal/connectors"
	"github.com/skobkin/roomsync/internal/domain"
	"github.com/skobkin/roomsync/internal/notifications"
)

func TestNotificationServiceGroupRoomMessage(t *testing.T) {
	messageBus := newTestMessageBus(t)
	rooms := domain.NewRoomStore()
	rooms.Load([]domain.Room{{ID: 1, Kind: domain.RoomKindGroup, Name: "General"}})
	sender := newCollectingNotificationSender()
	startNotificationService(t, messageBus, rooms, config.Default(), "user:me", sender)

	messageBus.Publish(connectors.TopicRoomUnread, connectors.UnreadChanged{
		RoomID: 1,
		Unread: 1,
		Message: domain.Message{
			ID:         10,
			RoomID:     1,
			Sender:     "user:bob",
			SenderName: "bob",
			Content:    "Hello there",
		},
	})

	got := sender.waitForCount(t, 1)
	if got[0].Title != "#General" {
		t.Fatalf("expected title #General, got %q", got[0].Title)
	}
	if got[0].Content != "bob: Hello there" {
		t.Fatalf("expected content %q, got %q", "bob: Hello there", got[0].Content)
	}
	if got[0].RoomID != 1 {
		t.Fatalf("expected room id 1, got %d", got[0].RoomID)
	}
}

func TestNotificationServicePrivateRoomMessage(t *testing.T) {
	messageBus := newTestMessageBus(t)
	rooms := domain.NewRoomStore()
	rooms.Load([]domain.Room{{
		ID:   2,
		Kind: domain.RoomKindPrivate,
		Participants: []domain.Participant{
			{ID: 1, Username: "me"},
			{ID: 2, Username: "alice"},
		},
	}})
	sender := newCollectingNotificationSender()
	startNotificationService(t, messageBus, rooms, config.Default(), "user:me", sender)

	messageBus.Publish(connectors.TopicRoomUnread, connectors.UnreadChanged{
		RoomID:  2,
		Unread:  3,
		Message: domain.Message{ID: 5, RoomID: 2, Sender: "user:alice", SenderName: "alice", Content: "  "},
	})

	got := sender.waitForCount(t, 1)
	if got[0].Title != "@alice" {
		t.Fatalf("expected title @alice, got %q", got[0].Title)
	}
	if got[0].Content != "alice: (empty)" {
		t.Fatalf("unexpected content %q", got[0].Content)
	}
}

func TestNotificationServiceUnknownRoomFallsBackToID(t *testing.T) {
	messageBus := newTestMessageBus(t)
	sender := newCollectingNotificationSender()
	startNotificationService(t, messageBus, domain.NewRoomStore(), config.Default(), "user:me", sender)

	messageBus.Publish(connectors.TopicRoomUnread, connectors.UnreadChanged{
		RoomID:  42,
		Unread:  1,
		Message: domain.Message{ID: 1, RoomID: 42, Content: "hi"},
	})

	got := sender.waitForCount(t, 1)
	if got[0].Title != "#42" {
		t.Fatalf("expected title #42, got %q", got[0].Title)
	}
	if got[0].Content != "unknown: hi" {
		t.Fatalf("unexpected content %q", got[0].Content)
	}
}

func TestNotificationServiceRespectsPreferences(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.AppConfig)
	}{
		{name: "disabled", mutate: func(c *config.AppConfig) { c.Notifications.Enabled = false }},
		{name: "incoming off", mutate: func(c *config.AppConfig) { c.Notifications.IncomingMessage = false }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			messageBus := newTestMessageBus(t)
			cfg := config.Default()
			tc.mutate(&cfg)
			sender := newCollectingNotificationSender()
			startNotificationService(t, messageBus, domain.NewRoomStore(), cfg, "user:me", sender)

			messageBus.Publish(connectors.TopicRoomUnread, connectors.UnreadChanged{
				RoomID:  1,
				Unread:  1,
				Message: domain.Message{ID: 1, RoomID: 1, Sender: "user:bob", SenderName: "bob", Content: "hi"},
			})

			sender.assertCount(t, 0)
		})
	}
}

func TestNotificationServiceSkipsOwnMessages(t *testing.T) {
	messageBus := newTestMessageBus(t)
	sender := newCollectingNotificationSender()
	startNotificationService(t, messageBus, domain.NewRoomStore(), config.Default(), "user:me", sender)

	messageBus.Publish(connectors.TopicRoomUnread, connectors.UnreadChanged{
		RoomID:  1,
		Unread:  1,
		Message: domain.Message{ID: 1, RoomID: 1, Sender: "user:me", SenderName: "me", Content: "echo"},
	})

	sender.assertCount(t, 0)
}

func startNotificationService(
	t *testing.T,
	messageBus bus.MessageBus,
	rooms *domain.RoomStore,
	cfg config.AppConfig,
	self domain.Identity,
	sender notifications.Sender,
) {
	t.Helper()

	service := NewNotificationService(
		messageBus,
		rooms,
		domain.NewCanonicalizer(),
		func() config.AppConfig { return cfg },
		func() domain.Identity { return self },
		sender,
		nil,
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	service.Start(ctx)
}

func newTestMessageBus(t *testing.T) *bus.PubSubBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := bus.New(logger)
	t.Cleanup(func() {
		messageBus.Close()
	})

	return messageBus
}

type collectingNotificationSender struct {
	mu            sync.Mutex
	notifications []notifications.Payload
	changes       chan struct{}
}

func newCollectingNotificationSender() *collectingNotificationSender {
	return &collectingNotificationSender{
		changes: make(chan struct{}, 1),
	}
}

func (s *collectingNotificationSender) Send(notification notifications.Payload) {
	s.mu.Lock()
	s.notifications = append(s.notifications, notification)
	s.mu.Unlock()

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *collectingNotificationSender) snapshot() []notifications.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notifications.Payload, len(s.notifications))
	copy(out, s.notifications)

	return out
}

func (s *collectingNotificationSender) waitForCount(t *testing.T, expected int) []notifications.Payload {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		current := s.snapshot()
		if len(current) >= expected {
			return current
		}
		select {
		case <-s.changes:
		case <-time.After(10 * time.Millisecond):
		}
	}

	t.Fatalf("timed out waiting for %d notifications", expected)

	return nil
}

func (s *collectingNotificationSender) assertCount(t *testing.T, expected int) {
	t.Helper()

	time.Sleep(100 * time.Millisecond)
	if got := len(s.snapshot()); got != expected {
		t.Fatalf("expected %d notifications, got %d", expected, got)
	}
}
