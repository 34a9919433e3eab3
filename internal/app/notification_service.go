package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skobkin/roomsync/internal/bus"
	"github.com/skobkin/roomsync/internal/config"
	"github.com/skobkin/roomsync/internal/connectors"
	"github.com/skobkin/roomsync/internal/domain"
	"github.com/skobkin/roomsync/internal/notifications"
)

// NotificationService turns unread increments for background rooms into
// user-facing notifications.
type NotificationService struct {
	bus           bus.MessageBus
	rooms         *domain.RoomStore
	canon         *domain.Canonicalizer
	currentConfig func() config.AppConfig
	self          func() domain.Identity
	sender        notifications.Sender
	logger        *slog.Logger
}

func NewNotificationService(
	messageBus bus.MessageBus,
	rooms *domain.RoomStore,
	canon *domain.Canonicalizer,
	currentConfig func() config.AppConfig,
	self func() domain.Identity,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}
	if canon == nil {
		canon = domain.NewCanonicalizer()
	}

	return &NotificationService{
		bus:           messageBus,
		rooms:         rooms,
		canon:         canon,
		currentConfig: currentConfig,
		self:          self,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	unreadSub := s.bus.Subscribe(connectors.TopicRoomUnread)

	go func() {
		defer s.bus.Unsubscribe(unreadSub, connectors.TopicRoomUnread)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-unreadSub:
				if !ok {
					return
				}
				event, ok := raw.(connectors.UnreadChanged)
				if !ok {
					continue
				}
				s.handleUnread(event)
			}
		}
	}()
}

func (s *NotificationService) handleUnread(event connectors.UnreadChanged) {
	prefs := s.notificationPrefs()
	if !prefs.Enabled || !prefs.IncomingMessage {
		return
	}
	msg := event.Message
	if s.self != nil && msg.Sender != "" && msg.Sender == s.self() {
		return
	}

	senderName := strings.TrimSpace(msg.SenderName)
	if senderName == "" {
		senderName = "unknown"
	}
	body := strings.TrimSpace(msg.Content)
	if body == "" {
		body = "(empty)"
	}

	s.send(notifications.Payload{
		Title:   s.title(event.RoomID, senderName),
		Content: fmt.Sprintf("%s: %s", senderName, body),
		RoomID:  event.RoomID,
	})
}

func (s *NotificationService) title(roomID domain.RoomID, senderName string) string {
	var (
		room  domain.Room
		known bool
	)
	if s.rooms != nil {
		room, known = s.rooms.Room(roomID)
	}
	if known && room.Kind == domain.RoomKindPrivate {
		return "@" + senderName
	}
	if !known {
		return "#" + roomID.String()
	}
	var self domain.Identity
	if s.self != nil {
		self = s.self()
	}

	return "#" + s.canon.RoomDisplayName(room, self)
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
	}

	return cfg.Notifications
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{
		Title:   title,
		Content: content,
		RoomID:  notification.RoomID,
	})
}
