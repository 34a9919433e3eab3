package notifications

import (
	"log/slog"
	"strings"

	"github.com/gen2brain/beeep"
)

// DesktopSender shows native desktop notifications.
type DesktopSender struct {
	logger *slog.Logger
	notify func(title, message string) error
}

func NewDesktopSender(logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}

	return &DesktopSender{
		logger: logger,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

func (s *DesktopSender) Send(payload Payload) {
	if s == nil {
		return
	}
	title := strings.TrimSpace(payload.Title)
	content := strings.TrimSpace(payload.Content)
	if title == "" && content == "" {
		return
	}
	if err := s.notify(title, content); err != nil {
		s.logger.Warn("desktop notification failed", "title", title, "error", err)
	}
}

// LogSender writes notifications to a logger. It is used where no desktop session is available.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(payload Payload) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "title", payload.Title, "content", payload.Content, "room_id", payload.RoomID)
}
