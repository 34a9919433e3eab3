package notifications

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestDesktopSender_SkipsEmptyAndTrims(t *testing.T) {
	var calls []string
	s := &DesktopSender{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		notify: func(title, message string) error {
			calls = append(calls, title+"|"+message)

			return nil
		},
	}

	s.Send(Payload{Title: "  ", Content: ""})
	s.Send(Payload{Title: " #general ", Content: " bob: hi "})

	if len(calls) != 1 || calls[0] != "#general|bob: hi" {
		t.Fatalf("unexpected notifications %v", calls)
	}
}

func TestDesktopSender_ErrorIsNotFatal(t *testing.T) {
	s := &DesktopSender{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		notify: func(string, string) error { return errors.New("no dbus") },
	}
	s.Send(Payload{Title: "x", Content: "y"})
}

func TestSenderFuncAndLogSender(t *testing.T) {
	var got Payload
	var s Sender = SenderFunc(func(p Payload) { got = p })
	s.Send(Payload{Title: "#general", Content: "bob: hi", RoomID: 4})
	if got.RoomID != 4 || got.Title != "#general" {
		t.Fatalf("unexpected payload %+v", got)
	}

	var buf bytes.Buffer
	LogSender{Logger: slog.New(slog.NewTextHandler(&buf, nil))}.Send(got)
	if !strings.Contains(buf.String(), "room_id=4") || !strings.Contains(buf.String(), "title=#general") {
		t.Fatalf("unexpected log line %q", buf.String())
	}
}
