package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skobkin/roomsync/internal/app"
	"github.com/skobkin/roomsync/internal/bus"
	"github.com/skobkin/roomsync/internal/config"
	"github.com/skobkin/roomsync/internal/connectors"
	"github.com/skobkin/roomsync/internal/domain"
	"github.com/skobkin/roomsync/internal/notifications"
)

const maxPreviewLen = 48

func main() {
	if err := run(); err != nil {
		slog.Error("run roomsync", "error", err)
		os.Exit(1)
	}
}

func run() error {
	token := flag.String("token", "", "bearer token (default $"+app.EnvToken+")")
	room := flag.Int64("room", 0, "room to open on start (default: last selected room)")
	apiURL := flag.String("api", "", "REST API base url (overrides config and $"+config.EnvAPIURL+")")
	wsURL := flag.String("ws", "", "realtime base url (overrides config and $"+config.EnvWSURL+")")
	envFile := flag.String("env-file", ".env", "dotenv file to load before reading the environment")
	quiet := flag.Bool("quiet", false, "log notifications instead of showing desktop notifications")
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	overrides := map[string]string{
		config.EnvAPIURL: strings.TrimSpace(*apiURL),
		config.EnvWSURL:  strings.TrimSpace(*wsURL),
	}
	opts := app.Options{
		Getenv: func(key string) string {
			if v := overrides[key]; v != "" {
				return v
			}

			return os.Getenv(key)
		},
	}
	if *quiet {
		opts.Sender = notifications.LogSender{}
	}

	rt, err := app.Initialize(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()
	logger := rt.LogManager.Logger("cli")

	credential := strings.TrimSpace(*token)
	if credential == "" {
		credential = strings.TrimSpace(os.Getenv(app.EnvToken))
	}
	sess, err := rt.SignIn(ctx, credential)
	if err != nil {
		if sess.Credential == "" {
			return fmt.Errorf("sign in: %w", err)
		}
		logger.Warn("room directory unavailable", "error", err)
	}
	fmt.Printf("signed in as %s\n", sess.Username)

	out := newPrinter(os.Stdout, sess.Identity)
	watch(ctx, rt.Bus, out, logger)
	out.rooms(rt.Engine.Rooms())

	startRoom := domain.RoomID(*room)
	if startRoom <= 0 {
		startRoom, _ = rt.LastSelectedRoom()
	}
	if startRoom > 0 {
		if err := rt.OpenRoom(startRoom); err != nil {
			logger.Warn("open start room", "room_id", startRoom, "error", err)
		}
	}

	return readCommands(ctx, os.Stdin, rt, out)
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("load env file %s: %w", path, err)
	}

	return nil
}

func readCommands(ctx context.Context, in io.Reader, rt *app.Runtime, out *printer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				out.errorf("%v", err)

				continue
			}
			if cmd.name == cmdQuit {
				return nil
			}
			if err := execute(ctx, rt, out, cmd); err != nil {
				out.errorf("%v", err)
			}
		}
	}
}

func execute(ctx context.Context, rt *app.Runtime, out *printer, cmd command) error {
	switch cmd.name {
	case cmdNone:
		return nil
	case cmdSend:
		return rt.Engine.Send(cmd.text)
	case cmdRooms:
		out.rooms(rt.Engine.Rooms())
	case cmdJoin:
		return rt.OpenRoom(cmd.room)
	case cmdAck:
		rt.Engine.AckScroll()
	case cmdLeave:
		rt.Engine.Leave()
	case cmdRetry:
		return rt.Engine.Retry()
	case cmdRefresh:
		if err := rt.RefreshRooms(ctx); err != nil {
			return err
		}
		out.rooms(rt.Engine.Rooms())
	case cmdClear:
		return rt.ClearReadState(ctx)
	case cmdStatus:
		status, known := rt.CurrentConnStatus()
		if !known {
			out.infof("no connection yet")

			return nil
		}
		out.infof("%s", app.ConnectionStatusLine(status))
	case cmdHelp:
		out.infof("%s", helpText)
	}

	return nil
}

func watch(ctx context.Context, b bus.MessageBus, out *printer, logger *slog.Logger) {
	viewSub := b.Subscribe(connectors.TopicRoomView)
	unreadSub := b.Subscribe(connectors.TopicRoomUnread)
	syncSub := b.Subscribe(connectors.TopicSyncState)
	malformedSub := b.Subscribe(connectors.TopicMalformed)

	go func() {
		defer b.Unsubscribe(viewSub, connectors.TopicRoomView)
		defer b.Unsubscribe(unreadSub, connectors.TopicRoomUnread)
		defer b.Unsubscribe(syncSub, connectors.TopicSyncState)
		defer b.Unsubscribe(malformedSub, connectors.TopicMalformed)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-viewSub:
				if !ok {
					return
				}
				if update, ok := raw.(connectors.RoomViewUpdate); ok {
					out.view(update)
				}
			case raw, ok := <-unreadSub:
				if !ok {
					return
				}
				if event, ok := raw.(connectors.UnreadChanged); ok {
					out.unread(event)
				}
			case raw, ok := <-syncSub:
				if !ok {
					return
				}
				if change, ok := raw.(connectors.SyncStateChanged); ok {
					out.infof("%s", app.SyncStateLine(change))
				}
			case raw, ok := <-malformedSub:
				if !ok {
					return
				}
				if frame, ok := raw.(connectors.MalformedFrame); ok {
					logger.Debug("malformed frame", "room_id", frame.RoomID, "reason", frame.Reason, "len", frame.Len)
				}
			}
		}
	}()
}

func formatMessage(msg domain.Message, self domain.Identity) string {
	sender := strings.TrimSpace(msg.SenderName)
	if sender == "" {
		sender = "unknown"
	}
	if self != "" && msg.Sender == self {
		sender += " (you)"
	}

	return fmt.Sprintf("[%s] %s: %s", msg.CreatedAt.Local().Format(time.TimeOnly), sender, msg.Content)
}

func formatRoomView(view domain.RoomView) string {
	marker := " "
	if view.Active {
		marker = "*"
	}
	line := fmt.Sprintf("%s %4s  %s", marker, view.Room.ID, view.DisplayName)
	if view.Unread > 0 {
		line = fmt.Sprintf("%s (%d)", line, view.Unread)
	}
	if text := strings.TrimSpace(view.Preview.Text); text != "" {
		line = fmt.Sprintf("%s  %s: %s", line, view.Preview.SenderName, truncate(text, maxPreviewLen))
	}

	return line
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}

	return string(r[:limit]) + "..."
}
