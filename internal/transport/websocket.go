package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skobkin/roomsync/internal/domain"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	maxFrameSize            = 1 << 20
)

// WebSocketTransport dials <base>/ws/chat/<room>?token=<credential>.
type WebSocketTransport struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

func NewWebSocketTransport(baseURL string) *WebSocketTransport {
	return &WebSocketTransport{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		logger: slog.With("component", "transport", "transport", "websocket", "base_url", baseURL),
	}
}

func (t *WebSocketTransport) Name() string {
	return "websocket"
}

func (t *WebSocketTransport) StatusTarget() string {
	return t.baseURL
}

func (t *WebSocketTransport) endpoint(roomID domain.RoomID, credential string) (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat/" + roomID.String()
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (t *WebSocketTransport) Dial(ctx context.Context, roomID domain.RoomID, credential string) (Conn, error) {
	endpoint, err := t.endpoint(roomID, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	t.logger.Info("dialing", "room_id", roomID)
	ws, resp, err := t.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			t.logger.Warn("handshake rejected", "room_id", roomID, "status", resp.StatusCode)

			return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
		}
		t.logger.Warn("dial failed", "room_id", roomID, "error", err)

		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	ws.SetReadLimit(maxFrameSize)
	t.logger.Info("connected", "room_id", roomID)

	return &wsConn{
		ws:     ws,
		logger: t.logger.With("room_id", roomID),
	}, nil
}

type wsConn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// ErrClosedByPeer is returned by ReadFrame when the server ended the connection with a normal close.
var ErrClosedByPeer = errors.New("connection closed by peer")

func (c *wsConn) ReadFrame(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetReadDeadline(deadline)
	} else {
		_ = c.ws.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrClosedByPeer
			}

			return nil, fmt.Errorf("read websocket frame: %w", err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		c.logger.Debug("frame received", "len", len(payload))

		return payload, nil
	}
}

func (c *wsConn) WriteFrame(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write websocket frame: %w", err)
	}
	c.logger.Debug("frame sent", "len", len(payload))

	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
		c.logger.Info("connection closed")
	})

	return c.closeErr
}
