package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/skobkin/roomsync/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 4 << 20
)

// ErrUnauthorized is returned when the API refuses the credential.
var ErrUnauthorized = errors.New("credential rejected by api")

// Client talks to the room directory and user endpoints of the REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	group   singleflight.Group
}

func NewClient(logger *slog.Logger, baseURL string, httpClient *http.Client) *Client {
	if logger == nil {
		logger = slog.Default().With("component", "directory")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
		logger:  logger,
	}
}

type wireParticipant struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type wireRoom struct {
	ID           int64             `json:"id"`
	Name         *string           `json:"name"`
	RoomType     string            `json:"room_type"`
	Participants []wireParticipant `json:"participants"`
}

// ListRooms fetches the rooms the user participates in. Rooms that fail
// validation are skipped with a warning.
func (c *Client) ListRooms(ctx context.Context, credential string) ([]domain.Room, error) {
	var wire []wireRoom
	if err := c.getJSON(ctx, "/rooms/", credential, &wire); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	rooms := make([]domain.Room, 0, len(wire))
	for _, w := range wire {
		room := domain.Room{
			ID:   domain.RoomID(w.ID),
			Kind: domain.RoomKind(strings.ToLower(strings.TrimSpace(w.RoomType))),
		}
		if w.Name != nil {
			room.Name = *w.Name
		}
		for _, p := range w.Participants {
			room.Participants = append(room.Participants, domain.Participant{ID: p.ID, Username: p.Username})
		}
		if err := room.Validate(); err != nil {
			c.logger.Warn("skipping invalid room", "room_id", w.ID, "error", err)

			continue
		}
		rooms = append(rooms, room)
	}

	return rooms, nil
}

// Refresh is ListRooms with concurrent callers sharing one request.
func (c *Client) Refresh(ctx context.Context, credential string) ([]domain.Room, error) {
	v, err, shared := c.group.Do("rooms", func() (any, error) {
		return c.ListRooms(ctx, credential)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("room refresh shared with concurrent caller")
	}
	rooms := v.([]domain.Room)

	return append([]domain.Room(nil), rooms...), nil
}

// Me returns the user the credential belongs to.
func (c *Client) Me(ctx context.Context, credential string) (domain.Participant, error) {
	var me wireParticipant
	if err := c.getJSON(ctx, "/auth/me/", credential, &me); err != nil {
		return domain.Participant{}, fmt.Errorf("fetch current user: %w", err)
	}
	if me.ID <= 0 || strings.TrimSpace(me.Username) == "" {
		return domain.Participant{}, fmt.Errorf("fetch current user: incomplete user payload")
	}

	return domain.Participant{ID: me.ID, Username: me.Username}, nil
}

func (c *Client) getJSON(ctx context.Context, path, credential string, dst any) error {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	// JoinPath drops the trailing slash the API routes require.
	if strings.HasSuffix(path, "/") && !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	return nil
}
