package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skobkin/roomsync/internal/bus"
	"github.com/skobkin/roomsync/internal/config"
	"github.com/skobkin/roomsync/internal/connectors"
	"github.com/skobkin/roomsync/internal/directory"
	"github.com/skobkin/roomsync/internal/domain"
	"github.com/skobkin/roomsync/internal/logging"
	"github.com/skobkin/roomsync/internal/notifications"
	"github.com/skobkin/roomsync/internal/persistence"
	"github.com/skobkin/roomsync/internal/readstate"
	"github.com/skobkin/roomsync/internal/realtime"
	"github.com/skobkin/roomsync/internal/roomsync"
	"github.com/skobkin/roomsync/internal/session"
	"github.com/skobkin/roomsync/internal/transport"
)

// ErrNotSignedIn is returned by operations that need a session.
var ErrNotSignedIn = errors.New("not signed in")

// Options customizes Initialize. The zero value resolves everything from the
// user environment.
type Options struct {
	// Paths overrides the user config directory layout.
	Paths *Paths
	// Getenv is used for environment overrides; os.Getenv when nil.
	Getenv func(string) string
	// Console receives log output; stderr when nil.
	Console io.Writer
	// Sender delivers notifications; desktop notifications when nil.
	Sender     notifications.Sender
	HTTPClient *http.Client
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB
	Redis      *redis.Client

	ReadStateRepo domain.ReadStateRepository
	WriterQueue   *persistence.WriterQueue
	ReadState     *readstate.Store

	Canon *domain.Canonicalizer
	Rooms *domain.RoomStore

	Transport     *transport.WebSocketTransport
	Connections   *realtime.Manager
	Engine        *roomsync.Engine
	Directory     *directory.Client
	Notifications *NotificationService

	session session.Session

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool
}

func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	var paths Paths
	if opts.Paths != nil {
		paths = *opts.Paths
	} else {
		resolved, err := ResolvePaths()
		if err != nil {
			return nil, err
		}
		paths = resolved
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(&cfg, getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager(opts.Console)
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()

		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting roomsync runtime", "version", Version, "storage", cfg.Storage.Backend)

	repo, err := rt.openStorage(ctx, cfg)
	if err != nil {
		_ = rt.Close()

		return nil, err
	}
	rt.ReadStateRepo = repo

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	connSub := b.Subscribe(connectors.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), writerQueueCapacity)
	writerQueue.Start(ctx)
	rt.WriterQueue = writerQueue

	rt.ReadState = readstate.NewStore(logMgr.Logger("readstate"), repo, writerQueue)
	rt.ReadState.Load(ctx)

	rt.Canon = domain.NewCanonicalizer()
	rt.Rooms = domain.NewRoomStore()

	rt.Transport = transport.NewWebSocketTransport(cfg.Server.RealtimeURL)
	rt.Connections = realtime.NewManager(logMgr.Logger("realtime"), b, rt.Transport, realtime.NewJSONCodec(rt.Canon))
	rt.Engine = roomsync.NewEngine(logMgr.Logger("roomsync"), b, rt.Connections, rt.ReadState, rt.Rooms, rt.Canon)
	rt.Engine.Start(ctx)

	rt.Directory = directory.NewClient(logMgr.Logger("directory"), cfg.Server.APIBaseURL, opts.HTTPClient)

	sender := opts.Sender
	if sender == nil {
		sender = notifications.NewDesktopSender(logMgr.Logger("notifications"))
	}
	rt.Notifications = NewNotificationService(
		b,
		rt.Rooms,
		rt.Canon,
		rt.CurrentConfig,
		func() domain.Identity { return rt.CurrentSession().Identity },
		sender,
		logMgr.Logger("app.notifications"),
	)
	rt.Notifications.Start(ctx)

	return rt, nil
}

func (r *Runtime) openStorage(ctx context.Context, cfg config.AppConfig) (domain.ReadStateRepository, error) {
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		client, err := persistence.OpenRedis(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return nil, err
		}
		r.Redis = client

		return persistence.NewRedisReadStateRepo(client, cfg.Storage.KeyPrefix), nil
	default:
		db, err := persistence.Open(ctx, r.Paths.DBFile)
		if err != nil {
			return nil, err
		}
		r.DB = db

		return persistence.NewReadStateRepo(db), nil
	}
}

// SignIn resolves the session for credential and loads the room directory.
// A failed room refresh is returned but leaves the session in place.
func (r *Runtime) SignIn(ctx context.Context, credential string) (session.Session, error) {
	reqCtx, cancel := context.WithTimeout(ctx, directoryTimeout)
	defer cancel()

	sess, err := session.Resolve(reqCtx, credential, r.Directory, r.Canon, time.Now())
	if err != nil {
		return session.Session{}, err
	}

	r.mu.Lock()
	r.session = sess
	r.mu.Unlock()
	r.Engine.SetSession(sess.Identity, sess.Credential)
	slog.Info("signed in", "user_id", sess.UserID, "username", sess.Username)

	return sess, r.RefreshRooms(ctx)
}

// RefreshRooms reloads the room directory.
func (r *Runtime) RefreshRooms(ctx context.Context) error {
	sess := r.CurrentSession()
	if sess.Credential == "" {
		return ErrNotSignedIn
	}

	reqCtx, cancel := context.WithTimeout(ctx, directoryTimeout)
	defer cancel()

	rooms, err := r.Directory.Refresh(reqCtx, sess.Credential)
	if err != nil {
		return fmt.Errorf("refresh rooms: %w", err)
	}
	r.Engine.LoadRooms(rooms)

	return nil
}

// OpenRoom switches the engine to roomID and remembers the selection.
func (r *Runtime) OpenRoom(roomID domain.RoomID) error {
	if r.CurrentSession().Credential == "" {
		return ErrNotSignedIn
	}
	if err := r.Engine.SwitchRoom(roomID); err != nil {
		return err
	}
	r.RememberSelectedRoom(roomID)

	return nil
}

func (r *Runtime) CurrentSession() session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.session
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.ConnectionStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()

	return status, known
}

// SaveAndApplyConfig persists cfg and applies what can change at runtime.
// Server and storage changes take effect on the next start.
func (r *Runtime) SaveAndApplyConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.Config
	cfg.UI.LastSelectedRoom = prev.UI.LastSelectedRoom
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()

		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	if cfg.Server != prev.Server || cfg.Storage != prev.Storage {
		slog.Info("server or storage settings changed, restart to apply")
	}

	return r.LogManager.Configure(cfg.Logging, r.Paths.LogFile)
}

func (r *Runtime) RememberSelectedRoom(roomID domain.RoomID) {
	r.mu.Lock()
	if r.Config.UI.LastSelectedRoom == int64(roomID) {
		r.mu.Unlock()

		return
	}
	cfg := r.Config
	cfg.UI.LastSelectedRoom = int64(roomID)
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		slog.Warn("save selected room", "error", err)

		return
	}
	r.Config = cfg
	r.mu.Unlock()
}

// LastSelectedRoom returns the room that was open when the app last ran.
func (r *Runtime) LastSelectedRoom() (domain.RoomID, bool) {
	id := r.CurrentConfig().UI.LastSelectedRoom
	if id <= 0 {
		return 0, false
	}

	return domain.RoomID(id), true
}

// ClearReadState forgets every read cursor and unread counter.
func (r *Runtime) ClearReadState(ctx context.Context) error {
	if r.ReadState == nil {
		return fmt.Errorf("read state is not initialized")
	}

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if err := r.WriterQueue.Drain(drainCtx); err != nil {
		return fmt.Errorf("drain pending writes: %w", err)
	}
	if err := r.ReadState.Clear(ctx); err != nil {
		return fmt.Errorf("clear read state: %w", err)
	}
	r.Bus.Publish(connectors.TopicRoomList, connectors.RoomListChanged{})
	slog.Info("read state cleared")

	return nil
}

func (r *Runtime) Close() error {
	if r.Engine != nil {
		r.Engine.Leave()
	}
	if r.WriterQueue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := r.WriterQueue.Drain(ctx); err != nil {
			slog.Warn("pending read state writes were not flushed", "error", err)
		}
		cancel()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}

	return nil
}
