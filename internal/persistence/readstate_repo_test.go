package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/skobkin/roomsync/internal/domain"
)

func openTestDB(t *testing.T, path string) *ReadStateRepo {
	t.Helper()
	db, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewReadStateRepo(db)
}

func TestReadStateRepo_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "app.db")
	cursor := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)

	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := NewReadStateRepo(db).Save(ctx, domain.ReadState{RoomID: 4, Cursor: cursor, HasCursor: true, Unread: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = db.Close()

	states, err := openTestDB(t, dbPath).LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("expected one state, got %d", len(states))
	}
	got := states[0]
	if got.RoomID != 4 || !got.HasCursor || !got.Cursor.Equal(cursor) || got.Unread != 2 {
		t.Fatalf("unexpected state after reopen: %+v", got)
	}
}

func TestReadStateRepo_SaveKeepsNewerCursor(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t, filepath.Join(t.TempDir(), "app.db"))
	newer := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := repo.Save(ctx, domain.ReadState{RoomID: 1, Cursor: newer, HasCursor: true}); err != nil {
		t.Fatalf("save newer: %v", err)
	}
	if err := repo.Save(ctx, domain.ReadState{RoomID: 1, Cursor: newer.Add(-time.Hour), HasCursor: true, Unread: 5}); err != nil {
		t.Fatalf("save older: %v", err)
	}
	if err := repo.Save(ctx, domain.ReadState{RoomID: 1, Unread: 6}); err != nil {
		t.Fatalf("save without cursor: %v", err)
	}

	states, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !states[0].Cursor.Equal(newer) {
		t.Fatalf("expected cursor to stay at %v, got %v", newer, states[0].Cursor)
	}
	if states[0].Unread != 6 {
		t.Fatalf("expected unread 6, got %d", states[0].Unread)
	}
}

func TestReadStateRepo_CorruptRowsFallBackToDefaults(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, `
		INSERT INTO read_state(room_id, cursor_ns, unread, updated_at)
		VALUES(7, 'garbage', 'x', 0), (8, NULL, -3, 0)
	`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	states, err := NewReadStateRepo(db).LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected both rows, got %d", len(states))
	}
	for _, s := range states {
		if s.HasCursor || s.Unread != 0 {
			t.Fatalf("expected defaults for corrupt row, got %+v", s)
		}
	}
}

func TestReadStateRepo_Clear(t *testing.T) {
	ctx := context.Background()
	repo := openTestDB(t, filepath.Join(t.TempDir(), "app.db"))
	if err := repo.Save(ctx, domain.ReadState{RoomID: 1, Unread: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	states, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(states) != 0 {
		t.Fatalf("expected empty table, got %d rows", len(states))
	}
}

func TestOpen_MigrationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "app.db")
	for i := 0; i < 2; i++ {
		db, err := Open(ctx, dbPath)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		var version int
		if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
			t.Fatalf("read version: %v", err)
		}
		if version != len(migrations) {
			t.Fatalf("expected schema version %d, got %d", len(migrations), version)
		}
		_ = db.Close()
	}
}
