package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/skobkin/roomsync/internal/domain"
)

// ReadStateRepo stores read cursors and unread counters in sqlite.
type ReadStateRepo struct {
	db *sql.DB
}

func NewReadStateRepo(db *sql.DB) *ReadStateRepo {
	return &ReadStateRepo{db: db}
}

var _ domain.ReadStateRepository = (*ReadStateRepo)(nil)

// Save upserts s. A stored cursor is never moved backward.
func (r *ReadStateRepo) Save(ctx context.Context, s domain.ReadState) error {
	var cursor sql.NullInt64
	if s.HasCursor {
		cursor = sql.NullInt64{Int64: timeToUnixNanos(s.Cursor), Valid: true}
	}
	unread := s.Unread
	if unread < 0 {
		unread = 0
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO read_state(room_id, cursor_ns, unread, updated_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			cursor_ns = CASE
				WHEN excluded.cursor_ns IS NOT NULL
					AND (read_state.cursor_ns IS NULL OR excluded.cursor_ns > read_state.cursor_ns)
				THEN excluded.cursor_ns
				ELSE read_state.cursor_ns
			END,
			unread = excluded.unread,
			updated_at = excluded.updated_at
	`, int64(s.RoomID), cursor, unread, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert read state: %w", err)
	}

	return nil
}

// LoadAll returns every stored entry. Values that cannot be parsed fall back
// to the defaults of no cursor and zero unread.
func (r *ReadStateRepo) LoadAll(ctx context.Context) ([]domain.ReadState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT room_id, cursor_ns, unread FROM read_state ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("list read state: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ReadState, 0)
	for rows.Next() {
		var (
			roomID sql.NullString
			cursor sql.NullString
			unread sql.NullString
		)
		if err := rows.Scan(&roomID, &cursor, &unread); err != nil {
			return nil, fmt.Errorf("scan read state: %w", err)
		}
		id, err := strconv.ParseInt(roomID.String, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		state := domain.ReadState{RoomID: domain.RoomID(id)}
		if cursor.Valid {
			if ns, err := strconv.ParseInt(cursor.String, 10, 64); err == nil && ns > 0 {
				state.Cursor = unixNanosToTime(ns)
				state.HasCursor = true
			}
		}
		if unread.Valid {
			if n, err := strconv.Atoi(unread.String); err == nil && n > 0 {
				state.Unread = n
			}
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate read state: %w", err)
	}

	return out, nil
}

//goland:noinspection SqlWithoutWhere
func (r *ReadStateRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM read_state;`); err != nil {
		return fmt.Errorf("clear read state: %w", err)
	}

	return nil
}
