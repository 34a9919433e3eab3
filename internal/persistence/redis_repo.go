package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skobkin/roomsync/internal/domain"
)

const redisScanBatch = 100

// saveReadStateScript keeps cursor_ns monotonic on the server. Cursors are
// zero-padded so that string comparison matches numeric order.
var saveReadStateScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'cursor_ns')
if ARGV[1] ~= '' and ((not current) or ARGV[1] > current) then
	redis.call('HSET', KEYS[1], 'cursor_ns', ARGV[1])
end
redis.call('HSET', KEYS[1], 'unread', ARGV[2], 'updated_at', ARGV[3])
return 1
`)

// OpenRedis connects to the redis server described by rawURL.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// RedisReadStateRepo keeps one hash per room under <prefix>readstate:<room>.
type RedisReadStateRepo struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisReadStateRepo(client redis.UniversalClient, prefix string) *RedisReadStateRepo {
	return &RedisReadStateRepo{client: client, prefix: prefix + "readstate:"}
}

var _ domain.ReadStateRepository = (*RedisReadStateRepo)(nil)

func (r *RedisReadStateRepo) key(id domain.RoomID) string {
	return r.prefix + id.String()
}

func formatCursor(t time.Time) string {
	ns := timeToUnixNanos(t)
	if ns < 0 {
		ns = 0
	}

	return fmt.Sprintf("%019d", ns)
}

func (r *RedisReadStateRepo) Save(ctx context.Context, s domain.ReadState) error {
	cursor := ""
	if s.HasCursor {
		cursor = formatCursor(s.Cursor)
	}
	unread := s.Unread
	if unread < 0 {
		unread = 0
	}
	err := saveReadStateScript.Run(ctx, r.client, []string{r.key(s.RoomID)},
		cursor, unread, time.Now().UnixMilli()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("save read state to redis: %w", err)
	}

	return nil
}

func (r *RedisReadStateRepo) LoadAll(ctx context.Context) ([]domain.ReadState, error) {
	out := make([]domain.ReadState, 0)
	iter := r.client.Scan(ctx, 0, r.prefix+"*", redisScanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id, err := strconv.ParseInt(strings.TrimPrefix(key, r.prefix), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("load read state %s: %w", key, err)
		}
		state := domain.ReadState{RoomID: domain.RoomID(id)}
		if ns, err := strconv.ParseInt(fields["cursor_ns"], 10, 64); err == nil && ns > 0 {
			state.Cursor = unixNanosToTime(ns)
			state.HasCursor = true
		}
		if n, err := strconv.Atoi(fields["unread"]); err == nil && n > 0 {
			state.Unread = n
		}
		out = append(out, state)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan read state keys: %w", err)
	}

	return out, nil
}

func (r *RedisReadStateRepo) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", redisScanBatch).Iterator()
	keys := make([]string, 0, redisScanBatch)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == redisScanBatch {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("clear read state keys: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan read state keys: %w", err)
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("clear read state keys: %w", err)
		}
	}

	return nil
}
