package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"room-chat/internal/observability"
)

const (
	valuePrefix  = "rtdb:"
	connsKey     = "presence:conns"
	hookPrefix   = "ondisconnect:"
	scanPageSize = 100
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

var ErrEmptyPath = errors.New("presence path is empty")

// PresencePath is where a user's in-room flag lives.
func PresencePath(roomID, userID string) string {
	return fmt.Sprintf("rooms/%s/presence/%s", roomID, userID)
}

// StatusPath is where a user's online/offline status lives.
func StatusPath(roomID, userID string) string {
	return fmt.Sprintf("rooms/%s/status/%s", roomID, userID)
}

type hookOp struct {
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Store keeps ephemeral presence values in Redis together with per-connection
// disconnect hooks that run when the connection goes away without cleaning up.
type Store struct {
	client *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore wraps a connected Redis client.
func NewStore(client *redis.Client, logger zerolog.Logger) *Store {
	return &Store{
		client: client,
		logger: logger.With().Str("component", "presence").Logger(),
		now:    time.Now,
	}
}

// Dial parses a redis:// URL and verifies the server is reachable.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func valueKey(path string) string  { return valuePrefix + path }
func hookKey(connID string) string { return hookPrefix + connID }

// Connect registers a live connection.
func (s *Store) Connect(ctx context.Context, connID string) error {
	return s.Heartbeat(ctx, connID)
}

// Heartbeat refreshes a connection's last-seen time.
func (s *Store) Heartbeat(ctx context.Context, connID string) error {
	return s.client.ZAdd(ctx, connsKey, redis.Z{
		Score:  float64(s.now().UnixMilli()),
		Member: connID,
	}).Err()
}

// Set writes a JSON-encoded value at path.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	if path == "" {
		return ErrEmptyPath
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, valueKey(path), data, 0).Err()
}

// Get decodes the value at path into dest. It reports false when nothing is stored.
func (s *Store) Get(ctx context.Context, path string, dest any) (bool, error) {
	if path == "" {
		return false, ErrEmptyPath
	}
	data, err := s.client.Get(ctx, valueKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dest)
}

// Remove deletes the value at path.
func (s *Store) Remove(ctx context.Context, path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	return s.client.Del(ctx, valueKey(path)).Err()
}

// DisconnectOp registers a write to perform when a connection drops.
type DisconnectOp struct {
	store  *Store
	connID string
	path   string
}

// OnDisconnect starts a disconnect hook for path on connID.
func (s *Store) OnDisconnect(connID, path string) DisconnectOp {
	return DisconnectOp{store: s, connID: connID, path: path}
}

// Remove deletes the path when the connection drops.
func (o DisconnectOp) Remove(ctx context.Context) error {
	return o.store.registerHook(ctx, o.connID, o.path, hookOp{Op: "remove"})
}

// Set writes value to the path when the connection drops.
func (o DisconnectOp) Set(ctx context.Context, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return o.store.registerHook(ctx, o.connID, o.path, hookOp{Op: "set", Value: data})
}

// OnDisconnectRemove is shorthand for OnDisconnect(connID, path).Remove(ctx).
func (s *Store) OnDisconnectRemove(ctx context.Context, connID, path string) error {
	return s.OnDisconnect(connID, path).Remove(ctx)
}

// OnDisconnectSet is shorthand for OnDisconnect(connID, path).Set(ctx, value).
func (s *Store) OnDisconnectSet(ctx context.Context, connID, path string, value any) error {
	return s.OnDisconnect(connID, path).Set(ctx, value)
}

func (s *Store) registerHook(ctx context.Context, connID, path string, op hookOp) error {
	if path == "" {
		return ErrEmptyPath
	}
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, hookKey(connID), path, data).Err()
}

// Hooks returns the number of pending disconnect hooks for a connection.
func (s *Store) Hooks(ctx context.Context, connID string) (int64, error) {
	return s.client.HLen(ctx, hookKey(connID)).Result()
}

// Release drops a connection after an explicit cleanup; its hooks are discarded unexecuted.
func (s *Store) Release(ctx context.Context, connID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, hookKey(connID))
		pipe.ZRem(ctx, connsKey, connID)
		return nil
	})
	return err
}

// Disconnect runs the pending hooks of a connection and forgets it.
func (s *Store) Disconnect(ctx context.Context, connID string) (int, error) {
	hooks, err := s.client.HGetAll(ctx, hookKey(connID)).Result()
	if err != nil {
		return 0, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for path, raw := range hooks {
			var op hookOp
			if err := json.Unmarshal([]byte(raw), &op); err != nil {
				s.logger.Warn().Str("conn_id", connID).Str("path", path).Msg("skipping malformed disconnect hook")
				continue
			}
			switch op.Op {
			case "remove":
				pipe.Del(ctx, valueKey(path))
			case "set":
				pipe.Set(ctx, valueKey(path), []byte(op.Value), 0)
			}
		}
		pipe.Del(ctx, hookKey(connID))
		pipe.ZRem(ctx, connsKey, connID)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(hooks) > 0 {
		observability.AddPresenceHooksExecuted(len(hooks))
		s.logger.Debug().Str("conn_id", connID).Int("hooks", len(hooks)).Msg("disconnect hooks executed")
	}
	return len(hooks), nil
}

// Reap disconnects every connection whose last heartbeat is older than staleAfter.
func (s *Store) Reap(ctx context.Context, staleAfter time.Duration) (int, error) {
	cutoff := s.now().Add(-staleAfter).UnixMilli()
	stale, err := s.client.ZRangeByScore(ctx, connsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, connID := range stale {
		if _, err := s.Disconnect(ctx, connID); err != nil {
			s.logger.Error().Err(err).Str("conn_id", connID).Msg("reap connection failed")
			continue
		}
		reaped++
	}
	if reaped > 0 {
		s.logger.Info().Int("connections", reaped).Msg("reaped stale connections")
	}
	return reaped, nil
}

// RunReaper calls Reap every interval until ctx is done.
func (s *Store) RunReaper(ctx context.Context, interval, staleAfter time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Reap(ctx, staleAfter); err != nil {
				s.logger.Error().Err(err).Msg("presence reap failed")
			}
		}
	}
}

// Online lists the users holding a presence flag in a room.
func (s *Store) Online(ctx context.Context, roomID string) ([]string, error) {
	prefix := valueKey(PresencePath(roomID, ""))
	users := []string{}
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, prefix+"*", scanPageSize).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			users = append(users, strings.TrimPrefix(key, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	slices.Sort(users)
	return users, nil
}
