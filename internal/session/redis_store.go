/**
 * Redis-backed session store
 *
 * Sessions are hashes under <prefix><userID>, so they survive a worker restart
 * and can be inspected with redis-cli. Expiry is swept by the same sweeper as
 * the in-memory store.
 */

package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKeyPrefix = "verification:session:"

// sweepScript deletes a session only if it is still older than the cutoff,
// so a session re-created between SCAN and DEL survives.
var sweepScript = redis.NewScript(`
local created = redis.call('HGET', KEYS[1], 'created_at')
if created and tonumber(created) < tonumber(ARGV[1]) then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps sessions in Redis hashes
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store using client. An empty prefix uses DefaultRedisKeyPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(userID string) string {
	return r.prefix + userID
}

// Get loads the user's session
func (r *RedisStore) Get(ctx context.Context, userID string) (*Session, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	s, err := sessionFromHash(userID, fields)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Set replaces the user's session atomically
func (r *RedisStore) Set(ctx context.Context, s *Session) error {
	key := r.key(s.UserID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, sessionToHash(s))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", s.UserID, err)
	}
	return nil
}

// Delete removes the user's session
func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", userID, err)
	}
	return nil
}

// SweepExpired scans all session keys and removes those older than maxAge
func (r *RedisStore) SweepExpired(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	cutoff := now.Add(-maxAge).UnixMilli()
	removed := 0

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan sessions: %w", err)
		}

		for _, key := range keys {
			n, err := sweepScript.Run(ctx, r.client, []string{key}, cutoff).Int()
			if err != nil {
				return removed, fmt.Errorf("failed to sweep %s: %w", key, err)
			}
			removed += n
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func sessionToHash(s *Session) map[string]interface{} {
	return map[string]interface{}{
		"step":           string(s.Step),
		"claimed_handle": s.ClaimedHandle,
		"attempt_count":  s.AttemptCount,
		"created_at":     s.CreatedAt.UnixMilli(),
		"updated_at":     s.UpdatedAt.UnixMilli(),
	}
}

func sessionFromHash(userID string, fields map[string]string) (*Session, error) {
	step := Step(fields["step"])
	if !step.Valid() {
		return nil, fmt.Errorf("session %s has invalid step %q", userID, fields["step"])
	}

	attempts, err := parseIntField(fields, "attempt_count")
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", userID, err)
	}
	created, err := parseIntField(fields, "created_at")
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", userID, err)
	}
	updated, err := parseIntField(fields, "updated_at")
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", userID, err)
	}

	return &Session{
		UserID:        userID,
		Step:          step,
		ClaimedHandle: fields["claimed_handle"],
		AttemptCount:  int(attempts),
		CreatedAt:     time.UnixMilli(created),
		UpdatedAt:     time.UnixMilli(updated),
	}, nil
}

func parseIntField(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return v, nil
}
