/**
 * @description
 * Redis-backed agent presence. Each online agent holds a key with a TTL that
 * the mobile client's heartbeat refreshes; a crashed or disconnected client
 * simply stops refreshing and the agent drops out of the candidate set when
 * the key expires. This replaces any notion of an is_online column: presence
 * is ephemeral state and lives only in Redis.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 * - github.com/google/uuid: Agent identities.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PresenceStore tracks which agents are currently reachable for offers.
type PresenceStore interface {
	MarkOnline(ctx context.Context, agentID uuid.UUID) error
	MarkOffline(ctx context.Context, agentID uuid.UUID) error
	IsOnline(ctx context.Context, agentID uuid.UUID) (bool, error)
	FilterOnline(ctx context.Context, agentIDs []uuid.UUID) ([]uuid.UUID, error)
}

// RedisPresenceStore implements PresenceStore on Redis keys with a TTL.
type RedisPresenceStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPresenceStore creates a presence store with the given key prefix
// and liveness TTL.
func NewRedisPresenceStore(client *redis.Client, prefix string, ttl time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisPresenceStore) key(agentID uuid.UUID) string {
	return fmt.Sprintf("%s:agent:%s", s.prefix, agentID)
}

// MarkOnline sets the agent's presence key. Repeated calls act as a
// heartbeat, pushing the TTL forward.
func (s *RedisPresenceStore) MarkOnline(ctx context.Context, agentID uuid.UUID) error {
	return s.client.Set(ctx, s.key(agentID), "1", s.ttl).Err()
}

func (s *RedisPresenceStore) MarkOffline(ctx context.Context, agentID uuid.UUID) error {
	return s.client.Del(ctx, s.key(agentID)).Err()
}

func (s *RedisPresenceStore) IsOnline(ctx context.Context, agentID uuid.UUID) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(agentID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FilterOnline returns the subset of agentIDs with a live presence key,
// preserving input order. A single MGET keeps it one round trip.
func (s *RedisPresenceStore) FilterOnline(ctx context.Context, agentIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(agentIDs))
	for i, id := range agentIDs {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var online []uuid.UUID
	for i, v := range values {
		if v != nil {
			online = append(online, agentIDs[i])
		}
	}
	return online, nil
}
