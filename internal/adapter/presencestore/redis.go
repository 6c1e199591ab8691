package presencestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/presence"
)

var _ presence.Store = (*RedisStore)(nil)

const (
	onlineKeyPrefix   = "presence:online:"
	lastSeenKeyPrefix = "presence:seen:"
)

// RedisStore writes the online marker with SET ... EX so Redis expires it, and
// keeps lastSeen under a separate persistent key.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) MarkOnline(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error {
	data, err := json.Marshal(model.PresenceRecord{
		UserID:    userID,
		Status:    model.StatusOnline,
		LastSeen:  at,
		ExpiresAt: at.Add(ttl),
	})
	if err != nil {
		return err
	}

	pipe := s.client.WithContext(ctx).TxPipeline()
	pipe.Set(onlineKeyPrefix+userID.String(), data, ttl)
	pipe.Set(lastSeenKeyPrefix+userID.String(), at.UnixMilli(), 0)
	if _, err := pipe.Exec(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) MarkOffline(ctx context.Context, userID uuid.UUID, at time.Time) error {
	pipe := s.client.WithContext(ctx).TxPipeline()
	pipe.Del(onlineKeyPrefix + userID.String())
	pipe.Set(lastSeenKeyPrefix+userID.String(), at.UnixMilli(), 0)
	if _, err := pipe.Exec(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, userID uuid.UUID) (model.PresenceRecord, error) {
	c := s.client.WithContext(ctx)

	data, err := c.Get(onlineKeyPrefix + userID.String()).Bytes()
	switch {
	case err == nil:
		var rec model.PresenceRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return model.PresenceRecord{}, fmt.Errorf("decode presence %s: %w", userID, err)
		}
		return rec, nil
	case !errors.Is(err, redis.Nil):
		return model.PresenceRecord{}, unavailable(err)
	}

	ms, err := c.Get(lastSeenKeyPrefix + userID.String()).Int64()
	if errors.Is(err, redis.Nil) {
		return model.PresenceRecord{}, presence.ErrNotFound
	}
	if err != nil {
		return model.PresenceRecord{}, unavailable(err)
	}
	return model.PresenceRecord{UserID: userID, Status: model.StatusOffline, LastSeen: time.UnixMilli(ms)}, nil
}
