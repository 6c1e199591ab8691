package presencestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/presence"
)

var _ presence.Store = (*NATSStore)(nil)

const (
	OnlineBucket   = "PRESENCE_ONLINE"
	LastSeenBucket = "PRESENCE_LAST_SEEN"
)

// NATSStore keeps presence in two JetStream KV buckets:
//   - PRESENCE_ONLINE carries a bucket-wide TTL equal to the liveness window, so
//     a crashed process cannot leave a user stuck online.
//   - PRESENCE_LAST_SEEN has no TTL and survives the online marker.
//
// The TTL is a bucket property: the per-call ttl is advisory and the bucket
// window is what the server enforces.
type NATSStore struct {
	online nats.KeyValue
	seen   nats.KeyValue
}

// NewNATSStore creates (or binds to) both buckets.
func NewNATSStore(js nats.JetStreamContext, window time.Duration) (*NATSStore, error) {
	online, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  OnlineBucket,
		History: 1,
		TTL:     window,
		Storage: nats.MemoryStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s bucket: %w", OnlineBucket, err)
	}
	seen, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  LastSeenBucket,
		History: 1,
		Storage: nats.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s bucket: %w", LastSeenBucket, err)
	}
	return &NATSStore{online: online, seen: seen}, nil
}

func (s *NATSStore) MarkOnline(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(model.PresenceRecord{
		UserID:    userID,
		Status:    model.StatusOnline,
		LastSeen:  at,
		ExpiresAt: at.Add(ttl),
	})
	if err != nil {
		return err
	}
	key := userID.String()
	if _, err := s.online.Put(key, data); err != nil {
		return unavailable(err)
	}
	if _, err := s.seen.PutString(key, strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *NATSStore) MarkOffline(ctx context.Context, userID uuid.UUID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := userID.String()
	if err := s.online.Delete(key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return unavailable(err)
	}
	if _, err := s.seen.PutString(key, strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *NATSStore) Get(ctx context.Context, userID uuid.UUID) (model.PresenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.PresenceRecord{}, err
	}
	key := userID.String()

	entry, err := s.online.Get(key)
	switch {
	case err == nil:
		var rec model.PresenceRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			return model.PresenceRecord{}, fmt.Errorf("decode presence %s: %w", key, err)
		}
		return rec, nil
	case !errors.Is(err, nats.ErrKeyNotFound):
		return model.PresenceRecord{}, unavailable(err)
	}

	entry, err = s.seen.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return model.PresenceRecord{}, presence.ErrNotFound
	}
	if err != nil {
		return model.PresenceRecord{}, unavailable(err)
	}
	ms, err := strconv.ParseInt(string(entry.Value()), 10, 64)
	if err != nil {
		return model.PresenceRecord{}, fmt.Errorf("decode last seen %s: %w", key, err)
	}
	return model.PresenceRecord{UserID: userID, Status: model.StatusOffline, LastSeen: time.UnixMilli(ms)}, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", presence.ErrUnavailable, err)
}
