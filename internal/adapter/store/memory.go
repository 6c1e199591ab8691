package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/service"
)

type memMessage struct {
	seq     uint64
	msg     model.Message
	pending map[uuid.UUID]struct{}
}

type memGroup struct {
	owner   uuid.UUID
	members []uuid.UUID
}

// MemoryStore is the single-node driver: messages and groups live in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      uint64
	messages map[uuid.UUID]*memMessage
	groups   map[uuid.UUID]memGroup
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[uuid.UUID]*memMessage),
		groups:   make(map[uuid.UUID]memGroup),
	}
}

// PutGroup creates or replaces a group.
func (s *MemoryStore) PutGroup(groupID, owner uuid.UUID, members ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = memGroup{owner: owner, members: slices.Clone(members)}
}

func (s *MemoryStore) Persist(_ context.Context, msg *model.Message, recipients []uuid.UUID) (uuid.UUID, error) {
	id, err := assignID(msg)
	if err != nil {
		return uuid.Nil, err
	}

	stored := *msg
	stored.ID = id
	pending := make(map[uuid.UUID]struct{}, len(recipients))
	for _, r := range recipients {
		pending[r] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.messages[id]; dup {
		return uuid.Nil, fmt.Errorf("%w: %s", service.ErrAlreadyStored, id)
	}
	s.seq++
	s.messages[id] = &memMessage{seq: s.seq, msg: stored, pending: pending}
	return id, nil
}

func (s *MemoryStore) PersistDeletion(_ context.Context, messageID uuid.UUID, replacement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("%w: %s", service.ErrMessageNotFound, messageID)
	}
	m.msg.Deleted = true
	m.msg.Text = replacement
	m.msg.UpdatedAt = time.Now().UnixMilli()
	clear(m.pending)
	return nil
}

func (s *MemoryStore) FindUndelivered(_ context.Context, userID uuid.UUID, limit int) ([]*model.Message, error) {
	s.mu.RLock()
	found := make([]*memMessage, 0)
	for _, m := range s.messages {
		if _, ok := m.pending[userID]; ok && !m.msg.Deleted {
			found = append(found, m)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(found, func(a, b *memMessage) int { return cmp.Compare(a.seq, b.seq) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	out := make([]*model.Message, len(found))
	for i, m := range found {
		msg := m.msg
		out[i] = &msg
	}
	return out, nil
}

func (s *MemoryStore) Acknowledge(_ context.Context, userID uuid.UUID, messageIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range messageIDs {
		if m, ok := s.messages[id]; ok {
			delete(m.pending, userID)
		}
	}
	return nil
}

func (s *MemoryStore) MembersOf(_ context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	return slices.Clone(g.members), nil
}

func (s *MemoryStore) OwnerOf(_ context.Context, groupID uuid.UUID) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	return g.owner, nil
}
