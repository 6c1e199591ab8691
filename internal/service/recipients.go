package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// RecipientResolver computes a RecipientSet. It is evaluated on every send and
// never cached, so membership changes take effect on the next event.
type RecipientResolver struct {
	members Membership
}

func NewRecipientResolver(members Membership) *RecipientResolver {
	return &RecipientResolver{members: members}
}

// Resolve returns the addressees of an event sent by 'from' to 'to'.
// Direct: the peer. Group: members plus owner, minus the sender.
func (r *RecipientResolver) Resolve(ctx context.Context, from uuid.UUID, to model.Peer) ([]uuid.UUID, error) {
	if to.ID == uuid.Nil {
		return nil, ErrNoRecipients
	}

	switch to.Type {
	case model.PeerUser:
		if to.ID == from {
			return nil, nil
		}
		return []uuid.UUID{to.ID}, nil

	case model.PeerGroup:
		var (
			members []uuid.UUID
			owner   uuid.UUID
		)
		// [CONCURRENCY] both lookups must succeed
		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			members, err = r.members.MembersOf(gCtx, to.ID)
			return err
		})
		g.Go(func() error {
			var err error
			owner, err = r.members.OwnerOf(gCtx, to.ID)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("resolve group %s: %w", to.ID, err)
		}
		return excludeSender(append(members, owner), from), nil

	default:
		return nil, fmt.Errorf("%w: unsupported peer type %d", ErrNoRecipients, to.Type)
	}
}

// excludeSender drops the sender, nil ids and duplicates, preserving order.
func excludeSender(ids []uuid.UUID, sender uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == sender || id == uuid.Nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
