// Package store holds the message store and group membership drivers.
// A stored message keeps the set of recipients that have not acknowledged it
// yet; that set drives backfill on reconnect.
package store

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/service"
)

// ErrGroupNotFound is terminal for a send: there is nobody to deliver to.
var ErrGroupNotFound = fmt.Errorf("%w: group not found", service.ErrNoRecipients)

var (
	_ service.EventStore = (*MemoryStore)(nil)
	_ service.Membership = (*MemoryStore)(nil)
	_ service.EventStore = (*MongoStore)(nil)
	_ service.Membership = (*MongoStore)(nil)
)

// assignID keeps caller-supplied ids and otherwise issues a time-ordered one.
func assignID(msg *model.Message) (uuid.UUID, error) {
	if msg.ID != uuid.Nil {
		return msg.ID, nil
	}
	return uuid.NewV7()
}
