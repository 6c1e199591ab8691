package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/service"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	MessageCollectionName = "messages"
	GroupCollectionName   = "groups"
)

type messageDoc struct {
	ID        string         `bson:"_id"`
	From      string         `bson:"from"`
	ToID      string         `bson:"to_id"`
	ToType    int16          `bson:"to_type"`
	Text      string         `bson:"text"`
	CreatedAt int64          `bson:"created_at"`
	UpdatedAt int64          `bson:"updated_at,omitempty"`
	Deleted   bool           `bson:"deleted"`
	Metadata  map[string]any `bson:"metadata,omitempty"`
	// Pending lists recipients that have not acknowledged the message yet.
	Pending []string `bson:"pending"`
}

type groupDoc struct {
	ID      string   `bson:"_id"`
	OwnerID string   `bson:"owner_id"`
	Members []string `bson:"members"`
}

// MongoStore is the system of record for messages and group composition.
type MongoStore struct {
	messages *mongo.Collection
	groups   *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		messages: db.Collection(MessageCollectionName),
		groups:   db.Collection(GroupCollectionName),
	}
}

// EnsureIndexes creates the index backing FindUndelivered.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "pending", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("messages_pending_created"),
	})
	if err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}
	return nil
}

func (s *MongoStore) Persist(ctx context.Context, msg *model.Message, recipients []uuid.UUID) (uuid.UUID, error) {
	id, err := assignID(msg)
	if err != nil {
		return uuid.Nil, err
	}

	doc := toDoc(msg, id, recipients)
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return uuid.Nil, fmt.Errorf("%w: %s", service.ErrAlreadyStored, id)
		}
		return uuid.Nil, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

func (s *MongoStore) PersistDeletion(ctx context.Context, messageID uuid.UUID, replacement string) error {
	res, err := s.messages.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: messageID.String()}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "deleted", Value: true},
			{Key: "text", Value: replacement},
			{Key: "updated_at", Value: time.Now().UnixMilli()},
			{Key: "pending", Value: bson.A{}},
		}}},
	)
	if err != nil {
		return fmt.Errorf("tombstone message: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", service.ErrMessageNotFound, messageID)
	}
	return nil
}

func (s *MongoStore) FindUndelivered(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.messages.Find(ctx, bson.D{
		{Key: "pending", Value: userID.String()},
		{Key: "deleted", Value: false},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("find undelivered: %w", err)
	}

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode undelivered: %w", err)
	}

	out := make([]*model.Message, 0, len(docs))
	for i := range docs {
		m, err := fromDoc(&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *MongoStore) Acknowledge(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) error {
	if len(messageIDs) == 0 {
		return nil
	}
	ids := make(bson.A, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = id.String()
	}
	_, err := s.messages.UpdateMany(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}},
		bson.D{{Key: "$pull", Value: bson.D{{Key: "pending", Value: userID.String()}}}},
	)
	if err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}
	return nil
}

func (s *MongoStore) MembersOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	g, err := s.findGroup(ctx, groupID, "members")
	if err != nil {
		return nil, err
	}
	return parseIDs(g.Members)
}

func (s *MongoStore) OwnerOf(ctx context.Context, groupID uuid.UUID) (uuid.UUID, error) {
	g, err := s.findGroup(ctx, groupID, "owner_id")
	if err != nil {
		return uuid.Nil, err
	}
	if g.OwnerID == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(g.OwnerID)
}

func (s *MongoStore) findGroup(ctx context.Context, groupID uuid.UUID, field string) (*groupDoc, error) {
	var g groupDoc
	err := s.groups.FindOne(ctx,
		bson.D{{Key: "_id", Value: groupID.String()}},
		options.FindOne().SetProjection(bson.D{{Key: field, Value: 1}}),
	).Decode(&g)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		}
		return nil, fmt.Errorf("find group %s: %w", groupID, err)
	}
	return &g, nil
}

func toDoc(msg *model.Message, id uuid.UUID, pending []uuid.UUID) *messageDoc {
	p := make([]string, len(pending))
	for i, r := range pending {
		p[i] = r.String()
	}
	return &messageDoc{
		ID:        id.String(),
		From:      msg.From.String(),
		ToID:      msg.To.ID.String(),
		ToType:    int16(msg.To.Type),
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
		Deleted:   msg.Deleted,
		Metadata:  msg.Metadata,
		Pending:   p,
	}
}

func fromDoc(d *messageDoc) (*model.Message, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("message id %q: %w", d.ID, err)
	}
	from, err := uuid.Parse(d.From)
	if err != nil {
		return nil, fmt.Errorf("message %s sender: %w", d.ID, err)
	}
	to, err := uuid.Parse(d.ToID)
	if err != nil {
		return nil, fmt.Errorf("message %s peer: %w", d.ID, err)
	}
	return &model.Message{
		ID:        id,
		From:      from,
		To:        model.NewPeer(to, model.PeerType(d.ToType)),
		Text:      d.Text,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		Deleted:   d.Deleted,
		Metadata:  d.Metadata,
	}, nil
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("member id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
