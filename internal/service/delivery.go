package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/event"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBodyLimit   = 100
	defaultConcurrency = 8
	defaultPushTimeout = 5 * time.Second
	ellipsis           = "…"
)

// Report describes what happened to one event after it was persisted.
type Report struct {
	MessageID  uuid.UUID
	Recipients []uuid.UUID
	Local      []uuid.UUID // served by a connection on this process
	Published  bool        // handed to the fan-out bus
	Pushed     []uuid.UUID // offline notification accepted
	Gone       []uuid.UUID // sink reported a permanently invalid target
}

// Deliverer is the entry point for persisted chat events.
type Deliverer interface {
	Send(ctx context.Context, msg *model.Message) (*Report, error)
	Delete(ctx context.Context, msg *model.Message, replacement string) (*Report, error)
}

var _ Deliverer = (*Pipeline)(nil)

type pipelineConfig struct {
	bodyLimit   int
	concurrency int
	pushTimeout time.Duration
}

type PipelineOption func(*pipelineConfig)

func WithBodyLimit(n int) PipelineOption {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.bodyLimit = n
		}
	}
}

// WithPushConcurrency bounds in-flight offline sink calls per event.
func WithPushConcurrency(n int) PipelineOption {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithPushTimeout(d time.Duration) PipelineOption {
	return func(c *pipelineConfig) {
		if d > 0 {
			c.pushTimeout = d
		}
	}
}

// Pipeline persists, then distributes: local handle, one bus publication, and
// an offline push for every recipient that is not reachable anywhere.
type Pipeline struct {
	store    EventStore
	resolver *RecipientResolver
	emitter  *Emitter
	presence OnlineChecker
	sink     OfflineSink
	gone     GoneHandler
	logger   *slog.Logger
	config   pipelineConfig
}

func NewPipeline(store EventStore, resolver *RecipientResolver, emitter *Emitter, presence OnlineChecker,
	sink OfflineSink, gone GoneHandler, logger *slog.Logger, opts ...PipelineOption,
) *Pipeline {
	cfg := pipelineConfig{
		bodyLimit:   DefaultBodyLimit,
		concurrency: defaultConcurrency,
		pushTimeout: defaultPushTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Pipeline{
		store:    store,
		resolver: resolver,
		emitter:  emitter,
		presence: presence,
		sink:     sink,
		gone:     gone,
		logger:   logger,
		config:   cfg,
	}
}

// Send fails only when recipients cannot be resolved or the durable write
// fails; in both cases nothing is distributed.
func (p *Pipeline) Send(ctx context.Context, msg *model.Message) (*Report, error) {
	if msg == nil {
		return nil, ErrNoRecipients
	}
	recipients, err := p.resolver.Resolve(ctx, msg.From, msg.To)
	if err != nil {
		return nil, err
	}

	// [PERSIST_FIRST]
	id, err := p.store.Persist(ctx, msg, recipients)
	if errors.Is(err, ErrAlreadyStored) {
		// redelivered command: the first attempt already distributed it
		p.logger.Info("MESSAGE_ALREADY_STORED", slog.String("msg_id", msg.ID.String()))
		return nil, err
	}
	if err != nil {
		p.logger.Error("MESSAGE_PERSIST_FAILED", slog.String("from", msg.From.String()), slog.Any("err", err))
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if id != uuid.Nil {
		msg.ID = id
	}

	ev := event.New(msg.From, recipients, &event.NewMessagePayload{Message: msg})
	report := &Report{MessageID: msg.ID, Recipients: recipients}
	report.Local, report.Published = p.emitter.Distribute(ctx, ev)

	p.pushOffline(ctx, msg, recipients, report)
	return report, nil
}

// Delete tombstones first, then notifies connected recipients only.
func (p *Pipeline) Delete(ctx context.Context, msg *model.Message, replacement string) (*Report, error) {
	if msg == nil || msg.ID == uuid.Nil {
		return nil, ErrNoRecipients
	}
	recipients, err := p.resolver.Resolve(ctx, msg.From, msg.To)
	if err != nil {
		return nil, err
	}

	if err := p.store.PersistDeletion(ctx, msg.ID, replacement); err != nil {
		p.logger.Error("MESSAGE_DELETE_PERSIST_FAILED", slog.String("msg_id", msg.ID.String()), slog.Any("err", err))
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	ev := event.New(msg.From, recipients, &event.MessageDeletedPayload{
		MessageID:   msg.ID,
		From:        msg.From,
		To:          msg.To,
		Replacement: replacement,
	})
	report := &Report{MessageID: msg.ID, Recipients: recipients}
	report.Local, report.Published = p.emitter.Distribute(ctx, ev)
	return report, nil
}

func (p *Pipeline) pushOffline(ctx context.Context, msg *model.Message, recipients []uuid.UUID, report *Report) {
	servedLocally := make(map[uuid.UUID]struct{}, len(report.Local))
	for _, id := range report.Local {
		servedLocally[id] = struct{}{}
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.config.concurrency)

	for _, userID := range recipients {
		if _, ok := servedLocally[userID]; ok {
			continue
		}
		g.Go(func() error {
			if p.presence.IsOnline(ctx, userID) {
				return nil
			}

			pctx, cancel := context.WithTimeout(ctx, p.config.pushTimeout)
			defer cancel()

			accepted, err := p.sink.Send(pctx, p.notification(userID, msg))
			switch {
			case errors.Is(err, ErrTargetGone):
				mu.Lock()
				report.Gone = append(report.Gone, userID)
				mu.Unlock()
				if p.gone != nil {
					p.gone.TargetGone(ctx, userID)
				}
			case err != nil:
				// [BEST_EFFORT] no synchronous retry
				p.logger.Warn("OFFLINE_PUSH_FAILED",
					slog.String("user_id", userID.String()),
					slog.String("msg_id", msg.ID.String()),
					slog.Any("err", err),
				)
			case accepted:
				mu.Lock()
				report.Pushed = append(report.Pushed, userID)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) notification(userID uuid.UUID, msg *model.Message) Notification {
	title := "New message"
	if msg.To.IsGroup() {
		title = "New group message"
	}
	return Notification{
		UserID: userID,
		Title:  title,
		Body:   Truncate(msg.Text, p.config.bodyLimit),
		Data: map[string]string{
			"event":      event.NewMessage.String(),
			"message_id": msg.ID.String(),
			"from":       msg.From.String(),
			"peer_id":    msg.To.ID.String(),
		},
	}
}

// Truncate caps s at limit characters (runes), appending an ellipsis when cut.
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + ellipsis
}
