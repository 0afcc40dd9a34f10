package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/SAP-F-2025/results-sync/internal/validator"
)

const metadataUserScope = "user_scope"

var ErrBusClosed = errors.New("event bus closed")

// PubSub is the broadcast transport behind the Bus.
type PubSub interface {
	message.Publisher
	message.Subscriber
}

// Bus is the scoped event bus shared by every mounted view of the process.
// Delivery is best effort: a subscriber that is not running when an event is
// published never sees it.
type Bus struct {
	pubSub    PubSub
	logger    *slog.Logger
	validator *validator.Validator

	mu     sync.RWMutex
	closed bool
	subs   sync.WaitGroup
}

// NewBus creates a bus over an in-process watermill gochannel.
func NewBus(logger *slog.Logger, v *validator.Validator) *Bus {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewSlogLogger(logger))
	return NewBusWithPubSub(pubSub, logger, v)
}

// NewBusWithPubSub creates a bus over an arbitrary watermill transport.
func NewBusWithPubSub(pubSub PubSub, logger *slog.Logger, v *validator.Validator) *Bus {
	if v == nil {
		v = validator.New()
	}
	return &Bus{
		pubSub:    pubSub,
		logger:    logger,
		validator: v,
	}
}

// Subscription is an active handler registration. Close stops delivery.
type Subscription struct {
	topic  string
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Subscription) Topic() string { return s.topic }

// Close unsubscribes and waits for the handler goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// PublishExamFinished broadcasts an exam-finished event.
func (b *Bus) PublishExamFinished(ctx context.Context, payload ExamFinishedPayload) error {
	if err := b.validator.Struct(payload); err != nil {
		return fmt.Errorf("invalid exam finished payload: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode exam finished payload: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), data)
	msg.Metadata.Set(metadataUserScope, payload.UserScope)

	return b.publish(ctx, TopicExamFinished, msg)
}

// PublishReferenceDataChanged broadcasts a lookup-table invalidation.
func (b *Bus) PublishReferenceDataChanged(ctx context.Context) error {
	msg := message.NewMessage(uuid.NewString(), nil)
	return b.publish(ctx, TopicReferenceDataChanged, msg)
}

func (b *Bus) publish(ctx context.Context, topic string, msg *message.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	msg.SetContext(ctx)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}

	b.logger.DebugContext(ctx, "Event published", "topic", topic, "message_id", msg.UUID)
	return nil
}

// SubscribeExamFinished delivers exam-finished events whose user scope equals
// scope. Events published for other scopes are dropped.
func (b *Bus) SubscribeExamFinished(ctx context.Context, scope string, handler func(context.Context, ExamFinishedPayload)) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	return b.subscribe(ctx, TopicExamFinished, func(msgCtx context.Context, msg *message.Message) {
		var payload ExamFinishedPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			b.logger.WarnContext(msgCtx, "Dropping malformed exam finished event", "message_id", msg.UUID, "error", err)
			return
		}
		if err := b.validator.Struct(payload); err != nil {
			b.logger.WarnContext(msgCtx, "Dropping invalid exam finished event", "message_id", msg.UUID, "error", err)
			return
		}
		if payload.UserScope != scope {
			b.logger.DebugContext(msgCtx, "Ignoring exam finished event for another scope", "exam_id", payload.ExamID)
			return
		}
		handler(msgCtx, payload)
	})
}

// SubscribeReferenceDataChanged delivers every lookup-table invalidation.
func (b *Bus) SubscribeReferenceDataChanged(ctx context.Context, handler func(context.Context)) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	return b.subscribe(ctx, TopicReferenceDataChanged, func(msgCtx context.Context, _ *message.Message) {
		handler(msgCtx)
	})
}

func (b *Bus) subscribe(ctx context.Context, topic string, handle func(context.Context, *message.Message)) (*Subscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	messages, err := b.pubSub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &Subscription{
		topic:  topic,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	b.subs.Add(1)
	go func() {
		defer b.subs.Done()
		defer close(sub.done)
		for msg := range messages {
			b.dispatch(subCtx, msg, handle)
		}
	}()

	return sub, nil
}

func (b *Bus) dispatch(ctx context.Context, msg *message.Message, handle func(context.Context, *message.Message)) {
	defer msg.Ack()
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "Event handler panicked", "message_id", msg.UUID, "panic", r)
		}
	}()
	handle(ctx, msg)
}

// Close shuts the transport down and waits for subscriber goroutines.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubSub.Close()
	b.subs.Wait()
	return err
}
