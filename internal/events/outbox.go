package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FlagStore is durable per-device key/value storage for signal flags.
type FlagStore interface {
	Set(ctx context.Context, key, value string) error
	// Take returns the value and deletes the key in one step.
	Take(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

const finishedFlagValue = "true"

// Outbox covers the window where the bus has no live subscriber: the
// announcement is persisted so that the next mounted results view picks it up.
type Outbox struct {
	store  FlagStore
	bus    *Bus
	logger *slog.Logger
}

func NewOutbox(store FlagStore, bus *Bus, logger *slog.Logger) *Outbox {
	return &Outbox{
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// Announce persists the finished flags for scope and then publishes the event.
func (o *Outbox) Announce(ctx context.Context, scope, examID string) error {
	if scope == "" || examID == "" {
		return errors.New("scope and exam id are required")
	}

	if err := o.store.Set(ctx, LastExamKey(scope), examID); err != nil {
		return fmt.Errorf("failed to persist last exam id: %w", err)
	}
	if err := o.store.Set(ctx, FinishedFlagKey(scope), finishedFlagValue); err != nil {
		return fmt.Errorf("failed to persist finished flag: %w", err)
	}

	if o.bus == nil {
		return nil
	}
	return o.bus.PublishExamFinished(ctx, ExamFinishedPayload{
		UserScope: scope,
		ExamID:    examID,
	})
}

// Drain consumes a pending announcement. It reports ok at most once per
// Announce, even when called concurrently.
func (o *Outbox) Drain(ctx context.Context, scope string) (string, bool, error) {
	flag, ok, err := o.store.Take(ctx, FinishedFlagKey(scope))
	if err != nil {
		return "", false, fmt.Errorf("failed to read finished flag: %w", err)
	}
	if !ok || flag != finishedFlagValue {
		return "", false, nil
	}

	examID, hasExam, err := o.store.Take(ctx, LastExamKey(scope))
	if err != nil {
		return "", false, fmt.Errorf("failed to read last exam id: %w", err)
	}
	if !hasExam || examID == "" {
		o.logger.WarnContext(ctx, "Finished flag present without exam id", "user_scope", scope)
		return "", false, nil
	}

	o.logger.InfoContext(ctx, "Drained pending exam finished signal", "user_scope", scope, "exam_id", examID)
	return examID, true, nil
}

// Clear removes both flags for scope.
func (o *Outbox) Clear(ctx context.Context, scope string) error {
	if err := o.store.Delete(ctx, FinishedFlagKey(scope), LastExamKey(scope)); err != nil {
		return fmt.Errorf("failed to clear finished flags: %w", err)
	}
	return nil
}
