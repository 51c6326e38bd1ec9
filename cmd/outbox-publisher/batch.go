package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox/registry"
)

type verdictKind int

const (
	verdictPublished verdictKind = iota
	verdictRetry
	verdictDeadLetter
)

// verdict is what happened to one outbox row during a batch.
type verdict struct {
	kind   verdictKind
	reason enums.OutboxDLQErrorReason
	err    error
	topic  string
}

type batchTally map[verdictKind]int

// drainBatch publishes one batch of unpublished rows inside a transaction and
// reports whether any rows were found. A row that fails transiently holds
// back the rest of its aggregate until the next batch.
func (s *Service) drainBatch(ctx context.Context) (bool, error) {
	tally := batchTally{}
	found := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		found = len(events) > 0

		held := map[uuid.UUID]struct{}{}
		for _, event := range events {
			if _, skip := held[event.AggregateID]; skip {
				continue
			}
			v := s.deliver(ctx, event)
			if err := s.record(ctx, tx, event, v); err != nil {
				return err
			}
			if v.kind == verdictRetry {
				held[event.AggregateID] = struct{}{}
			}
			tally[v.kind]++
		}
		return nil
	})
	if err == nil && found {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"published":     tally[verdictPublished],
			"failed":        tally[verdictRetry],
			"dead_lettered": tally[verdictDeadLetter],
		}), "outbox batch flushed")
	}
	return found, err
}

// deliver resolves and publishes a single row.
func (s *Service) deliver(ctx context.Context, event models.OutboxEvent) verdict {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return verdict{kind: verdictDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: err}
	}
	topic := resolved.Descriptor.Topic

	err = s.publish(ctx, topic, buildMessage(event, resolved.Envelope))
	var permanent registry.NonRetryableError
	switch {
	case err == nil:
		return verdict{kind: verdictPublished, topic: topic}
	case errors.As(err, &permanent):
		return verdict{kind: verdictDeadLetter, reason: enums.OutboxDLQReasonNonRetryable, err: err, topic: topic}
	case event.AttemptCount+1 >= s.maxAttempts:
		return verdict{kind: verdictDeadLetter, reason: enums.OutboxDLQReasonMaxAttempts, err: fmt.Errorf("max publish attempts reached: %w", err), topic: topic}
	default:
		return verdict{kind: verdictRetry, err: err, topic: topic}
	}
}

func (s *Service) publish(ctx context.Context, topic string, msg *gcpMessage) error {
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := pub.Publish(ctx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("topic %s: %w", topic, errNilResult))
	}
	_, err := result.Get(ctx)
	return err
}

// record persists a verdict on the row, copying dead letters to the DLQ.
func (s *Service) record(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, v verdict) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
		"topic":          v.topic,
	})

	switch v.kind {
	case verdictPublished:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Debug(logCtx, "outbox event published")
		return nil

	case verdictRetry:
		s.logg.Warn(s.logg.WithField(logCtx, "error", v.err.Error()), "outbox publish failed")
		if err := s.repo.MarkFailedTx(tx, event.ID, v.err); err != nil {
			return fmt.Errorf("mark failed %s: %w", event.ID, err)
		}
		return nil
	}

	s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
		"error":        v.err.Error(),
		"error_reason": v.reason,
	}), "outbox event dead-lettered")
	message := v.err.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   v.reason,
		ErrorMessage:  &message,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, v.err, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}
