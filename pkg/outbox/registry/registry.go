package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox/payloads"
)

// EventDescriptor says where an event type is published and how its payload decodes.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is an outbox row with its envelope and typed payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// NonRetryableError marks a row that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable outbox error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func describe[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      event,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() interface{} { return new(T) },
	}
}

// NewEventRegistry registers every ledger event on the ledger topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := cfg.LedgerTopic
	if topic == "" {
		return nil, errors.New("ledger topic is required")
	}
	descs := []EventDescriptor{
		describe[payloads.PaymentRecordedEvent](enums.EventPaymentRecorded, enums.AggregatePayment, topic),
		describe[payloads.PaymentUpdatedEvent](enums.EventPaymentUpdated, enums.AggregatePayment, topic),
		describe[payloads.PaymentDeletedEvent](enums.EventPaymentDeleted, enums.AggregatePayment, topic),
		describe[payloads.PledgeCreatedEvent](enums.EventPledgeCreated, enums.AggregatePledge, topic),
		describe[payloads.PledgeRecalculatedEvent](enums.EventPledgeRecalculated, enums.AggregatePledge, topic),
		describe[payloads.PledgeDeletedEvent](enums.EventPledgeDeleted, enums.AggregatePledge, topic),
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descs))}
	for _, d := range descs {
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Resolve checks a row against its descriptor and decodes the payload. Every
// failure is non-retryable: the row is stored and will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	resolved, err := r.resolve(event)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return resolved, nil
}

func (r *EventRegistry) resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, fmt.Errorf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, fmt.Errorf("%s belongs to %s aggregates, row has %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, errors.New("missing aggregate_id")
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	payload := desc.PayloadFactory()
	if err := env.DecodeData(payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
