package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox/payloads"
)

func ledgerRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{LedgerTopic: "ledger-topic"})
	require.NoError(t, err)
	return reg
}

func envelopeOf(t *testing.T, data json.RawMessage) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return raw
}

func TestResolveDecodesRecalculation(t *testing.T) {
	pledgeID := uuid.New()
	data, err := json.Marshal(payloads.PledgeRecalculatedEvent{
		PledgeID:     pledgeID,
		TotalPaid:    decimal.NewFromInt(600),
		TotalPaidUSD: decimal.NewFromInt(600),
		Balance:      decimal.NewFromInt(400),
		BalanceUSD:   decimal.NewFromInt(400),
	})
	require.NoError(t, err)

	resolved, err := ledgerRegistry(t).Resolve(models.OutboxEvent{
		EventType:     enums.EventPledgeRecalculated,
		AggregateType: enums.AggregatePledge,
		AggregateID:   pledgeID,
		Payload:       envelopeOf(t, data),
	})
	require.NoError(t, err)
	assert.Equal(t, "ledger-topic", resolved.Descriptor.Topic)
	assert.NotEmpty(t, resolved.Envelope.EventID)

	payload, ok := resolved.Payload.(*payloads.PledgeRecalculatedEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	assert.Equal(t, pledgeID, payload.PledgeID)
	assert.True(t, payload.Balance.Equal(decimal.NewFromInt(400)))
}

func TestEveryLedgerEventIsRegistered(t *testing.T) {
	reg := ledgerRegistry(t)
	cases := map[enums.OutboxEventType]enums.OutboxAggregateType{
		enums.EventPaymentRecorded:    enums.AggregatePayment,
		enums.EventPaymentUpdated:     enums.AggregatePayment,
		enums.EventPaymentDeleted:     enums.AggregatePayment,
		enums.EventPledgeCreated:      enums.AggregatePledge,
		enums.EventPledgeRecalculated: enums.AggregatePledge,
		enums.EventPledgeDeleted:      enums.AggregatePledge,
	}
	for eventType, aggregate := range cases {
		_, err := reg.Resolve(models.OutboxEvent{
			EventType:     eventType,
			AggregateType: aggregate,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, json.RawMessage(`{}`)),
		})
		assert.NoError(t, err, string(eventType))
	}
}

func TestResolveRejectsUnpublishableRows(t *testing.T) {
	reg := ledgerRegistry(t)
	cases := []struct {
		name string
		row  models.OutboxEvent
	}{
		{"unknown event", models.OutboxEvent{
			EventType:     enums.OutboxEventType("donation_refunded"),
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, json.RawMessage(`{"reason":"none"}`)),
		}},
		{"aggregate mismatch", models.OutboxEvent{
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregatePledge,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, json.RawMessage(`{}`)),
		}},
		{"missing aggregate id", models.OutboxEvent{
			EventType:     enums.EventPledgeDeleted,
			AggregateType: enums.AggregatePledge,
			Payload:       envelopeOf(t, json.RawMessage(`{}`)),
		}},
		{"null data", models.OutboxEvent{
			EventType:     enums.EventPaymentDeleted,
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, json.RawMessage(`null`)),
		}},
		{"broken envelope", models.OutboxEvent{
			EventType:     enums.EventPaymentDeleted,
			AggregateType: enums.AggregatePayment,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{`),
		}},
		{"payload of the wrong shape", models.OutboxEvent{
			EventType:     enums.EventPledgeRecalculated,
			AggregateType: enums.AggregatePledge,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, json.RawMessage(`{"pledge_id":42}`)),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Resolve(tc.row)
			require.Error(t, err)
			var permanent NonRetryableError
			assert.True(t, errors.As(err, &permanent), "got %T", err)
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{})
	assert.Error(t, err)
}
