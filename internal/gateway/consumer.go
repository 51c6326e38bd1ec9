package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/donorledger-backend/internal/ledger"
	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/donorledger-backend/pkg/errors"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
	"github.com/angelmondragon/donorledger-backend/pkg/types"
)

const (
	consumerName          = "gateway-confirmations"
	eventPaymentSucceeded = "payment.succeeded"
)

type recorder interface {
	RecordGatewayConfirmation(ctx context.Context, c ledger.GatewayConfirmation) (*models.Payment, bool, error)
}

type claimer interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, key string) (bool, error)
	Release(ctx context.Context, consumer, key string) error
}

// Consumer turns card gateway confirmations into completed ledger payments.
type Consumer struct {
	ledger       recorder
	subscription *pubsub.Subscriber
	idempotency  claimer
	logg         *logger.Logger
}

func NewConsumer(svc recorder, subscription *pubsub.Subscriber, manager claimer, logg *logger.Logger) (*Consumer, error) {
	if svc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("gateway subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		ledger:       svc,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if eventType != eventPaymentSucceeded {
		c.logg.Info(logCtx, "skipping gateway event")
		return processResult{ack: true}
	}

	var payload confirmationPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		fields["payload_preview"] = previewBytes(msg.Data, 400)
		c.logg.Error(c.logg.WithFields(ctx, fields), "failed to decode confirmation", err)
		return processResult{ack: true}
	}
	ref := strings.TrimSpace(payload.ReferenceID)
	if ref == "" {
		c.logg.Error(logCtx, "confirmation missing reference id", errors.New("empty referenceId"))
		return processResult{ack: true}
	}
	fields["external_reference_id"] = ref
	logCtx = c.logg.WithFields(ctx, fields)

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, consumerName, ref)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "confirmation already processed")
		return processResult{ack: true}
	}

	payment, created, err := c.ledger.RecordGatewayConfirmation(ctx, payload.toConfirmation(ref))
	if err != nil {
		if isPermanent(err) {
			c.logg.Error(logCtx, "confirmation rejected", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "recording confirmation failed", err)
		if relErr := c.idempotency.Release(ctx, consumerName, ref); relErr != nil {
			c.logg.Warn(logCtx, "idempotency release failed")
		}
		return processResult{nack: true}
	}

	fields["payment_id"] = payment.ID.String()
	fields["created"] = created
	c.logg.Info(c.logg.WithFields(ctx, fields), "gateway confirmation recorded")
	return processResult{ack: true}
}

// isPermanent reports whether redelivering the message cannot succeed. A
// replay after a partial write recalculates the pledges it touched.
func isPermanent(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeForbidden,
		pkgerrors.CodePledgeInactive,
		pkgerrors.CodeAllocationMismatch:
		return true
	}
	return false
}

type confirmationPayload struct {
	ReferenceID    string              `json:"referenceId"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       enums.Currency      `json:"currency"`
	PaymentDate    types.Date          `json:"paymentDate"`
	PledgeID       *uuid.UUID          `json:"pledgeId,omitempty"`
	PayerContactID *uuid.UUID          `json:"payerContactId,omitempty"`
	Allocations    []allocationPayload `json:"allocations,omitempty"`
}

type allocationPayload struct {
	PledgeID uuid.UUID       `json:"pledgeId"`
	Amount   decimal.Decimal `json:"amount"`
	Currency enums.Currency  `json:"currency,omitempty"`
}

func (p confirmationPayload) toConfirmation(ref string) ledger.GatewayConfirmation {
	c := ledger.GatewayConfirmation{
		ExternalReferenceID: ref,
		Amount:              p.Amount,
		Currency:            enums.Currency(strings.ToUpper(string(p.Currency))),
		PaymentDate:         p.PaymentDate.Time,
		PledgeID:            p.PledgeID,
		PayerContactID:      p.PayerContactID,
	}
	for _, a := range p.Allocations {
		c.Allocations = append(c.Allocations, ledger.AllocationInput{
			PledgeID: a.PledgeID,
			Amount:   a.Amount,
			Currency: enums.Currency(strings.ToUpper(string(a.Currency))),
		})
	}
	return c
}

func previewBytes(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "...(truncated)"
}
