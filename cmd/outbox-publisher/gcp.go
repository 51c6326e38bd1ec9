package main

import (
	"context"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/donorledger-backend/pkg/db/models"
	"github.com/angelmondragon/donorledger-backend/pkg/outbox"
)

type gcpMessage = gcppubsub.Message

// buildMessage puts the envelope JSON on the wire as-is and mirrors the
// routing fields into attributes so subscribers can filter without decoding.
func buildMessage(event models.OutboxEvent, env outbox.PayloadEnvelope) *gcpMessage {
	key := event.AggregateID.String()
	attrs := map[string]string{
		"event_id":       env.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   key,
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if env.Actor != nil && env.Actor.LocationID != nil {
		attrs["location_id"] = env.Actor.LocationID.String()
	}
	return &gcpMessage{Data: event.Payload, Attributes: attrs, OrderingKey: key}
}

// orderedPublisher wraps a Pub/Sub publisher with ordering enabled. After a
// failed ordered publish the key stays paused until ResumePublish, so every
// failed result resumes its key before returning.
type orderedPublisher struct {
	p *gcppubsub.Publisher
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	return orderedPublisher{p: p}
}

func (o orderedPublisher) Publish(ctx context.Context, msg *gcpMessage) publishResult {
	return resumingResult{res: o.p.Publish(ctx, msg), p: o.p, key: msg.OrderingKey}
}

func (o orderedPublisher) Stop() { o.p.Stop() }

type resumingResult struct {
	res *gcppubsub.PublishResult
	p   *gcppubsub.Publisher
	key string
}

func (r resumingResult) Get(ctx context.Context) (string, error) {
	if r.res == nil {
		return "", errNilResult
	}
	id, err := r.res.Get(ctx)
	if err != nil && r.key != "" {
		r.p.ResumePublish(r.key)
	}
	return id, err
}
