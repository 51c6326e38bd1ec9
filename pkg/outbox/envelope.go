package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const currentPayloadVersion = 1

var errEmptyData = errors.New("envelope has no data")

// ActorRef is the staff user behind a ledger mutation. LocationID is the
// location the request was scoped to; admins act without one.
type ActorRef struct {
	UserID     uuid.UUID  `json:"userId"`
	LocationID *uuid.UUID `json:"locationId,omitempty"`
	Role       string     `json:"role,omitempty"`
}

// PayloadEnvelope wraps every ledger event written to outbox_events and is
// published as the Pub/Sub message body unchanged.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(event DomainEvent, now time.Time) (PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("marshal %s data: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	version := event.Version
	if version == 0 {
		version = currentPayloadVersion
	}
	return PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: occurred.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}, nil
}

// DecodeData unmarshals the event data into dst.
func (e PayloadEnvelope) DecodeData(dst any) error {
	if e.Version < 1 {
		return fmt.Errorf("unsupported payload version %d", e.Version)
	}
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return errEmptyData
	}
	return json.Unmarshal(data, dst)
}
