package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IdempotentMessage is a message that carries its own idempotency id.
type IdempotentMessage interface {
	IdempotencyID() string
}

// Envelope carries a command or event. Type and Version discriminate the
// payload schema; ID is the idempotency id.
type Envelope struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Version       int               `json:"version"`
	AggregateName string            `json:"aggregateName,omitempty"`
	AggregateID   string            `json:"aggregateId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
}

// IdempotencyID returns the envelope id.
func (e Envelope) IdempotencyID() string {
	return e.ID
}

// NewEnvelope wraps payload in an envelope with a fresh id.
func NewEnvelope(typ string, version int, aggregateName, aggregateID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	id := uuid.NewString()
	return Envelope{
		ID:            id,
		Type:          typ,
		Version:       version,
		AggregateName: aggregateName,
		AggregateID:   aggregateID,
		CorrelationID: id,
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}

// CausedBy returns e correlated with cause.
func (e Envelope) CausedBy(cause Envelope) Envelope {
	e.CorrelationID = cause.CorrelationID
	if e.CorrelationID == "" {
		e.CorrelationID = cause.ID
	}
	return e
}

// Stream returns the name of the aggregate stream the envelope belongs to.
func (e Envelope) Stream() string {
	return e.AggregateName + e.AggregateID
}

// Decode unmarshals the payload into out.
func (e Envelope) Decode(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s v%d: empty payload", e.Type, e.Version)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decode %s v%d: %w", e.Type, e.Version, err)
	}
	return nil
}
