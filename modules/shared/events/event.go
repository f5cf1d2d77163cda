// Package events defines the inbound event contract shared by the event
// transport and the modules that consume it.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType is the type tag used to dispatch an event to its handler.
type EventType string

func (t EventType) String() string { return string(t) }

// Envelope is one delivered event instance. Delivery is at-least-once and
// may be reordered, so consumers must deduplicate on
// (AggregateType, AggregateID, EventID). An empty EventID means the producer
// supplied no tracing metadata and the event cannot be deduplicated.
type Envelope struct {
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventID       string          `json:"eventId,omitempty"`
	EventType     EventType       `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
}

// HasSource reports whether the envelope carries a full source event identity.
func (e Envelope) HasSource() bool {
	return strings.TrimSpace(e.AggregateType) != "" &&
		strings.TrimSpace(e.AggregateID) != "" &&
		strings.TrimSpace(e.EventID) != ""
}

// DecodeEnvelope parses a wire message into an Envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("decoding envelope: missing event type")
	}
	return env, nil
}

// NewEnvelope builds an envelope around a typed payload.
func NewEnvelope(aggregateType, aggregateID, eventID string, eventType EventType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	return Envelope{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventID:       eventID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

// DecodePayload unmarshals the payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.EventType)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%s: %w", e.EventType, err)
	}
	return nil
}
