package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is a ledger row for an inbound provider event. An event is only
// considered handled once ProcessedAt is set, so a delivery that failed midway
// is processed again on redelivery.
type WebhookEvent struct {
	Provider         string     `db:"provider"          json:"provider"`
	EventID          string     `db:"event_id"          json:"event_id"`
	EventType        string     `db:"event_type"        json:"event_type"`
	PaymentReference *string    `db:"payment_reference" json:"payment_reference,omitempty"`
	RequestID        *uuid.UUID `db:"request_id"        json:"request_id,omitempty"`
	ReceivedAt       time.Time  `db:"received_at"       json:"received_at"`
	ProcessedAt      *time.Time `db:"processed_at"      json:"processed_at,omitempty"`
}
