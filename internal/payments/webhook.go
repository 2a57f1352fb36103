package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned when the Stripe-Signature header is missing
// or does not match the payload.
var ErrInvalidSignature = errors.New("invalid stripe signature")

// Outcome is what a verified event means for the request it refers to.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "ignored"
	}
}

// Event is a verified Stripe event reduced to what the lifecycle needs.
// RequestID is uuid.Nil when the intent has no usable requestId metadata.
type Event struct {
	ID        string
	Type      string
	Outcome   Outcome
	Reference string
	RequestID uuid.UUID
}

// Verifier checks Stripe webhook signatures.
type Verifier struct {
	secret string
}

// NewVerifier creates a Verifier for the endpoint signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Parse verifies payload against the Stripe-Signature header and maps the event.
// Event types other than PaymentIntent outcomes come back as OutcomeIgnored.
func (v *Verifier) Parse(payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: header missing", ErrInvalidSignature)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	switch ev.Type {
	case "payment_intent.succeeded":
		out.Outcome = OutcomeSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		out.Outcome = OutcomeFailed
	default:
		return out, nil
	}

	if ev.Data == nil {
		return nil, fmt.Errorf("event %s has no data", ev.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decoding payment intent: %w", err)
	}
	if pi.ID == "" {
		return nil, fmt.Errorf("event %s has no payment intent id", ev.ID)
	}

	out.Reference = pi.ID
	if id, err := uuid.Parse(pi.Metadata[MetadataRequestID]); err == nil {
		out.RequestID = id
	}
	return out, nil
}
