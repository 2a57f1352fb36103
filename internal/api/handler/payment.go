package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/twimagine/internal/api/response"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/payments"
	"github.com/kiranshivaraju/twimagine/pkg/models"
)

const paymentProvider = "stripe"

// PaymentApplier applies verified payment outcomes to image requests.
type PaymentApplier interface {
	ConfirmPayment(ctx context.Context, ev coordinator.PaymentEvent) error
	FailPayment(ctx context.Context, ev coordinator.PaymentEvent) error
}

// EventLedger records which provider events have been fully processed.
type EventLedger interface {
	BeginWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error)
	CompleteWebhookEvent(ctx context.Context, provider, eventID string) error
}

// PaymentEventParser verifies and decodes a provider delivery.
type PaymentEventParser interface {
	Parse(payload []byte, signature string) (*payments.Event, error)
}

// NewPaymentWebhookHandler returns an http.HandlerFunc for POST /webhooks/payments.
// Only retryable failures answer 500; the provider redelivers those and the
// ledger skips events that already completed.
func NewPaymentWebhookHandler(parser PaymentEventParser, applier PaymentApplier, ledger EventLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			response.Error(w, http.StatusRequestEntityTooLarge, "INVALID_REQUEST", "Request body too large", nil)
			return
		}

		ev, err := parser.Parse(body, r.Header.Get("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, payments.ErrInvalidSignature) {
				slog.Warn("payment webhook signature rejected", "error", err)
				response.Error(w, http.StatusBadRequest, "INVALID_SIGNATURE", "Webhook signature verification failed", nil)
				return
			}
			slog.Warn("payment webhook payload rejected", "error", err)
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed payment event", nil)
			return
		}

		log := slog.With("event_id", ev.ID, "event_type", ev.Type, "payment_reference", ev.Reference)
		if ev.Outcome == payments.OutcomeIgnored {
			log.Debug("payment event ignored")
			response.Message(w, http.StatusOK, "Event ignored")
			return
		}

		record := &models.WebhookEvent{
			Provider:   paymentProvider,
			EventID:    ev.ID,
			EventType:  ev.Type,
			ReceivedAt: time.Now().UTC(),
		}
		if ev.Reference != "" {
			record.PaymentReference = &ev.Reference
		}
		if ev.RequestID != uuid.Nil {
			record.RequestID = &ev.RequestID
		}
		processed, err := ledger.BeginWebhookEvent(r.Context(), record)
		if err != nil {
			log.Error("recording payment event failed", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
			return
		}
		if processed {
			log.Info("payment event already processed")
			response.Message(w, http.StatusOK, "Event already processed")
			return
		}

		pe := coordinator.PaymentEvent{EventID: ev.ID, Reference: ev.Reference, RequestID: ev.RequestID}
		if ev.Outcome == payments.OutcomeSucceeded {
			err = applier.ConfirmPayment(r.Context(), pe)
		} else {
			err = applier.FailPayment(r.Context(), pe)
		}

		switch {
		case err == nil:
		case coordinator.IsRetryable(err):
			log.Error("applying payment event failed, asking for redelivery", "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
			return
		case errors.Is(err, coordinator.ErrPaymentMismatch), errors.Is(err, coordinator.ErrRequestNotFound):
			log.Warn("payment event not applied", "request_id", ev.RequestID, "error", err)
		default:
			log.Error("payment event not applied", "request_id", ev.RequestID, "error", err)
		}

		if err := ledger.CompleteWebhookEvent(r.Context(), paymentProvider, ev.ID); err != nil {
			log.Warn("marking payment event processed failed", "error", err)
		}
		response.Message(w, http.StatusOK, "Webhook processed successfully")
	}
}
