// Package payments creates Stripe PaymentIntents and verifies Stripe webhooks.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/errs"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// Metadata keys written on every PaymentIntent.
const (
	MetadataRequestID = "requestId"
	MetadataTweetID   = "tweetId"
)

// StripeOptions configures a StripeClient.
type StripeOptions struct {
	SecretKey string
	// PayURLBase is prefixed to the client secret to build the link sent to the author.
	PayURLBase string
	// APIBaseURL overrides the Stripe API endpoint. Used by tests.
	APIBaseURL string
	Timeout    time.Duration
}

// StripeClient implements coordinator.Payments on PaymentIntents.
type StripeClient struct {
	api        *client.API
	payURLBase string
}

var _ coordinator.Payments = (*StripeClient)(nil)

// NewStripeClient creates a StripeClient. Network retries are disabled.
func NewStripeClient(opts StripeOptions) *StripeClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	cfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: opts.Timeout},
		// Retries belong to the queue, which already redelivers with the same idempotency key.
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     slogLogger{},
	}
	if opts.APIBaseURL != "" {
		cfg.URL = stripe.String(opts.APIBaseURL)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}

	return &StripeClient{
		api:        client.New(opts.SecretKey, backends),
		payURLBase: opts.PayURLBase,
	}
}

// CreateCharge creates a PaymentIntent keyed by the request id, so a retried
// call returns the intent created by the first one.
func (c *StripeClient) CreateCharge(ctx context.Context, req coordinator.ChargeRequest) (*coordinator.Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	params.AddMetadata(MetadataRequestID, req.RequestID.String())
	params.AddMetadata(MetadataTweetID, req.SourcePostID)
	params.SetIdempotencyKey(req.RequestID.String())

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classifyError(err)
	}

	slog.Debug("payment intent created", "request_id", req.RequestID, "payment_reference", pi.ID)
	return &coordinator.Charge{
		Reference: pi.ID,
		PayURL:    c.payURLBase + pi.ClientSecret,
	}, nil
}

// classifyError marks Stripe failures that are worth repeating. Card and
// request errors are terminal.
func classifyError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return errs.Transient(fmt.Errorf("stripe: %w", err))
	}

	wrapped := fmt.Errorf("stripe %s (status %d): %w", se.Type, se.HTTPStatusCode, err)
	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError,
		se.Type == stripe.ErrorTypeAPI,
		se.Type == stripe.ErrorTypeIdempotency && se.HTTPStatusCode == http.StatusConflict:
		return errs.Transient(wrapped)
	default:
		return wrapped
	}
}

// slogLogger routes stripe-go's own logging through slog.
type slogLogger struct{}

func (slogLogger) Debugf(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (slogLogger) Infof(format string, v ...interface{}) {
	slog.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (slogLogger) Warnf(format string, v ...interface{}) {
	slog.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (slogLogger) Errorf(format string, v ...interface{}) {
	slog.Error(fmt.Sprintf(format, v...), "component", "stripe")
}
