package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStripe(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStripeClient(StripeOptions{
		SecretKey:  "sk_test_123",
		PayURLBase: "https://checkout.stripe.com/pay/",
		APIBaseURL: srv.URL,
	})
}

func TestCreateCharge_Success(t *testing.T) {
	requestID := uuid.New()

	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, requestID.String(), r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "500", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "AI image: a red fox", r.PostForm.Get("description"))
		assert.Equal(t, requestID.String(), r.PostForm.Get("metadata[requestId]"))
		assert.Equal(t, "tweet-1", r.PostForm.Get("metadata[tweetId]"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_123","object":"payment_intent","amount":500,"currency":"usd",` +
			`"client_secret":"pi_123_secret_abc","status":"requires_payment_method"}`))
	})

	charge, err := c.CreateCharge(context.Background(), coordinator.ChargeRequest{
		RequestID:    requestID,
		SourcePostID: "tweet-1",
		AmountCents:  500,
		Currency:     "usd",
		Description:  "AI image: a red fox",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", charge.Reference)
	assert.Equal(t, "https://checkout.stripe.com/pay/pi_123_secret_abc", charge.PayURL)
}

func TestCreateCharge_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{"card declined", http.StatusPaymentRequired, `{"error":{"type":"card_error","code":"card_declined","message":"declined"}}`, false},
		{"invalid request", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","message":"bad currency"}}`, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"invalid_request_error","code":"rate_limit","message":"slow down"}}`, true},
		{"server error", http.StatusInternalServerError, `{"error":{"type":"api_error","message":"boom"}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.CreateCharge(context.Background(), coordinator.ChargeRequest{
				RequestID: uuid.New(), AmountCents: 500, Currency: "usd",
			})
			require.Error(t, err)
			assert.Equal(t, tt.transient, errs.IsTransient(err))
		})
	}
}

func TestClassifyError_NetworkFailureIsTransient(t *testing.T) {
	err := classifyError(errors.New("dial tcp: connection refused"))
	assert.True(t, errs.IsTransient(err))
}
