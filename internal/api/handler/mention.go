package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/twimagine/internal/api/response"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/social"
	"github.com/kiranshivaraju/twimagine/pkg/models"
)

// maxWebhookBody bounds webhook payloads read into memory.
const maxWebhookBody = 1 << 20

// MentionAdmitter turns an accepted mention into an image request.
type MentionAdmitter interface {
	Admit(ctx context.Context, m coordinator.Mention) (*models.ImageRequest, bool, error)
}

// NewSocialCRCHandler answers GET /webhooks/social registration challenges.
func NewSocialCRCHandler(secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("crc_token")
		if token == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "crc_token is required", nil)
			return
		}
		response.Raw(w, http.StatusOK, map[string]string{
			"response_token": social.CRCResponse(secret, token),
		})
	}
}

// NewSocialWebhookHandler returns an http.HandlerFunc for POST /webhooks/social.
// Each mention of the bot is admitted independently; if any admission fails
// in a way worth retrying the whole delivery is answered with 500 so the
// sender redelivers it, which is safe because admission is idempotent per post.
func NewSocialWebhookHandler(admitter MentionAdmitter, secret string, filter *social.MentionFilter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			response.Error(w, http.StatusRequestEntityTooLarge, "INVALID_REQUEST", "Request body too large", nil)
			return
		}

		if !social.VerifySignature(secret, body, r.Header.Get("x-twitter-webhooks-signature")) {
			response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid signature", nil)
			return
		}

		var payload social.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		var retry bool
		for _, tweet := range payload.TweetCreateEvents {
			if !filter.Accept(tweet) {
				continue
			}
			log := slog.With("source_post_id", tweet.IDStr, "author", tweet.User.ScreenName)

			_, _, err := admitter.Admit(r.Context(), coordinator.Mention{
				SourcePostID: tweet.IDStr,
				AuthorID:     tweet.User.IDStr,
				AuthorHandle: tweet.User.ScreenName,
				Prompt:       filter.Prompt(tweet.Text),
			})
			switch {
			case err == nil:
			case errors.Is(err, coordinator.ErrPromptTooShort):
				log.Info("mention ignored, prompt too short")
			case coordinator.IsRetryable(err):
				log.Error("admitting mention failed, asking for redelivery", "error", err)
				retry = true
			default:
				log.Error("admitting mention failed", "error", err)
			}
		}

		if retry {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
			return
		}
		response.Message(w, http.StatusOK, "Webhook processed successfully")
	}
}
