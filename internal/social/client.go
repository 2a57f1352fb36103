// Package social talks to the X (Twitter) API: posting replies with optional
// media and verifying account activity webhooks.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/errs"
)

// Sentinel errors for API failures.
var (
	ErrUnreachable = errors.New("social api unreachable")
	ErrRejected    = errors.New("social api rejected request")
)

// Credentials are the OAuth 1.0a user-context keys of the bot account.
type Credentials struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
}

// Client implements coordinator.Social.
type Client struct {
	apiBaseURL    string
	uploadBaseURL string
	http          *http.Client
}

var _ coordinator.Social = (*Client)(nil)

// NewClient creates a Client whose requests are signed with creds.
func NewClient(creds Credentials, apiBaseURL, uploadBaseURL string, timeout time.Duration) *Client {
	cfg := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)

	httpClient := cfg.Client(context.Background(), token)
	httpClient.Timeout = timeout

	return &Client{
		apiBaseURL:    apiBaseURL,
		uploadBaseURL: uploadBaseURL,
		http:          httpClient,
	}
}

type createTweetRequest struct {
	Text  string      `json:"text"`
	Reply *tweetReply `json:"reply,omitempty"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type mediaUploadResponse struct {
	MediaIDString string `json:"media_id_string"`
}

// PostReply uploads the media, if any, and posts the reply. It returns the
// new post's id.
func (c *Client) PostReply(ctx context.Context, r coordinator.Reply) (string, error) {
	body := createTweetRequest{Text: r.Text}
	if r.InReplyTo != "" {
		body.Reply = &tweetReply{InReplyToTweetID: r.InReplyTo}
	}
	if r.Media != nil {
		mediaID, err := c.uploadMedia(ctx, r.Media)
		if err != nil {
			return "", err
		}
		body.Media = &tweetMedia{MediaIDs: []string{mediaID}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encoding tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out createTweetResponse
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return "", fmt.Errorf("post tweet: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("post tweet: %w: response has no id", ErrRejected)
	}

	slog.Debug("reply posted", "post_id", out.Data.ID, "in_reply_to", r.InReplyTo)
	return out.Data.ID, nil
}

func (c *Client) uploadMedia(ctx context.Context, m *coordinator.Media) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("media_category", "tweet_image"); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	part, err := w.CreateFormFile("media", "image")
	if err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(m.Data); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadBaseURL+"/1.1/media/upload.json", &buf)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out mediaUploadResponse
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("upload media: %w: response has no media id", ErrRejected)
	}
	return out.MediaIDString, nil
}

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return classifyStatus(resp.StatusCode, detail)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors. Timeouts and
// network errors are transient; a cancelled caller is passed through.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return errs.Transient(fmt.Errorf("%w: %v", ErrUnreachable, err))
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// classifyStatus treats throttling and server errors as transient.
func classifyStatus(status int, detail []byte) error {
	err := fmt.Errorf("%w: status %d: %s", ErrRejected, status, bytes.TrimSpace(detail))
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return errs.Transient(err)
	}
	return err
}
