package social

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	creds := Credentials{APIKey: "key", APISecret: "secret", AccessToken: "token", AccessTokenSecret: "token-secret"}
	return NewClient(creds, srv.URL, srv.URL, 5*time.Second)
}

func TestPostReply_TextOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "OAuth "))

		var body createTweetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Text)
		require.NotNil(t, body.Reply)
		assert.Equal(t, "tweet-1", body.Reply.InReplyToTweetID)
		assert.Nil(t, body.Media)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"reply-1","text":"hello"}}`))
	})
	mux.HandleFunc("/1.1/media/upload.json", func(w http.ResponseWriter, r *http.Request) {
		t.Error("media upload not expected")
	})

	id, err := newTestClient(t, mux).PostReply(context.Background(), coordinator.Reply{InReplyTo: "tweet-1", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "reply-1", id)
}

func TestPostReply_WithMedia(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1.1/media/upload.json", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "tweet_image", r.FormValue("media_category"))
		f, _, err := r.FormFile("media")
		require.NoError(t, err)
		defer f.Close()

		buf := make([]byte, 8)
		n, _ := f.Read(buf)
		assert.Equal(t, []byte("PNGDATA"), buf[:n])

		w.Write([]byte(`{"media_id":710511363345354753,"media_id_string":"710511363345354753"}`))
	})
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		var body createTweetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.Media)
		assert.Equal(t, []string{"710511363345354753"}, body.Media.MediaIDs)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"reply-2","text":"here"}}`))
	})

	id, err := newTestClient(t, mux).PostReply(context.Background(), coordinator.Reply{
		InReplyTo: "tweet-1",
		Text:      "here",
		Media:     &coordinator.Media{Data: []byte("PNGDATA"), ContentType: "image/png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "reply-2", id)
}

func TestPostReply_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"forbidden", http.StatusForbidden, false},
		{"duplicate content", http.StatusBadRequest, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusServiceUnavailable, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"title":"error"}`))
			})

			_, err := newTestClient(t, mux).PostReply(context.Background(), coordinator.Reply{Text: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRejected)
			assert.Equal(t, tt.transient, errs.IsTransient(err))
		})
	}
}

func TestPostReply_UploadFailureStopsPost(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/1.1/media/upload.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("/2/tweets", func(w http.ResponseWriter, r *http.Request) {
		t.Error("tweet must not be posted without its media")
	})

	_, err := newTestClient(t, mux).PostReply(context.Background(), coordinator.Reply{
		Text: "x", Media: &coordinator.Media{Data: []byte("x"), ContentType: "image/png"},
	})
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}

func TestPostReply_Unreachable(t *testing.T) {
	c := NewClient(Credentials{}, "http://127.0.0.1:1", "http://127.0.0.1:1", time.Second)

	_, err := c.PostReply(context.Background(), coordinator.Reply{Text: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.True(t, errs.IsTransient(err))
}

func TestClassifyError_CancelledIsNotTransient(t *testing.T) {
	err := classifyError(context.Canceled)
	assert.False(t, errs.IsTransient(err))
	assert.True(t, errors.Is(err, context.Canceled))
}
