package queue_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/twimagine/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_GenerateImage(t *testing.T) {
	id := uuid.New()
	payload, err := queue.Encode(queue.GenerateImage{RequestID: id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId":"`+id.String()+`"}`, string(payload))

	item, err := queue.Decode(queue.KindGenerateImage, payload)
	require.NoError(t, err)
	assert.Equal(t, queue.GenerateImage{RequestID: id}, item)
}

func TestEncodeDecode_ReplyTweet(t *testing.T) {
	id := uuid.New()
	payload, err := queue.Encode(queue.ReplyTweet{RequestID: id, PaymentReference: "pi_123"})
	require.NoError(t, err)

	item, err := queue.Decode(queue.KindReplyTweet, payload)
	require.NoError(t, err)

	reply, ok := item.(queue.ReplyTweet)
	require.True(t, ok)
	assert.Equal(t, id, reply.RequestID)
	assert.Equal(t, "pi_123", reply.PaymentReference)
	assert.Equal(t, queue.KindReplyTweet, reply.Kind())
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := queue.Decode("resize_image", []byte(`{}`))
	assert.ErrorIs(t, err, queue.ErrUnknownKind)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		kind    queue.Kind
		payload string
	}{
		{"not json", queue.KindGenerateImage, `{`},
		{"missing request id", queue.KindGenerateImage, `{}`},
		{"bad uuid", queue.KindReplyTweet, `{"requestId":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := queue.Decode(tt.kind, []byte(tt.payload))
			require.Error(t, err)
			assert.NotErrorIs(t, err, queue.ErrUnknownKind)
		})
	}
}
