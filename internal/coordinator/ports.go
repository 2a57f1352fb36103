package coordinator

//go:generate mockgen -source=ports.go -destination=mocks/ports_mock.go -package=mocks

import (
	"context"

	"github.com/google/uuid"
)

// ChargeRequest describes a charge for one image request. RequestID doubles
// as the provider idempotency key, so repeating the call returns the same charge.
type ChargeRequest struct {
	RequestID    uuid.UUID
	SourcePostID string
	AmountCents  int64
	Currency     string
	Description  string
}

// Charge is a created payment. Reference is the provider's payment id.
type Charge struct {
	Reference string
	PayURL    string
}

// Payments creates charges with the payment provider.
type Payments interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
}

// Media is an attachment for a reply.
type Media struct {
	Data        []byte
	ContentType string
}

// Reply is a post made in reply to InReplyTo.
type Reply struct {
	InReplyTo string
	Text      string
	Media     *Media
}

// Social posts replies on the social network and returns the new post id.
type Social interface {
	PostReply(ctx context.Context, reply Reply) (string, error)
}

// ObjectStore stores an artifact under key and returns its public URL.
// Uploading the same key twice overwrites it.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Image is synthesized image content.
type Image struct {
	Data        []byte
	ContentType string
}

// Synthesizer turns a prompt into an image.
type Synthesizer interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}
