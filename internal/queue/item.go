package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind names a work item type. It is the stream suffix and the dispatch key.
type Kind string

const (
	KindGenerateImage Kind = "generate_image"
	KindReplyTweet    Kind = "reply_tweet"
)

// Kinds lists every kind a worker consumes.
var Kinds = []Kind{KindGenerateImage, KindReplyTweet}

var ErrUnknownKind = errors.New("unknown work item kind")

// WorkItem is the closed set of queue payloads. Only types in this package
// implement it.
type WorkItem interface {
	Kind() Kind
	workItem()
}

// GenerateImage asks a worker to charge for a request and post the payment link.
type GenerateImage struct {
	RequestID uuid.UUID `json:"requestId"`
}

func (GenerateImage) Kind() Kind { return KindGenerateImage }
func (GenerateImage) workItem()  {}

// ReplyTweet asks a worker to produce the image for a paid request and post it.
type ReplyTweet struct {
	RequestID        uuid.UUID `json:"requestId"`
	PaymentReference string    `json:"paymentReference"`
}

func (ReplyTweet) Kind() Kind { return KindReplyTweet }
func (ReplyTweet) workItem()  {}

// Encode serializes item for transport.
func Encode(item WorkItem) ([]byte, error) {
	b, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", item.Kind(), err)
	}
	return b, nil
}

// Decode parses a payload of the given kind. Unrecognized kinds return
// ErrUnknownKind.
func Decode(kind Kind, payload []byte) (WorkItem, error) {
	switch kind {
	case KindGenerateImage:
		var item GenerateImage
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		if item.RequestID == uuid.Nil {
			return nil, fmt.Errorf("decode %s: missing requestId", kind)
		}
		return item, nil
	case KindReplyTweet:
		var item ReplyTweet
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
		if item.RequestID == uuid.Nil {
			return nil, fmt.Errorf("decode %s: missing requestId", kind)
		}
		return item, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
