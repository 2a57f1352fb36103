package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/twimagine/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrPreconditionFailed is returned by a conditional update whose condition
// did not hold. The record was not modified.
var ErrPreconditionFailed = errors.New("precondition failed")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateImageRequest(ctx context.Context, req *models.ImageRequest) error
	GetImageRequest(ctx context.Context, id uuid.UUID) (*models.ImageRequest, error)
	GetImageRequestBySourcePost(ctx context.Context, sourcePostID string) (*models.ImageRequest, error)
	GetImageRequestByPaymentReference(ctx context.Context, ref string) (*models.ImageRequest, error)
	UpdateImageRequest(ctx context.Context, id uuid.UUID, cond Condition, opts ...UpdateOption) (*models.ImageRequest, error)
	ListImageRequests(ctx context.Context, filter RequestFilter) ([]*models.ImageRequest, int, error)

	BeginWebhookEvent(ctx context.Context, event *models.WebhookEvent) (alreadyProcessed bool, err error)
	CompleteWebhookEvent(ctx context.Context, provider, eventID string) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// Condition is the precondition of UpdateImageRequest. The update applies only
// if the stored status is one of Statuses and every optional check holds.
type Condition struct {
	Statuses []models.RequestStatus

	// ReferenceUnset requires payment_reference IS NULL.
	ReferenceUnset bool
	// ReferenceMatches requires payment_reference IS NULL or equal to the value.
	ReferenceMatches *string
	// Claim requires fulfillment_claim to equal the value.
	Claim *string
	// ClaimMatches requires fulfillment_claim IS NULL or equal to the value.
	ClaimMatches *string
}

// InStatus builds a Condition on the given source statuses.
func InStatus(statuses ...models.RequestStatus) Condition {
	return Condition{Statuses: statuses}
}

// Allows reports whether req satisfies the condition. The in-memory store
// uses it directly; the Postgres store renders the same checks into SQL.
func (c Condition) Allows(req *models.ImageRequest) bool {
	match := false
	for _, s := range c.Statuses {
		if req.Status == s {
			match = true
			break
		}
	}
	if !match {
		return false
	}
	if c.ReferenceUnset && req.PaymentReference != nil {
		return false
	}
	if c.ReferenceMatches != nil && req.PaymentReference != nil && *req.PaymentReference != *c.ReferenceMatches {
		return false
	}
	if c.Claim != nil && (req.FulfillmentClaim == nil || *req.FulfillmentClaim != *c.Claim) {
		return false
	}
	if c.ClaimMatches != nil && req.FulfillmentClaim != nil && *req.FulfillmentClaim != *c.ClaimMatches {
		return false
	}
	return true
}

// RequestFilter narrows ListImageRequests.
type RequestFilter struct {
	Status models.RequestStatus
	Since  time.Time
	Page   int
	Limit  int
}

// UpdateParams collects the field changes of one UpdateImageRequest call.
// Nil fields are left unchanged.
type UpdateParams struct {
	Status           *models.RequestStatus
	PaymentReference *string
	PaymentLinkURL   *string
	PaymentReplyID   *string
	ResultURL        *string
	ResultReplyID    *string
	ArtifactURL      *string
	FulfillmentClaim *string
	FailureReason    *string
}

type UpdateOption func(*UpdateParams)

// NewUpdateParams applies opts to a zero UpdateParams.
func NewUpdateParams(opts ...UpdateOption) *UpdateParams {
	p := &UpdateParams{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply copies the set fields onto req. PaymentReference and PaymentLinkURL
// are only written when the record has none yet.
func (p *UpdateParams) Apply(req *models.ImageRequest, now time.Time) {
	if p.Status != nil {
		req.Status = *p.Status
	}
	if p.PaymentReference != nil && req.PaymentReference == nil {
		req.PaymentReference = p.PaymentReference
	}
	if p.PaymentLinkURL != nil && req.PaymentLinkURL == nil {
		req.PaymentLinkURL = p.PaymentLinkURL
	}
	if p.PaymentReplyID != nil {
		req.PaymentReplyID = p.PaymentReplyID
	}
	if p.ResultURL != nil {
		req.ResultURL = p.ResultURL
	}
	if p.ResultReplyID != nil {
		req.ResultReplyID = p.ResultReplyID
	}
	if p.ArtifactURL != nil {
		req.ArtifactURL = p.ArtifactURL
	}
	if p.FulfillmentClaim != nil {
		req.FulfillmentClaim = p.FulfillmentClaim
	}
	if p.FailureReason != nil {
		req.FailureReason = p.FailureReason
	}
	if now.After(req.UpdatedAt) {
		req.UpdatedAt = now
	}
}

func WithStatus(s models.RequestStatus) UpdateOption {
	return func(p *UpdateParams) {
		p.Status = &s
	}
}

func WithPayment(ref, linkURL string) UpdateOption {
	return func(p *UpdateParams) {
		p.PaymentReference = &ref
		p.PaymentLinkURL = &linkURL
	}
}

func WithPaymentReference(ref string) UpdateOption {
	return func(p *UpdateParams) {
		p.PaymentReference = &ref
	}
}

func WithPaymentReplyID(id string) UpdateOption {
	return func(p *UpdateParams) {
		p.PaymentReplyID = &id
	}
}

func WithResult(url, replyID string) UpdateOption {
	return func(p *UpdateParams) {
		p.ResultURL = &url
		p.ResultReplyID = &replyID
	}
}

// WithResultReply records a posted result reply and the uploaded artifact
// ahead of completion.
func WithResultReply(artifactURL, replyID string) UpdateOption {
	return func(p *UpdateParams) {
		p.ArtifactURL = &artifactURL
		p.ResultReplyID = &replyID
	}
}

func WithFulfillmentClaim(claim string) UpdateOption {
	return func(p *UpdateParams) {
		p.FulfillmentClaim = &claim
	}
}

func WithFailureReason(reason string) UpdateOption {
	return func(p *UpdateParams) {
		p.FailureReason = &reason
	}
}
