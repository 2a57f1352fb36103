package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle position of an ImageRequest. It is the only
// field the workflow branches on.
type RequestStatus string

const (
	StatusPendingPayment   RequestStatus = "pending_payment"
	StatusPaymentConfirmed RequestStatus = "payment_confirmed"
	StatusGenerating       RequestStatus = "generating"
	StatusCompleted        RequestStatus = "completed"
	StatusFailed           RequestStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusPaymentConfirmed, StatusGenerating, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ImageRequest is one user's paid image request, created from a single mention.
// Provenance fields and Prompt never change after creation. PaymentReference is
// written once. ResultURL is written only together with StatusCompleted.
//
// PaymentReplyID, ResultReplyID, ArtifactURL and FulfillmentClaim record
// external effects that already happened so a redelivered work item only does
// the missing parts. ArtifactURL becomes ResultURL on completion.
type ImageRequest struct {
	ID               uuid.UUID     `db:"id"                json:"id"`
	SourcePostID     string        `db:"source_post_id"    json:"source_post_id"`
	AuthorID         string        `db:"author_id"         json:"author_id"`
	AuthorHandle     string        `db:"author_handle"     json:"author_handle"`
	Prompt           string        `db:"prompt"            json:"prompt"`
	Status           RequestStatus `db:"status"            json:"status"`
	PaymentReference *string       `db:"payment_reference" json:"payment_reference,omitempty"`
	PaymentLinkURL   *string       `db:"payment_link_url"  json:"payment_link_url,omitempty"`
	PaymentReplyID   *string       `db:"payment_reply_id"  json:"payment_reply_id,omitempty"`
	ResultURL        *string       `db:"result_url"        json:"result_url,omitempty"`
	ResultReplyID    *string       `db:"result_reply_id"   json:"result_reply_id,omitempty"`
	ArtifactURL      *string       `db:"artifact_url"      json:"-"`
	FulfillmentClaim *string       `db:"fulfillment_claim" json:"-"`
	FailureReason    *string       `db:"failure_reason"    json:"failure_reason,omitempty"`
	CreatedAt        time.Time     `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at"        json:"updated_at"`
}

// HasPaymentReference reports whether a charge has been recorded.
func (r *ImageRequest) HasPaymentReference() bool {
	return r.PaymentReference != nil && *r.PaymentReference != ""
}
