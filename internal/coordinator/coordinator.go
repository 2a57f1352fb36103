// Package coordinator owns the ImageRequest lifecycle. Every state change is a
// conditional update against the store, so duplicate or concurrent deliveries
// of the same work item or webhook can only advance a request once.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/twimagine/internal/errs"
	"github.com/kiranshivaraju/twimagine/internal/queue"
	"github.com/kiranshivaraju/twimagine/internal/store"
	"github.com/kiranshivaraju/twimagine/pkg/models"
)

const (
	// failureWriteTimeout bounds the write of a terminal failure and the
	// apology that follows it. Both run detached from the caller's deadline.
	failureWriteTimeout = 10 * time.Second

	// conflictRetries bounds re-reads after a webhook loses a conditional update,
	// and attempts at a bookkeeping write that follows a posted reply.
	conflictRetries = 3

	replyWriteBackoff = 50 * time.Millisecond
)

// Config holds pricing and retry policy.
type Config struct {
	AmountCents     int64
	Currency        string
	PromptMinLength int
	// MaxAttempts is the delivery attempt at which a transient failure stops
	// being retried and the request is failed instead.
	MaxAttempts int
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Store       store.Store
	Queue       queue.Enqueuer
	Payments    Payments
	Social      Social
	Objects     ObjectStore
	Synthesizer Synthesizer
}

// Coordinator applies lifecycle transitions and performs their side effects.
type Coordinator struct {
	store    store.Store
	queue    queue.Enqueuer
	payments Payments
	social   Social
	objects  ObjectStore
	synth    Synthesizer
	cfg      Config
	now      func() time.Time
}

// New creates a Coordinator. MaxAttempts below 1 is treated as 1.
func New(deps Deps, cfg Config) *Coordinator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Coordinator{
		store:    deps.Store,
		queue:    deps.Queue,
		payments: deps.Payments,
		social:   deps.Social,
		objects:  deps.Objects,
		synth:    deps.Synthesizer,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Mention is an accepted mention of the bot, prompt already extracted.
type Mention struct {
	SourcePostID string
	AuthorID     string
	AuthorHandle string
	Prompt       string
}

// PaymentEvent is a verified payment outcome. RequestID may be uuid.Nil when
// the provider event carried no request metadata; the request is then found
// by Reference.
type PaymentEvent struct {
	EventID   string
	Reference string
	RequestID uuid.UUID
}

// --- Mentions ---

// Admit creates the request for a mention and enqueues its payment step. A
// mention whose post already has a request returns that request with
// created=false; if it is still waiting for a charge the payment step is
// enqueued again, since the first delivery may have stopped before enqueueing.
func (c *Coordinator) Admit(ctx context.Context, m Mention) (*models.ImageRequest, bool, error) {
	if utf8.RuneCountInString(m.Prompt) < c.cfg.PromptMinLength {
		return nil, false, ErrPromptTooShort
	}

	now := c.now()
	req := &models.ImageRequest{
		ID:           uuid.New(),
		SourcePostID: m.SourcePostID,
		AuthorID:     m.AuthorID,
		AuthorHandle: m.AuthorHandle,
		Prompt:       m.Prompt,
		Status:       models.StatusPendingPayment,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := c.store.CreateImageRequest(ctx, req)
	if errors.Is(err, store.ErrDuplicateKey) {
		existing, err := c.store.GetImageRequestBySourcePost(ctx, m.SourcePostID)
		if err != nil {
			return nil, false, retryable(errs.Wrap(err, "load existing request"))
		}
		if existing.Status == models.StatusPendingPayment && !existing.HasPaymentReference() {
			if err := c.queue.Enqueue(ctx, queue.GenerateImage{RequestID: existing.ID}); err != nil {
				return existing, false, retryable(errs.Wrap(err, "re-enqueue generate_image"))
			}
		}
		slog.Info("duplicate mention ignored", "request_id", existing.ID, "source_post_id", m.SourcePostID,
			"status", existing.Status)
		return existing, false, nil
	}
	if err != nil {
		return nil, false, retryable(errs.Wrap(err, "create image request"))
	}

	if err := c.queue.Enqueue(ctx, queue.GenerateImage{RequestID: req.ID}); err != nil {
		return req, true, retryable(errs.Wrap(err, "enqueue generate_image"))
	}

	slog.Info("image request created", "request_id", req.ID, "source_post_id", m.SourcePostID,
		"author", m.AuthorHandle)
	return req, true, nil
}

// --- generate_image ---

// RequestPayment performs the payment step: create the charge, record it, and
// reply with the payment link. Pieces already recorded on the request are skipped.
func (c *Coordinator) RequestPayment(ctx context.Context, id uuid.UUID, d queue.Delivery) error {
	log := slog.With("request_id", id, "delivery_id", d.ID, "attempt", d.Attempt)
	// A failure only applies while the request still waits for payment.
	awaiting := store.InStatus(models.StatusPendingPayment)

	req, err := c.store.GetImageRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("generate_image for unknown request, dropping")
		return nil
	}
	if err != nil {
		return c.handleFailure(ctx, id, awaiting, d.Attempt, "load request", errs.Transient(err))
	}
	if req.Status != models.StatusPendingPayment {
		log.Info("generate_image is stale, dropping", "status", req.Status)
		return nil
	}

	if !req.HasPaymentReference() {
		charge, err := c.payments.CreateCharge(ctx, ChargeRequest{
			RequestID:    req.ID,
			SourcePostID: req.SourcePostID,
			AmountCents:  c.cfg.AmountCents,
			Currency:     c.cfg.Currency,
			Description:  chargeDescription(req.Prompt),
		})
		if err != nil {
			return c.handleFailure(ctx, id, awaiting, d.Attempt, "create charge", err)
		}

		updated, err := c.store.UpdateImageRequest(ctx, id,
			store.Condition{Statuses: Sources(TriggerChargeCreated), ReferenceUnset: true},
			store.WithPayment(charge.Reference, charge.PayURL))
		if errors.Is(err, store.ErrPreconditionFailed) {
			log.Info("charge already recorded by another delivery")
			return nil
		}
		if errors.Is(err, store.ErrDuplicateKey) {
			return c.handleFailure(ctx, id, awaiting, d.Attempt, "record charge", ErrPaymentMismatch)
		}
		if err != nil {
			return c.handleFailure(ctx, id, awaiting, d.Attempt, "record charge", errs.Transient(err))
		}
		req = updated
		log.Info("charge created", "payment_reference", charge.Reference)
	}

	if req.PaymentReplyID != nil {
		log.Info("payment link already sent")
		return nil
	}

	postID, err := c.social.PostReply(ctx, Reply{
		InReplyTo: req.SourcePostID,
		Text:      paymentLinkText(req.AuthorHandle, deref(req.PaymentLinkURL), c.cfg.AmountCents, c.cfg.Currency),
	})
	if err != nil {
		return c.handleFailure(ctx, id, awaiting, d.Attempt, "post payment link", err)
	}

	// The reply is out. From here a failed write is logged, never retried by
	// redelivery, and never fails the request.
	_, err = c.persistAfterReply(ctx, id, store.InStatus(Sources(TriggerPaymentLinkSent)...),
		store.WithPaymentReplyID(postID))
	if err != nil && !errors.Is(err, store.ErrPreconditionFailed) {
		log.Error("recording payment link reply failed", "post_id", postID, "error", err)
	}

	log.Info("payment link sent", "post_id", postID)
	return nil
}

// --- Payment webhook ---

// ConfirmPayment applies a payment-succeeded event and enqueues fulfillment.
// Replays against a confirmed request re-enqueue fulfillment; replays against
// later statuses are no-ops. A failed request is never revived.
func (c *Coordinator) ConfirmPayment(ctx context.Context, ev PaymentEvent) error {
	for i := 0; i < conflictRetries; i++ {
		req, err := c.locate(ctx, ev)
		if err != nil {
			return err
		}
		log := slog.With("request_id", req.ID, "payment_reference", ev.Reference, "event_id", ev.EventID)

		switch req.Status {
		case models.StatusPendingPayment:
			_, err := c.store.UpdateImageRequest(ctx, req.ID,
				store.Condition{
					Statuses:         []models.RequestStatus{models.StatusPendingPayment},
					ReferenceMatches: &ev.Reference,
				},
				store.WithStatus(models.StatusPaymentConfirmed),
				store.WithPaymentReference(ev.Reference))
			if errors.Is(err, store.ErrPreconditionFailed) {
				continue
			}
			if errors.Is(err, store.ErrDuplicateKey) {
				return fmt.Errorf("%w: %s is recorded on another request", ErrPaymentMismatch, ev.Reference)
			}
			if err != nil {
				return retryable(errs.Wrap(err, "confirm payment"))
			}
			log.Info("payment confirmed")
			return c.enqueueFulfillment(ctx, req.ID, ev.Reference)

		case models.StatusPaymentConfirmed:
			log.Info("duplicate payment confirmation, re-enqueueing fulfillment")
			return c.enqueueFulfillment(ctx, req.ID, ev.Reference)

		case models.StatusFailed:
			log.Warn("payment succeeded for failed request, not applied")
			return nil

		default:
			log.Info("duplicate payment confirmation ignored", "status", req.Status)
			return nil
		}
	}

	slog.Warn("payment confirmation kept losing conditional updates", "payment_reference", ev.Reference)
	return retryable(errors.New("confirm payment: too many conflicting updates"))
}

// FailPayment applies a payment-failed event. Any non-terminal request is
// failed; terminal requests are left alone.
func (c *Coordinator) FailPayment(ctx context.Context, ev PaymentEvent) error {
	for i := 0; i < conflictRetries; i++ {
		req, err := c.locate(ctx, ev)
		if err != nil {
			return err
		}
		log := slog.With("request_id", req.ID, "payment_reference", ev.Reference, "event_id", ev.EventID)

		if _, ok := Next(req.Status, TriggerPaymentFailed); !ok {
			log.Info("payment failure for terminal request ignored", "status", req.Status)
			return nil
		}

		failed, err := c.store.UpdateImageRequest(ctx, req.ID,
			store.Condition{Statuses: Sources(TriggerPaymentFailed), ReferenceMatches: &ev.Reference},
			store.WithStatus(models.StatusFailed),
			store.WithPaymentReference(ev.Reference),
			store.WithFailureReason("payment failed"))
		if errors.Is(err, store.ErrPreconditionFailed) {
			continue
		}
		if errors.Is(err, store.ErrDuplicateKey) {
			return fmt.Errorf("%w: %s is recorded on another request", ErrPaymentMismatch, ev.Reference)
		}
		if err != nil {
			return retryable(errs.Wrap(err, "fail payment"))
		}

		log.Warn("payment failed, request failed")
		c.apologize(ctx, failed)
		return nil
	}

	return retryable(errors.New("fail payment: too many conflicting updates"))
}

// locate loads the request an event refers to and checks the event's
// reference against the one already recorded.
func (c *Coordinator) locate(ctx context.Context, ev PaymentEvent) (*models.ImageRequest, error) {
	if ev.Reference == "" {
		return nil, errors.New("payment event has no payment reference")
	}

	var (
		req *models.ImageRequest
		err error
	)
	if ev.RequestID != uuid.Nil {
		req, err = c.store.GetImageRequest(ctx, ev.RequestID)
	} else {
		req, err = c.store.GetImageRequestByPaymentReference(ctx, ev.Reference)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: reference %s", ErrRequestNotFound, ev.Reference)
	}
	if err != nil {
		return nil, retryable(errs.Wrap(err, "load request"))
	}

	if req.HasPaymentReference() && *req.PaymentReference != ev.Reference {
		return nil, fmt.Errorf("%w: request %s has %s, event has %s",
			ErrPaymentMismatch, req.ID, *req.PaymentReference, ev.Reference)
	}
	return req, nil
}

func (c *Coordinator) enqueueFulfillment(ctx context.Context, id uuid.UUID, ref string) error {
	if err := c.queue.Enqueue(ctx, queue.ReplyTweet{RequestID: id, PaymentReference: ref}); err != nil {
		return retryable(errs.Wrap(err, "enqueue reply_tweet"))
	}
	return nil
}

// --- reply_tweet ---

// Fulfill generates, uploads and posts the image for a paid request. The
// delivery that moves the request to generating records its id as the claim;
// only redeliveries of that same item may resume a generating request. Once
// the result reply is recorded a redelivery only completes the request.
func (c *Coordinator) Fulfill(ctx context.Context, id uuid.UUID, paymentRef string, d queue.Delivery) error {
	log := slog.With("request_id", id, "delivery_id", d.ID, "attempt", d.Attempt)
	// A failure applies before any claim or under this delivery's own claim.
	fulfilling := store.Condition{
		Statuses:     []models.RequestStatus{models.StatusPaymentConfirmed, models.StatusGenerating},
		ClaimMatches: &d.ID,
	}

	req, err := c.store.GetImageRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("reply_tweet for unknown request, dropping")
		return nil
	}
	if err != nil {
		return c.handleFailure(ctx, id, fulfilling, d.Attempt, "load request", errs.Transient(err))
	}

	if paymentRef != "" && req.HasPaymentReference() && *req.PaymentReference != paymentRef {
		log.Error("reply_tweet payment reference does not match request, dropping",
			"item_reference", paymentRef, "request_reference", *req.PaymentReference)
		return nil
	}

	switch req.Status {
	case models.StatusPaymentConfirmed:
		req, err = c.store.UpdateImageRequest(ctx, id, store.InStatus(Sources(TriggerStartFulfillment)...),
			store.WithStatus(models.StatusGenerating),
			store.WithFulfillmentClaim(d.ID))
		if errors.Is(err, store.ErrPreconditionFailed) {
			log.Info("fulfillment claimed by another delivery")
			return nil
		}
		if err != nil {
			return c.handleFailure(ctx, id, fulfilling, d.Attempt, "claim fulfillment", errs.Transient(err))
		}
	case models.StatusGenerating:
		if deref(req.FulfillmentClaim) != d.ID {
			log.Info("fulfillment already in progress, dropping duplicate")
			return nil
		}
		if req.ResultReplyID != nil {
			log.Info("result already posted, completing")
			return c.complete(ctx, log, req, d)
		}
		log.Info("resuming fulfillment")
	default:
		log.Info("reply_tweet is stale, dropping", "status", req.Status)
		return nil
	}

	img, err := c.synth.Generate(ctx, req.Prompt)
	if err != nil {
		return c.handleFailure(ctx, id, fulfilling, d.Attempt, "generate image", err)
	}

	url, err := c.objects.Upload(ctx, artifactKey(id, img.ContentType), img.Data, img.ContentType)
	if err != nil {
		return c.handleFailure(ctx, id, fulfilling, d.Attempt, "upload image", err)
	}

	postID, err := c.social.PostReply(ctx, Reply{
		InReplyTo: req.SourcePostID,
		Text:      resultText(req.Prompt),
		Media:     &Media{Data: img.Data, ContentType: img.ContentType},
	})
	if err != nil {
		return c.handleFailure(ctx, id, fulfilling, d.Attempt, "post result", err)
	}

	// The result is out. Nothing below may post it again or fail the request.
	req, err = c.persistAfterReply(ctx, id,
		store.Condition{Statuses: []models.RequestStatus{models.StatusGenerating}, Claim: &d.ID},
		store.WithResultReply(url, postID))
	if errors.Is(err, store.ErrPreconditionFailed) {
		log.Warn("request changed while fulfilling, result not recorded", "result_url", url, "post_id", postID)
		return nil
	}
	if err != nil {
		log.Error("recording result reply failed", "result_url", url, "post_id", postID, "error", err)
		return nil
	}
	return c.complete(ctx, log, req, d)
}

// complete moves a request with a recorded result reply to completed. A failed
// write is left to redelivery, which comes straight back here; after the last
// attempt the request stays generating for an operator to resolve.
func (c *Coordinator) complete(ctx context.Context, log *slog.Logger, req *models.ImageRequest, d queue.Delivery) error {
	_, err := c.persistAfterReply(ctx, req.ID,
		store.Condition{Statuses: Sources(TriggerFulfilled), Claim: &d.ID},
		store.WithStatus(models.StatusCompleted),
		store.WithResult(deref(req.ArtifactURL), deref(req.ResultReplyID)))
	if errors.Is(err, store.ErrPreconditionFailed) {
		log.Warn("request changed before completion", "status", req.Status)
		return nil
	}
	if err != nil {
		if d.Attempt < c.cfg.MaxAttempts {
			log.Warn("completing request failed, will retry", "error", err)
			return retryable(errs.Wrap(err, "complete request"))
		}
		log.Error("completing request failed, result already posted", "post_id", deref(req.ResultReplyID),
			"error", err)
		return nil
	}

	log.Info("image request completed", "result_url", deref(req.ArtifactURL), "post_id", deref(req.ResultReplyID))
	return nil
}

// artifactKey is deterministic per request so a retried upload overwrites.
func artifactKey(id uuid.UUID, contentType string) string {
	return fmt.Sprintf("generated-images/%s%s", id, extensionForMIME(contentType))
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

// --- Operator ---

// FailByOperator fails a non-terminal request on an operator's behalf. With
// notify set the author gets the apology reply, if they were already replied to.
func (c *Coordinator) FailByOperator(ctx context.Context, id uuid.UUID, reason string, notify bool) (*models.ImageRequest, error) {
	req, err := c.store.GetImageRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	if _, ok := Next(req.Status, TriggerOperatorFailed); !ok {
		return req, ErrTerminal
	}

	failed, err := c.store.UpdateImageRequest(ctx, id, store.InStatus(Sources(TriggerOperatorFailed)...),
		store.WithStatus(models.StatusFailed),
		store.WithFailureReason("operator: "+reason))
	if errors.Is(err, store.ErrPreconditionFailed) {
		return nil, ErrTerminal
	}
	if err != nil {
		return nil, fmt.Errorf("fail request: %w", err)
	}

	slog.Warn("image request failed by operator", "request_id", id, "reason", reason)
	if notify {
		c.apologize(ctx, failed)
	}
	return failed, nil
}

// --- Failure policy ---

// handleFailure decides between redelivery and terminal failure. Transient
// errors are retried until MaxAttempts; everything else fails the request and
// acknowledges the delivery. cond is the source state of the failing step, so
// a stale delivery can never fail a request that has moved on.
func (c *Coordinator) handleFailure(ctx context.Context, id uuid.UUID, cond store.Condition, attempt int, step string, err error) error {
	if errs.IsTransient(err) && attempt < c.cfg.MaxAttempts {
		slog.Warn("transient failure, will retry", "request_id", id, "step", step,
			"attempt", attempt, "error", err)
		return retryable(errs.Wrap(err, step))
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	reason := fmt.Sprintf("%s: %v", step, err)
	failed, uerr := c.store.UpdateImageRequest(ctx, id, cond,
		store.WithStatus(models.StatusFailed),
		store.WithFailureReason(reason))
	if errors.Is(uerr, store.ErrPreconditionFailed) || errors.Is(uerr, store.ErrNotFound) {
		slog.Info("request moved on, stale failure discarded", "request_id", id, "reason", reason)
		return nil
	}
	if uerr != nil {
		return retryable(errs.Wrap(uerr, "record failure"))
	}

	slog.Error("image request failed", "request_id", id, "step", step, "attempt", attempt, "error", err)
	c.apologize(ctx, failed)
	return nil
}

// persistAfterReply applies a bookkeeping write that follows a posted reply.
// It runs detached from ctx and retries briefly.
func (c *Coordinator) persistAfterReply(ctx context.Context, id uuid.UUID, cond store.Condition, opts ...store.UpdateOption) (*models.ImageRequest, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	var err error
	for i := 0; i < conflictRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, err
			case <-time.After(time.Duration(i) * replyWriteBackoff):
			}
		}
		var req *models.ImageRequest
		req, err = c.store.UpdateImageRequest(ctx, id, cond, opts...)
		if err == nil || errors.Is(err, store.ErrPreconditionFailed) || errors.Is(err, store.ErrNotFound) {
			return req, err
		}
	}
	return nil, err
}

// apologize posts one best-effort apology when the author has already been
// replied to and never got a result. Its failure is logged only.
func (c *Coordinator) apologize(ctx context.Context, req *models.ImageRequest) {
	if req.PaymentReplyID == nil || req.ResultReplyID != nil {
		return
	}
	postID, err := c.social.PostReply(ctx, Reply{
		InReplyTo: req.SourcePostID,
		Text:      apologyText(req.AuthorHandle),
	})
	if err != nil {
		slog.Warn("apology reply failed", "request_id", req.ID, "error", err)
		return
	}
	slog.Info("apology sent", "request_id", req.ID, "post_id", postID)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
