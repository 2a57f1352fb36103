package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/twimagine/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Image Requests ---

const requestColumns = `id, source_post_id, author_id, author_handle, prompt, status,
	payment_reference, payment_link_url, payment_reply_id, result_url, result_reply_id,
	artifact_url, fulfillment_claim, failure_reason, created_at, updated_at`

func scanRequest(row pgx.Row) (*models.ImageRequest, error) {
	var r models.ImageRequest
	err := row.Scan(&r.ID, &r.SourcePostID, &r.AuthorID, &r.AuthorHandle, &r.Prompt, &r.Status,
		&r.PaymentReference, &r.PaymentLinkURL, &r.PaymentReplyID, &r.ResultURL, &r.ResultReplyID,
		&r.ArtifactURL, &r.FulfillmentClaim, &r.FailureReason, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateImageRequest(ctx context.Context, req *models.ImageRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO image_requests (id, source_post_id, author_id, author_handle, prompt, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.SourcePostID, req.AuthorID, req.AuthorHandle, req.Prompt, req.Status,
		req.CreatedAt, req.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create image request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetImageRequest(ctx context.Context, id uuid.UUID) (*models.ImageRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM image_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetImageRequestBySourcePost(ctx context.Context, sourcePostID string) (*models.ImageRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM image_requests WHERE source_post_id = $1`, sourcePostID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image request by source post: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) GetImageRequestByPaymentReference(ctx context.Context, ref string) (*models.ImageRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM image_requests WHERE payment_reference = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image request by payment reference: %w", err)
	}
	return r, nil
}

// UpdateImageRequest applies opts in a single conditional UPDATE and returns
// the row as written. If the row exists but cond does not hold, it returns
// ErrPreconditionFailed and nothing is written.
func (s *PostgresStore) UpdateImageRequest(ctx context.Context, id uuid.UUID, cond Condition, opts ...UpdateOption) (*models.ImageRequest, error) {
	if len(cond.Statuses) == 0 {
		return nil, fmt.Errorf("update image request: condition has no statuses")
	}
	params := NewUpdateParams(opts...)

	set := []string{"updated_at = GREATEST(updated_at, $2)"}
	args := []any{id, s.now()}
	argIdx := 3

	addSet := func(expr string, v any) {
		set = append(set, fmt.Sprintf(expr, argIdx))
		args = append(args, v)
		argIdx++
	}

	if params.Status != nil {
		addSet("status = $%d", *params.Status)
	}
	if params.PaymentReference != nil {
		addSet("payment_reference = COALESCE(payment_reference, $%d)", *params.PaymentReference)
	}
	if params.PaymentLinkURL != nil {
		addSet("payment_link_url = COALESCE(payment_link_url, $%d)", *params.PaymentLinkURL)
	}
	if params.PaymentReplyID != nil {
		addSet("payment_reply_id = $%d", *params.PaymentReplyID)
	}
	if params.ResultURL != nil {
		addSet("result_url = $%d", *params.ResultURL)
	}
	if params.ResultReplyID != nil {
		addSet("result_reply_id = $%d", *params.ResultReplyID)
	}
	if params.ArtifactURL != nil {
		addSet("artifact_url = $%d", *params.ArtifactURL)
	}
	if params.FulfillmentClaim != nil {
		addSet("fulfillment_claim = $%d", *params.FulfillmentClaim)
	}
	if params.FailureReason != nil {
		addSet("failure_reason = $%d", *params.FailureReason)
	}

	statuses := make([]string, len(cond.Statuses))
	for i, st := range cond.Statuses {
		statuses[i] = string(st)
	}
	where := []string{"id = $1", fmt.Sprintf("status = ANY($%d)", argIdx)}
	args = append(args, statuses)
	argIdx++

	if cond.ReferenceUnset {
		where = append(where, "payment_reference IS NULL")
	}
	if cond.ReferenceMatches != nil {
		where = append(where, fmt.Sprintf("(payment_reference IS NULL OR payment_reference = $%d)", argIdx))
		args = append(args, *cond.ReferenceMatches)
		argIdx++
	}
	if cond.Claim != nil {
		where = append(where, fmt.Sprintf("fulfillment_claim = $%d", argIdx))
		args = append(args, *cond.Claim)
		argIdx++
	}
	if cond.ClaimMatches != nil {
		where = append(where, fmt.Sprintf("(fulfillment_claim IS NULL OR fulfillment_claim = $%d)", argIdx))
		args = append(args, *cond.ClaimMatches)
	}

	query := fmt.Sprintf(`UPDATE image_requests SET %s WHERE %s RETURNING %s`,
		strings.Join(set, ", "), strings.Join(where, " AND "), requestColumns)

	r, err := scanRequest(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM image_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check image request: %w", err)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrPreconditionFailed
	}
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("update image request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListImageRequests(ctx context.Context, filter RequestFilter) ([]*models.ImageRequest, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", argIdx))
		args = append(args, filter.Since)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM image_requests WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count image requests: %w", err)
	}

	limit, offset := normalizePage(filter.Page, filter.Limit)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM image_requests WHERE %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`,
		requestColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list image requests: %w", err)
	}
	defer rows.Close()

	var reqs []*models.ImageRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan image request: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, total, rows.Err()
}

// normalizePage clamps pagination to 1..100 items per page.
func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

// --- Webhook Events ---

// BeginWebhookEvent records the event if it is new and reports whether an
// earlier delivery already finished processing it.
func (s *PostgresStore) BeginWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (provider, event_id, event_type, payment_reference, request_id, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (provider, event_id) DO NOTHING`,
		event.Provider, event.EventID, event.EventType, event.PaymentReference, event.RequestID, event.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}

	var processedAt *time.Time
	err = s.pool.QueryRow(ctx,
		`SELECT processed_at FROM webhook_events WHERE provider = $1 AND event_id = $2`,
		event.Provider, event.EventID).Scan(&processedAt)
	if err != nil {
		return false, fmt.Errorf("get webhook event: %w", err)
	}
	return processedAt != nil, nil
}

func (s *PostgresStore) CompleteWebhookEvent(ctx context.Context, provider, eventID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_events SET processed_at = COALESCE(processed_at, $3)
		 WHERE provider = $1 AND event_id = $2`, provider, eventID, s.now())
	if err != nil {
		return fmt.Errorf("complete webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
