// Package storetest provides an in-memory store.Store with the same
// conditional update semantics as the Postgres implementation.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/twimagine/internal/store"
	"github.com/kiranshivaraju/twimagine/pkg/models"
)

// MemoryStore is safe for concurrent use. Every returned record is a copy.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.ImageRequest
	events   map[string]*models.WebhookEvent
	keys     map[uuid.UUID]*models.APIKey

	// Now supplies timestamps for updates. Defaults to time.Now.
	Now func() time.Time

	// UpdateErr, when set, is consulted before every UpdateImageRequest. A
	// non-nil result is returned without touching the record.
	UpdateErr func(id uuid.UUID, p *store.UpdateParams) error
	// GetErr, when set, is consulted before every single-record lookup.
	GetErr func() error

	updates int
}

var _ store.Store = (*MemoryStore)(nil)

// New creates an empty MemoryStore.
func New() *MemoryStore {
	return &MemoryStore{
		requests: make(map[uuid.UUID]*models.ImageRequest),
		events:   make(map[string]*models.WebhookEvent),
		keys:     make(map[uuid.UUID]*models.APIKey),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Updates returns the number of successful conditional updates.
func (m *MemoryStore) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func copyRequest(r *models.ImageRequest) *models.ImageRequest {
	c := *r
	return &c
}

func (m *MemoryStore) CreateImageRequest(ctx context.Context, req *models.ImageRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[req.ID]; ok {
		return store.ErrDuplicateKey
	}
	for _, r := range m.requests {
		if r.SourcePostID == req.SourcePostID {
			return store.ErrDuplicateKey
		}
	}
	m.requests[req.ID] = copyRequest(req)
	return nil
}

func (m *MemoryStore) lookupErr() error {
	if m.GetErr != nil {
		return m.GetErr()
	}
	return nil
}

func (m *MemoryStore) GetImageRequest(ctx context.Context, id uuid.UUID) (*models.ImageRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.lookupErr(); err != nil {
		return nil, err
	}
	r, ok := m.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyRequest(r), nil
}

func (m *MemoryStore) GetImageRequestBySourcePost(ctx context.Context, sourcePostID string) (*models.ImageRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.lookupErr(); err != nil {
		return nil, err
	}
	for _, r := range m.requests {
		if r.SourcePostID == sourcePostID {
			return copyRequest(r), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemoryStore) GetImageRequestByPaymentReference(ctx context.Context, ref string) (*models.ImageRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.lookupErr(); err != nil {
		return nil, err
	}
	for _, r := range m.requests {
		if r.PaymentReference != nil && *r.PaymentReference == ref {
			return copyRequest(r), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MemoryStore) UpdateImageRequest(ctx context.Context, id uuid.UUID, cond store.Condition, opts ...store.UpdateOption) (*models.ImageRequest, error) {
	params := store.NewUpdateParams(opts...)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateErr != nil {
		if err := m.UpdateErr(id, params); err != nil {
			return nil, err
		}
	}

	r, ok := m.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !cond.Allows(r) {
		return nil, store.ErrPreconditionFailed
	}
	if params.PaymentReference != nil && r.PaymentReference == nil {
		for otherID, other := range m.requests {
			if otherID != id && other.PaymentReference != nil && *other.PaymentReference == *params.PaymentReference {
				return nil, store.ErrDuplicateKey
			}
		}
	}

	params.Apply(r, m.Now())
	m.updates++
	return copyRequest(r), nil
}

func (m *MemoryStore) ListImageRequests(ctx context.Context, filter store.RequestFilter) ([]*models.ImageRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.ImageRequest
	for _, r := range m.requests {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && r.UpdatedAt.Before(filter.Since) {
			continue
		}
		matched = append(matched, copyRequest(r))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(matched) {
		return []*models.ImageRequest{}, len(matched), nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func eventKey(provider, eventID string) string {
	return provider + "/" + eventID
}

func (m *MemoryStore) BeginWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey(event.Provider, event.EventID)
	if existing, ok := m.events[key]; ok {
		return existing.ProcessedAt != nil, nil
	}
	e := *event
	m.events[key] = &e
	return false, nil
}

// WebhookEvent returns a copy of a recorded ledger row.
func (m *MemoryStore) WebhookEvent(provider, eventID string) (*models.WebhookEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventKey(provider, eventID)]
	if !ok {
		return nil, false
	}
	out := *e
	return &out, true
}

func (m *MemoryStore) CompleteWebhookEvent(ctx context.Context, provider, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.events[eventKey(provider, eventID)]
	if !ok {
		return store.ErrNotFound
	}
	if e.ProcessedAt == nil {
		now := m.Now()
		e.ProcessedAt = &now
	}
	return nil
}

func (m *MemoryStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			keys = append(keys, &c)
		}
	}
	return keys, nil
}

func (m *MemoryStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k, ok := m.keys[id]; ok {
		now := m.Now()
		k.LastUsedAt = &now
	}
	return nil
}

func (m *MemoryStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	c := *key
	m.keys[key.ID] = &c
	return nil
}

func (m *MemoryStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []*models.APIKey
	for _, k := range m.keys {
		if k.DeletedAt == nil {
			c := *k
			keys = append(keys, &c)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (m *MemoryStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.keys[id]
	if !ok || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := m.Now()
	k.DeletedAt = &now
	return nil
}
