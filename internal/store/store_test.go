package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/twimagine/internal/store"
	"github.com/kiranshivaraju/twimagine/internal/store/storetest"
	"github.com/kiranshivaraju/twimagine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("twimagine_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	version, dirty, err := store.MigrationVersion(connStr, migrationsDir())
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
	assert.False(t, dirty)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newRequest(sourcePostID string) *models.ImageRequest {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.ImageRequest{
		ID:           uuid.New(),
		SourcePostID: sourcePostID,
		AuthorID:     "author-1",
		AuthorHandle: "alice",
		Prompt:       "a lighthouse at dusk",
		Status:       models.StatusPendingPayment,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func strPtr(s string) *string { return &s }

// --- shared behaviour ---

// storeFactories lists every Store implementation the behaviour tests run against.
func storeFactories(t *testing.T) map[string]func(t *testing.T) store.Store {
	t.Helper()
	factories := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return storetest.New() },
	}
	if !testing.Short() {
		factories["postgres"] = func(t *testing.T) store.Store {
			return store.NewPostgresStore(setupTestDB(t))
		}
	}
	return factories
}

func TestImageRequest_CreateAndGet(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			req := newRequest("post-1")
			require.NoError(t, s.CreateImageRequest(ctx, req))

			got, err := s.GetImageRequest(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, req.SourcePostID, got.SourcePostID)
			assert.Equal(t, models.StatusPendingPayment, got.Status)
			assert.Nil(t, got.PaymentReference)

			bySource, err := s.GetImageRequestBySourcePost(ctx, "post-1")
			require.NoError(t, err)
			assert.Equal(t, req.ID, bySource.ID)
		})
	}
}

func TestImageRequest_NotFound(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			_, err := s.GetImageRequest(ctx, uuid.New())
			assert.ErrorIs(t, err, store.ErrNotFound)

			_, err = s.GetImageRequestBySourcePost(ctx, "missing")
			assert.ErrorIs(t, err, store.ErrNotFound)

			_, err = s.GetImageRequestByPaymentReference(ctx, "pi_missing")
			assert.ErrorIs(t, err, store.ErrNotFound)

			_, err = s.UpdateImageRequest(ctx, uuid.New(), store.InStatus(models.StatusPendingPayment),
				store.WithStatus(models.StatusFailed))
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestImageRequest_DuplicateSourcePost(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			require.NoError(t, s.CreateImageRequest(ctx, newRequest("post-dup")))
			err := s.CreateImageRequest(ctx, newRequest("post-dup"))
			assert.ErrorIs(t, err, store.ErrDuplicateKey)
		})
	}
}

func TestImageRequest_ConditionalUpdate(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			req := newRequest("post-cond")
			require.NoError(t, s.CreateImageRequest(ctx, req))

			updated, err := s.UpdateImageRequest(ctx, req.ID,
				store.Condition{Statuses: []models.RequestStatus{models.StatusPendingPayment}, ReferenceUnset: true},
				store.WithPayment("pi_1", "https://pay.example/1"))
			require.NoError(t, err)
			require.NotNil(t, updated.PaymentReference)
			assert.Equal(t, "pi_1", *updated.PaymentReference)
			assert.Equal(t, models.StatusPendingPayment, updated.Status)

			// Reference already set: the strict condition no longer holds.
			_, err = s.UpdateImageRequest(ctx, req.ID,
				store.Condition{Statuses: []models.RequestStatus{models.StatusPendingPayment}, ReferenceUnset: true},
				store.WithPayment("pi_2", "https://pay.example/2"))
			assert.ErrorIs(t, err, store.ErrPreconditionFailed)

			// A different reference never matches.
			_, err = s.UpdateImageRequest(ctx, req.ID,
				store.Condition{Statuses: []models.RequestStatus{models.StatusPendingPayment}, ReferenceMatches: strPtr("pi_other")},
				store.WithStatus(models.StatusPaymentConfirmed))
			assert.ErrorIs(t, err, store.ErrPreconditionFailed)

			confirmed, err := s.UpdateImageRequest(ctx, req.ID,
				store.Condition{Statuses: []models.RequestStatus{models.StatusPendingPayment}, ReferenceMatches: strPtr("pi_1")},
				store.WithStatus(models.StatusPaymentConfirmed), store.WithPaymentReference("pi_1"))
			require.NoError(t, err)
			assert.Equal(t, models.StatusPaymentConfirmed, confirmed.Status)
			assert.Equal(t, "https://pay.example/1", *confirmed.PaymentLinkURL)
			assert.False(t, confirmed.UpdatedAt.Before(updated.UpdatedAt))

			// Wrong source status.
			_, err = s.UpdateImageRequest(ctx, req.ID, store.InStatus(models.StatusPendingPayment),
				store.WithStatus(models.StatusFailed))
			assert.ErrorIs(t, err, store.ErrPreconditionFailed)

			byRef, err := s.GetImageRequestByPaymentReference(ctx, "pi_1")
			require.NoError(t, err)
			assert.Equal(t, req.ID, byRef.ID)
		})
	}
}

func TestImageRequest_ClaimCondition(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			req := newRequest("post-claim")
			require.NoError(t, s.CreateImageRequest(ctx, req))
			_, err := s.UpdateImageRequest(ctx, req.ID, store.InStatus(models.StatusPendingPayment),
				store.WithStatus(models.StatusPaymentConfirmed), store.WithPayment("pi_claim", "https://pay.example/c"))
			require.NoError(t, err)

			// No claim yet: any claimant matches.
			_, err = s.UpdateImageRequest(ctx, req.ID,
				store.Condition{Statuses: []models.RequestStatus{models.StatusPaymentConfirmed}, ClaimMatches: strPtr("msg-2")},
				store.WithPaymentReplyID("reply-pay"))
			require.NoError(t, err)

			_, err = s.UpdateImageRequest(ctx, req.ID, store.InStatus(models.StatusPaymentConfirmed),
				store.WithStatus(models.StatusGenerating), store.WithFulfillmentClaim("msg-1"))
			require.NoError(t, err)

			_, err = s.UpdateImageRequest(ctx, req.ID,
				store.Condition{Statuses: []models.RequestStatus{models.StatusGenerating}, ClaimMatches: strPtr("msg-2")},
				store.WithStatus(models.StatusFailed))
			assert.ErrorIs(t, err, store.ErrPreconditionFailed)

			marked, err := s.UpdateImageRequest(ctx, req.ID,
				store.Condition{Statuses: []models.RequestStatus{models.StatusGenerating}, Claim: strPtr("msg-1")},
				store.WithResultReply("https://img/x.png", "reply-1"))
			require.NoError(t, err)
			assert.Equal(t, models.StatusGenerating, marked.Status)
			assert.Equal(t, strPtr("https://img/x.png"), marked.ArtifactURL)
			assert.Nil(t, marked.ResultURL)

			_, err = s.UpdateImageRequest(ctx, req.ID,
				store.Condition{Statuses: []models.RequestStatus{models.StatusGenerating}, Claim: strPtr("msg-2")},
				store.WithStatus(models.StatusCompleted), store.WithResult("https://img/x.png", "reply-1"))
			assert.ErrorIs(t, err, store.ErrPreconditionFailed)

			done, err := s.UpdateImageRequest(ctx, req.ID,
				store.Condition{Statuses: []models.RequestStatus{models.StatusGenerating}, Claim: strPtr("msg-1")},
				store.WithStatus(models.StatusCompleted), store.WithResult("https://img/x.png", "reply-1"))
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, done.Status)
			assert.Equal(t, "https://img/x.png", *done.ResultURL)
			assert.Equal(t, "reply-1", *done.ResultReplyID)
		})
	}
}

func TestImageRequest_ConcurrentTransitionHasOneWinner(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			req := newRequest("post-race")
			require.NoError(t, s.CreateImageRequest(ctx, req))

			const workers = 8
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.UpdateImageRequest(ctx, req.ID, store.InStatus(models.StatusPendingPayment),
						store.WithStatus(models.StatusFailed), store.WithFailureReason("race"))
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
						return
					}
					assert.ErrorIs(t, err, store.ErrPreconditionFailed)
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})
	}
}

func TestImageRequest_List(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				require.NoError(t, s.CreateImageRequest(ctx, newRequest(uuid.NewString())))
			}
			failed := newRequest("post-failed")
			require.NoError(t, s.CreateImageRequest(ctx, failed))
			_, err := s.UpdateImageRequest(ctx, failed.ID, store.InStatus(models.StatusPendingPayment),
				store.WithStatus(models.StatusFailed))
			require.NoError(t, err)

			all, total, err := s.ListImageRequests(ctx, store.RequestFilter{})
			require.NoError(t, err)
			assert.Equal(t, 4, total)
			assert.Len(t, all, 4)

			onlyFailed, total, err := s.ListImageRequests(ctx, store.RequestFilter{Status: models.StatusFailed})
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			require.Len(t, onlyFailed, 1)
			assert.Equal(t, failed.ID, onlyFailed[0].ID)

			page, total, err := s.ListImageRequests(ctx, store.RequestFilter{Page: 2, Limit: 3})
			require.NoError(t, err)
			assert.Equal(t, 4, total)
			assert.Len(t, page, 1)
		})
	}
}

func TestWebhookEvent_Ledger(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			requestID := uuid.New()
			ev := &models.WebhookEvent{
				Provider:         "stripe",
				EventID:          "evt_1",
				EventType:        "payment_intent.succeeded",
				PaymentReference: strPtr("pi_1"),
				RequestID:        &requestID,
				ReceivedAt:       time.Now().UTC(),
			}

			done, err := s.BeginWebhookEvent(ctx, ev)
			require.NoError(t, err)
			assert.False(t, done)

			// Redelivered before completion: still not processed.
			done, err = s.BeginWebhookEvent(ctx, ev)
			require.NoError(t, err)
			assert.False(t, done)

			require.NoError(t, s.CompleteWebhookEvent(ctx, "stripe", "evt_1"))

			done, err = s.BeginWebhookEvent(ctx, ev)
			require.NoError(t, err)
			assert.True(t, done)

			assert.ErrorIs(t, s.CompleteWebhookEvent(ctx, "stripe", "evt_missing"), store.ErrNotFound)
		})
	}
}

// --- API Key Tests ---

func TestAPIKey_Lifecycle(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Microsecond)

			key := &models.APIKey{
				ID:        uuid.New(),
				Name:      "ops",
				KeyHash:   "bcrypt-hash-here",
				KeyPrefix: "tw_abcd1",
				Scopes:    []string{models.ScopeRead},
				CreatedAt: now,
				UpdatedAt: now,
			}
			require.NoError(t, s.CreateAPIKey(ctx, key))
			assert.ErrorIs(t, s.CreateAPIKey(ctx, key), store.ErrDuplicateKey)

			keys, err := s.GetAPIKeyByPrefix(ctx, "tw_abcd1")
			require.NoError(t, err)
			require.Len(t, keys, 1)
			assert.Equal(t, key.ID, keys[0].ID)

			require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
			keys, err = s.GetAPIKeyByPrefix(ctx, "tw_abcd1")
			require.NoError(t, err)
			require.Len(t, keys, 1)
			assert.NotNil(t, keys[0].LastUsedAt)

			listed, err := s.ListAPIKeys(ctx)
			require.NoError(t, err)
			assert.Len(t, listed, 1)

			require.NoError(t, s.RevokeAPIKey(ctx, key.ID))
			assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)

			keys, err = s.GetAPIKeyByPrefix(ctx, "tw_abcd1")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
