package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/twimagine/internal/api/middleware"
	"github.com/kiranshivaraju/twimagine/internal/store/storetest"
	"github.com/kiranshivaraju/twimagine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- helpers ---

func testApp(st *storetest.MemoryStore) *app {
	return &app{
		openStore: func(context.Context) (ctlStore, func(), error) {
			return st, func() {}, nil
		},
		migrateUp: func() error { return nil },
		version:   func() (uint, bool, error) { return 3, false, nil },
	}
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(a)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func keyFromOutput(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "key:"); ok {
			return strings.TrimSpace(v)
		}
	}
	t.Fatalf("no key in output:\n%s", out)
	return ""
}

// --- keys ---

func TestKeysCreate(t *testing.T) {
	st := storetest.New()

	out, err := execute(t, testApp(st), "keys", "create", "ops", "--scope", "read,admin")
	require.NoError(t, err)

	raw := keyFromOutput(t, out)
	assert.True(t, strings.HasPrefix(raw, keyPrefix))
	assert.Len(t, raw, len(keyPrefix)+32)

	keys, err := st.GetAPIKeyByPrefix(context.Background(), raw[:mw.KeyPrefixLen])
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ops", keys[0].Name)
	assert.Equal(t, []string{models.ScopeRead, models.ScopeAdmin}, keys[0].Scopes)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(keys[0].KeyHash), []byte(raw)))
}

func TestKeysCreate_DefaultsToRead(t *testing.T) {
	st := storetest.New()

	_, err := execute(t, testApp(st), "keys", "create", "dashboard")
	require.NoError(t, err)

	keys, err := st.ListAPIKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, []string{models.ScopeRead}, keys[0].Scopes)
}

func TestKeysCreate_UnknownScope(t *testing.T) {
	st := storetest.New()

	_, err := execute(t, testApp(st), "keys", "create", "ops", "--scope", "root")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scope")

	keys, _ := st.ListAPIKeys(context.Background())
	assert.Empty(t, keys)
}

func TestKeysListAndRevoke(t *testing.T) {
	st := storetest.New()
	a := testApp(st)

	_, err := execute(t, a, "keys", "create", "first")
	require.NoError(t, err)
	keys, err := st.ListAPIKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	id := keys[0].ID

	out, err := execute(t, a, "keys", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id.String())
	assert.Contains(t, out, "first")
	assert.Contains(t, out, "never")

	out, err = execute(t, a, "keys", "revoke", id.String())
	require.NoError(t, err)
	assert.Contains(t, out, "revoked")

	_, err = execute(t, a, "keys", "revoke", id.String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	out, err = execute(t, a, "keys", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, id.String())
}

func TestKeysRevoke_BadID(t *testing.T) {
	_, err := execute(t, testApp(storetest.New()), "keys", "revoke", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UUID")
}

// --- requests ---

func seed(t *testing.T, st *storetest.MemoryStore, post string) *models.ImageRequest {
	t.Helper()
	now := time.Now().UTC()
	req := &models.ImageRequest{
		ID:           uuid.New(),
		SourcePostID: post,
		AuthorID:     "42",
		AuthorHandle: "alice",
		Prompt:       "an owl reading a newspaper",
		Status:       models.StatusPendingPayment,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.CreateImageRequest(context.Background(), req))
	return req
}

func TestRequestsList(t *testing.T) {
	st := storetest.New()
	first := seed(t, st, "100")
	second := seed(t, st, "101")

	out, err := execute(t, testApp(st), "requests", "list", "--status", "pending_payment")
	require.NoError(t, err)
	assert.Contains(t, out, first.ID.String())
	assert.Contains(t, out, second.ID.String())
	assert.Contains(t, out, "2 of 2")

	_, err = execute(t, testApp(st), "requests", "list", "--status", "lost")
	require.Error(t, err)
}

func TestRequestsShow(t *testing.T) {
	st := storetest.New()
	req := seed(t, st, "200")

	out, err := execute(t, testApp(st), "requests", "show", req.ID.String())
	require.NoError(t, err)

	var got models.ImageRequest
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, "200", got.SourcePostID)

	_, err = execute(t, testApp(st), "requests", "show", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// --- migrate ---

func TestMigrate(t *testing.T) {
	applied := false
	a := testApp(storetest.New())
	a.migrateUp = func() error { applied = true; return nil }

	out, err := execute(t, a, "migrate")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "schema version 3\n", out)
}

func TestMigrate_Error(t *testing.T) {
	a := testApp(storetest.New())
	a.migrateUp = func() error { return errors.New("apply migrations: boom") }

	_, err := execute(t, a, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestMigrateVersion_Dirty(t *testing.T) {
	a := testApp(storetest.New())
	a.version = func() (uint, bool, error) { return 2, true, nil }

	out, err := execute(t, a, "migrate", "version")
	require.NoError(t, err)
	assert.Equal(t, "schema version 2 (dirty)\n", out)
}

func TestStoreOpenError(t *testing.T) {
	a := testApp(storetest.New())
	a.openStore = func(context.Context) (ctlStore, func(), error) {
		return nil, nil, errors.New("DATABASE_URL is required")
	}

	_, err := execute(t, a, "keys", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
