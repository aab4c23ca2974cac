package failover

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakpos/qbolink/internal/domain/model"
	"github.com/oakpos/qbolink/internal/domain/port/driven"
)

// memStore is an in-memory CredentialStore that can be forced to fail.
type memStore struct {
	creds   map[string]model.Credential
	failAll error
	saves   int
	loads   int
}

func newMemStore() *memStore {
	return &memStore{creds: map[string]model.Credential{}}
}

func (m *memStore) Save(_ context.Context, cred model.Credential) error {
	m.saves++
	if m.failAll != nil {
		return m.failAll
	}
	m.creds[cred.RealmID] = cred
	return nil
}

func (m *memStore) Load(_ context.Context, realmID string) (model.Credential, error) {
	m.loads++
	if m.failAll != nil {
		return model.Credential{}, m.failAll
	}
	cred, ok := m.creds[realmID]
	if !ok {
		return model.Credential{}, driven.ErrCredentialNotFound
	}
	return cred, nil
}

func testCredential(realm string) model.Credential {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return model.Credential{
		RealmID:      realm,
		AccessToken:  "at-" + realm,
		RefreshToken: "rt-" + realm,
		TokenType:    "bearer",
		ExpiresAt:    now.Add(time.Hour),
		Raw:          json.RawMessage(`{"expires_in":3600}`),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestStore_PrimaryServesWhenHealthy(t *testing.T) {
	primary := newMemStore()
	fallback := newMemStore()
	store := NewStore(primary, fallback, discardLogger())
	ctx := context.Background()

	want := testCredential("realm-1")
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx, "realm-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Fallback was never touched while the primary is healthy.
	assert.Zero(t, fallback.saves)
	assert.Zero(t, fallback.loads)
}

func TestStore_FallsBackWhenPrimaryDown(t *testing.T) {
	primary := newMemStore()
	primary.failAll = errors.New("connection refused")
	fallback := newMemStore()
	store := NewStore(primary, fallback, discardLogger())
	ctx := context.Background()

	want := testCredential("realm-1")
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx, "realm-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_NoPrimaryConfigured(t *testing.T) {
	fallback := newMemStore()
	store := NewStore(nil, fallback, discardLogger())
	ctx := context.Background()

	want := testCredential("realm-1")
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx, "realm-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_BothBackendsDown(t *testing.T) {
	primary := newMemStore()
	primary.failAll = errors.New("connection refused")
	fallback := newMemStore()
	fallback.failAll = errors.New("read-only filesystem")
	store := NewStore(primary, fallback, discardLogger())
	ctx := context.Background()

	err := store.Save(ctx, testCredential("realm-1"))
	assert.ErrorIs(t, err, driven.ErrStorageUnavailable)

	_, err = store.Load(ctx, "realm-1")
	assert.ErrorIs(t, err, driven.ErrStorageUnavailable)
}

func TestStore_LoadConsultsFallbackOnPrimaryMiss(t *testing.T) {
	// A record saved while the primary was down must stay reachable after
	// the primary recovers.
	primary := newMemStore()
	primary.failAll = errors.New("connection refused")
	fallback := newMemStore()
	store := NewStore(primary, fallback, discardLogger())
	ctx := context.Background()

	want := testCredential("realm-1")
	require.NoError(t, store.Save(ctx, want))

	primary.failAll = nil // primary recovers, but has no record

	got, err := store.Load(ctx, "realm-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_LoadNotFoundWhenBothEmpty(t *testing.T) {
	store := NewStore(newMemStore(), newMemStore(), discardLogger())

	_, err := store.Load(context.Background(), "realm-1")
	assert.ErrorIs(t, err, driven.ErrCredentialNotFound)
}

func TestStore_PrimaryCorruptRecordSurfaces(t *testing.T) {
	primary := newMemStore()
	primary.failAll = driven.ErrCorruptRecord
	fallback := newMemStore()
	require.NoError(t, fallback.Save(context.Background(), testCredential("realm-1")))

	store := NewStore(primary, fallback, discardLogger())

	// Corrupt data is surfaced, never papered over with a fallback read.
	_, err := store.Load(context.Background(), "realm-1")
	assert.ErrorIs(t, err, driven.ErrCorruptRecord)
}

func TestStore_PrimaryDownFallbackEmpty(t *testing.T) {
	primary := newMemStore()
	require.NoError(t, primary.Save(context.Background(), testCredential("realm-1")))
	primary.failAll = errors.New("connection refused")

	store := NewStore(primary, newMemStore(), discardLogger())

	// The record may still exist on the unreachable primary, so this is a
	// storage outage rather than a clean not-found.
	_, err := store.Load(context.Background(), "realm-1")
	assert.ErrorIs(t, err, driven.ErrStorageUnavailable)
}
