package sqlstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakpos/qbolink/internal/domain/model"
	"github.com/oakpos/qbolink/internal/domain/port/driven"
)

func testCredential(realm string) model.Credential {
	now := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	return model.Credential{
		RealmID:      realm,
		AccessToken:  "at-" + realm,
		RefreshToken: "rt-" + realm,
		TokenType:    "bearer",
		ExpiresAt:    now.Add(time.Hour),
		Raw:          json.RawMessage(`{"access_token":"at-` + realm + `","expires_in":3600}`),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestCredentialRepo_SaveAndLoad(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	want := testCredential("9130347')")
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.Load(ctx, want.RealmID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCredentialRepo_LoadMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)

	_, err := repo.Load(context.Background(), "no-such-realm")
	assert.ErrorIs(t, err, driven.ErrCredentialNotFound)
}

func TestCredentialRepo_SaveReplacesActiveRecord(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	first := testCredential("realm-1")
	require.NoError(t, repo.Save(ctx, first))

	second := first
	second.AccessToken = "at-rotated"
	second.RefreshToken = "rt-rotated"
	second.UpdatedAt = first.UpdatedAt.Add(time.Minute)
	require.NoError(t, repo.Save(ctx, second))

	got, err := repo.Load(ctx, "realm-1")
	require.NoError(t, err)
	assert.Equal(t, second, got)

	// Exactly one row survives per realm.
	var count int
	err = db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM credentials WHERE realm_id = ?`, "realm-1").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCredentialRepo_SaveIsScopedToRealm(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	a := testCredential("realm-a")
	b := testCredential("realm-b")
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, repo.Save(ctx, b))

	rotated := a
	rotated.AccessToken = "at-rotated"
	require.NoError(t, repo.Save(ctx, rotated))

	gotB, err := repo.Load(ctx, "realm-b")
	require.NoError(t, err)
	assert.Equal(t, b, gotB)
}

func TestCredentialRepo_LoadCorruptTimestamp(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	_, err := db.Writer.ExecContext(ctx, `
		INSERT INTO credentials (realm_id, access_token, refresh_token, token_type, expires_at, raw, created_at, updated_at)
		VALUES ('realm-x', 'at', 'rt', 'bearer', 'not-a-time', '', 'not-a-time', 'not-a-time')`)
	require.NoError(t, err)

	_, err = repo.Load(ctx, "realm-x")
	assert.ErrorIs(t, err, driven.ErrCorruptRecord)
}

func TestCredentialRepo_LoadEmptyTokens(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	_, err := db.Writer.ExecContext(ctx, `
		INSERT INTO credentials (realm_id, access_token, refresh_token, token_type, expires_at, raw, created_at, updated_at)
		VALUES ('realm-y', '', '', 'bearer', '2025-06-01T12:00:00Z', '', '2025-06-01T12:00:00Z', '2025-06-01T12:00:00Z')`)
	require.NoError(t, err)

	_, err = repo.Load(ctx, "realm-y")
	assert.ErrorIs(t, err, driven.ErrCorruptRecord)
}

func TestCredentialRepo_LoadAcceptsSQLDatetimeLayout(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	_, err := db.Writer.ExecContext(ctx, `
		INSERT INTO credentials (realm_id, access_token, refresh_token, token_type, expires_at, raw, created_at, updated_at)
		VALUES ('realm-z', 'at', 'rt', 'bearer', '2025-06-01 13:00:00', '', '2025-06-01 12:00:00', '2025-06-01 12:00:00')`)
	require.NoError(t, err)

	got, err := repo.Load(ctx, "realm-z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC), got.ExpiresAt)
}

func TestRebind(t *testing.T) {
	sqliteDB := &DB{dialect: DialectSQLite}
	pgDB := &DB{dialect: DialectPostgres}

	query := `SELECT a FROM t WHERE b = ? AND c = ?`
	assert.Equal(t, query, sqliteDB.rebind(query))
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = $2`, pgDB.rebind(query))
}

func TestDialectFor(t *testing.T) {
	assert.Equal(t, DialectPostgres, DialectFor("postgres://u:p@localhost/db"))
	assert.Equal(t, DialectPostgres, DialectFor("postgresql://u:p@localhost/db"))
	assert.Equal(t, DialectSQLite, DialectFor("qbolink.db"))
	assert.Equal(t, DialectSQLite, DialectFor("/var/lib/qbolink/qbolink.db"))
}
