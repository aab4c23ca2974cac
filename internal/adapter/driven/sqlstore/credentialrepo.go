package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oakpos/qbolink/internal/domain/model"
	"github.com/oakpos/qbolink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// timeLayout is the storage format for all timestamp columns. RFC3339Nano
// keeps full fidelity across both dialects so a saved record loads back
// field-for-field equal.
const timeLayout = time.RFC3339Nano

// CredentialRepo is the relational implementation of the CredentialStore
// port. Replacement of a realm's active record runs delete-then-insert in a
// single transaction, so readers observe either the old record or the new
// one, never a mix. realm_id uniqueness is enforced here rather than by the
// schema.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a CredentialRepo over the given database.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// Save atomically replaces the active credential for cred.RealmID.
func (r *CredentialRepo) Save(ctx context.Context, cred model.Credential) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save credential: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteQuery := r.db.rebind(`DELETE FROM credentials WHERE realm_id = ?`)
	if _, err := tx.ExecContext(ctx, deleteQuery, cred.RealmID); err != nil {
		return fmt.Errorf("supersede credential for realm %q: %w", cred.RealmID, err)
	}

	insertQuery := r.db.rebind(`
		INSERT INTO credentials (realm_id, access_token, refresh_token, token_type, expires_at, raw, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, insertQuery,
		cred.RealmID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.TokenType,
		cred.ExpiresAt.UTC().Format(timeLayout),
		string(cred.Raw),
		cred.CreatedAt.UTC().Format(timeLayout),
		cred.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert credential for realm %q: %w", cred.RealmID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credential for realm %q: %w", cred.RealmID, err)
	}
	return nil
}

// Load returns the newest stored credential for the realm.
func (r *CredentialRepo) Load(ctx context.Context, realmID string) (model.Credential, error) {
	query := r.db.rebind(`
		SELECT realm_id, access_token, refresh_token, token_type, expires_at, raw, created_at, updated_at
		FROM credentials
		WHERE realm_id = ?
		ORDER BY id DESC
		LIMIT 1`)

	var (
		cred      model.Credential
		raw       string
		expiresAt string
		createdAt string
		updatedAt string
	)
	err := r.db.Reader.QueryRowContext(ctx, query, realmID).Scan(
		&cred.RealmID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.TokenType,
		&expiresAt,
		&raw,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, driven.ErrCredentialNotFound
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("load credential for realm %q: %w", realmID, err)
	}

	if cred.AccessToken == "" || cred.RefreshToken == "" {
		return model.Credential{}, fmt.Errorf("realm %q: empty token fields: %w", realmID, driven.ErrCorruptRecord)
	}

	if cred.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return model.Credential{}, fmt.Errorf("realm %q: expires_at %q: %w", realmID, expiresAt, driven.ErrCorruptRecord)
	}
	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Credential{}, fmt.Errorf("realm %q: created_at %q: %w", realmID, createdAt, driven.ErrCorruptRecord)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Credential{}, fmt.Errorf("realm %q: updated_at %q: %w", realmID, updatedAt, driven.ErrCorruptRecord)
	}

	if raw != "" {
		cred.Raw = json.RawMessage(raw)
	}

	return cred, nil
}

// parseTime parses a stored timestamp. RFC3339Nano is the written form;
// the SQL datetime layout is accepted for rows written by external tooling.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
