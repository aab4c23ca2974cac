// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"

	"github.com/oakpos/qbolink/internal/domain/model"
)

// Sentinel errors returned by CredentialStore implementations.
var (
	// ErrCredentialNotFound indicates no credential has been stored for the
	// requested realm.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrStorageUnavailable indicates every configured persistence backend
	// failed. Nothing was read or written.
	ErrStorageUnavailable = errors.New("credential storage unavailable")

	// ErrCorruptRecord indicates the stored payload could not be parsed back
	// into a credential. A corrupt record is never coerced into a
	// partially-valid token.
	ErrCorruptRecord = errors.New("stored credential is corrupt")
)

// CredentialStore defines the driven port for credential persistence.
// Save must atomically replace the active record for the credential's realm:
// a concurrent Load never observes a partially written record.
type CredentialStore interface {
	// Save durably stores or overwrites the active credential for
	// cred.RealmID.
	Save(ctx context.Context, cred model.Credential) error

	// Load returns the active credential for the realm, or
	// ErrCredentialNotFound if none exists.
	Load(ctx context.Context, realmID string) (model.Credential, error)
}
