// Package failover composes two CredentialStore implementations into one:
// an authoritative primary (the relational backend) and a degraded-mode
// fallback (the local token file). The composition is transparent to
// callers; both sides expose the same port contract.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oakpos/qbolink/internal/domain/model"
	"github.com/oakpos/qbolink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*Store)(nil)

// Store tries the primary backend first on every operation and falls back on
// failure, logging a degraded-mode warning. primary may be nil when no
// relational store is configured, in which case the fallback serves alone.
type Store struct {
	primary  driven.CredentialStore
	fallback driven.CredentialStore
	logger   *slog.Logger
}

// NewStore creates a failover Store. fallback must be non-nil; primary is
// optional.
func NewStore(primary, fallback driven.CredentialStore, logger *slog.Logger) *Store {
	return &Store{primary: primary, fallback: fallback, logger: logger}
}

// Save writes through the primary backend, falling back to the file backend
// on failure. Only when both backends fail does the refresh token risk being
// lost, so that case surfaces as ErrStorageUnavailable.
func (s *Store) Save(ctx context.Context, cred model.Credential) error {
	var primaryErr error
	if s.primary != nil {
		primaryErr = s.primary.Save(ctx, cred)
		if primaryErr == nil {
			return nil
		}
		s.logger.Warn("primary credential store save failed, using fallback",
			"realm_id", cred.RealmID,
			"error", primaryErr,
		)
	}

	if err := s.fallback.Save(ctx, cred); err != nil {
		if primaryErr != nil {
			return fmt.Errorf("save credential for realm %q: primary: %v, fallback: %v: %w",
				cred.RealmID, primaryErr, err, driven.ErrStorageUnavailable)
		}
		return fmt.Errorf("save credential for realm %q: %v: %w", cred.RealmID, err, driven.ErrStorageUnavailable)
	}
	return nil
}

// Load reads from the primary backend first. The fallback is consulted both
// when the primary fails and when it has no record for the realm: a record
// saved during a degraded period must stay reachable after the primary
// recovers, or its refresh token would be silently lost.
func (s *Store) Load(ctx context.Context, realmID string) (model.Credential, error) {
	var primaryErr error
	if s.primary != nil {
		cred, err := s.primary.Load(ctx, realmID)
		if err == nil {
			return cred, nil
		}
		if errors.Is(err, driven.ErrCorruptRecord) {
			return model.Credential{}, err
		}
		primaryErr = err
		if !errors.Is(err, driven.ErrCredentialNotFound) {
			s.logger.Warn("primary credential store load failed, using fallback",
				"realm_id", realmID,
				"error", err,
			)
		}
	}

	cred, err := s.fallback.Load(ctx, realmID)
	if err == nil {
		return cred, nil
	}
	if errors.Is(err, driven.ErrCredentialNotFound) || errors.Is(err, driven.ErrCorruptRecord) {
		if s.primary != nil && primaryErr != nil && !errors.Is(primaryErr, driven.ErrCredentialNotFound) {
			// The primary is down and the fallback has nothing usable;
			// the record may still exist on the primary.
			return model.Credential{}, fmt.Errorf("load credential for realm %q: primary: %v: %w",
				realmID, primaryErr, driven.ErrStorageUnavailable)
		}
		return model.Credential{}, err
	}
	return model.Credential{}, fmt.Errorf("load credential for realm %q: %v: %w", realmID, err, driven.ErrStorageUnavailable)
}
