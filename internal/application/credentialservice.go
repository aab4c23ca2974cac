package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/oakpos/qbolink/internal/domain/model"
	"github.com/oakpos/qbolink/internal/domain/port/driven"
)

// ErrReauthorizationRequired indicates no usable credential exists for the
// realm and the interactive authorization flow must be (re-)run.
var ErrReauthorizationRequired = errors.New("reauthorization required")

// defaultRetryBackoff is the fixed wait before the single internal retry of
// a recoverable refresh failure.
const defaultRetryBackoff = 500 * time.Millisecond

// CredentialServiceConfig holds the dependencies and tunables for a
// CredentialService. Store, Exchanger, and Logger are required; Now and
// RetryBackoff default to time.Now and defaultRetryBackoff.
type CredentialServiceConfig struct {
	Store        driven.CredentialStore
	Exchanger    driven.TokenExchanger
	Logger       *slog.Logger
	Now          func() time.Time
	RetryBackoff time.Duration
}

// CredentialService owns the OAuth credential lifecycle per realm: obtaining
// a credential through the authorization-code exchange, deciding whether the
// stored credential is still usable, and silently refreshing it when it is
// about to expire. Refresh is synchronous and caller-triggered; there is no
// background timer.
//
// All mutation of the persisted record flows through the store port, and at
// most one refresh per realm is in flight at any instant: concurrent callers
// share the outcome of a single upstream refresh instead of issuing their
// own, which would race each other into invalidating the rotating refresh
// token.
type CredentialService struct {
	store     driven.CredentialStore
	exchanger driven.TokenExchanger
	logger    *slog.Logger
	now       func() time.Time
	backoff   time.Duration

	flight singleflight.Group

	mu      sync.Mutex
	invalid map[string]bool // realms whose refresh token was rejected upstream
}

// NewCredentialService creates a CredentialService from the given config.
func NewCredentialService(cfg CredentialServiceConfig) *CredentialService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	return &CredentialService{
		store:     cfg.Store,
		exchanger: cfg.Exchanger,
		logger:    cfg.Logger,
		now:       now,
		backoff:   backoff,
		invalid:   map[string]bool{},
	}
}

// CompleteAuthorization exchanges a single-use authorization code for an
// initial credential and persists it, connecting (or re-connecting) the
// realm. On exchange failure nothing is persisted and the realm's state is
// unchanged.
func (s *CredentialService) CompleteAuthorization(ctx context.Context, realmID, code, redirectURI string) error {
	cred, err := s.exchanger.ExchangeCode(ctx, code, redirectURI, realmID)
	if err != nil {
		return err
	}

	if err := s.store.Save(ctx, cred); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.invalid, realmID)
	s.mu.Unlock()

	s.logger.Info("authorization completed", "realm_id", realmID, "expires_at", cred.ExpiresAt)
	return nil
}

// AccessToken returns a usable access token for the realm, refreshing the
// stored credential first when it is inside the expiry skew window.
//
// Fails with ErrReauthorizationRequired when no credential exists, the
// credential cannot be refreshed, or the upstream has rejected the refresh
// token; with driven.ErrStorageUnavailable when persistence is down; and
// with driven.ErrRefreshFailed when a refresh failed transiently (the next
// call retries).
func (s *CredentialService) AccessToken(ctx context.Context, realmID string) (string, error) {
	s.mu.Lock()
	bad := s.invalid[realmID]
	s.mu.Unlock()
	if bad {
		// Terminal until re-authorized; fail fast with no upstream call.
		return "", fmt.Errorf("realm %q: %w", realmID, ErrReauthorizationRequired)
	}

	cred, err := s.store.Load(ctx, realmID)
	if errors.Is(err, driven.ErrCredentialNotFound) {
		return "", fmt.Errorf("realm %q is not connected: %w", realmID, ErrReauthorizationRequired)
	}
	if err != nil {
		return "", err
	}

	if cred.UsableAt(s.now()) {
		return cred.AccessToken, nil
	}

	refreshed, err := s.refresh(ctx, realmID)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// refresh funnels all callers of a realm through one in-flight refresh.
// A caller may not abort a refresh another caller is waiting on, so the
// upstream call runs on a context detached from this caller's cancellation;
// the exchanger's own request timeout keeps it bounded.
func (s *CredentialService) refresh(ctx context.Context, realmID string) (model.Credential, error) {
	detached := context.WithoutCancel(ctx)

	v, err, _ := s.flight.Do(realmID, func() (any, error) {
		return s.doRefresh(detached, realmID)
	})
	if err != nil {
		return model.Credential{}, err
	}
	return v.(model.Credential), nil
}

func (s *CredentialService) doRefresh(ctx context.Context, realmID string) (model.Credential, error) {
	// Re-read under the flight: a caller that decided to refresh against a
	// stale read must reuse the record a just-finished refresh persisted
	// rather than burn the rotated refresh token again.
	cred, err := s.store.Load(ctx, realmID)
	if errors.Is(err, driven.ErrCredentialNotFound) {
		return model.Credential{}, fmt.Errorf("realm %q is not connected: %w", realmID, ErrReauthorizationRequired)
	}
	if err != nil {
		return model.Credential{}, err
	}
	if cred.UsableAt(s.now()) {
		return cred, nil
	}

	if !cred.Refreshable() {
		s.markInvalid(realmID)
		return model.Credential{}, fmt.Errorf("realm %q has no refresh token: %w", realmID, ErrReauthorizationRequired)
	}

	refreshed, err := s.exchanger.Refresh(ctx, cred)
	if errors.Is(err, driven.ErrRefreshFailed) {
		s.logger.Warn("token refresh failed, retrying once", "realm_id", realmID, "error", err)
		time.Sleep(s.backoff)
		refreshed, err = s.exchanger.Refresh(ctx, cred)
	}
	if errors.Is(err, driven.ErrRefreshTokenInvalid) {
		s.markInvalid(realmID)
		s.logger.Error("refresh token rejected upstream, realm requires re-authorization",
			"realm_id", realmID, "error", err)
		return model.Credential{}, fmt.Errorf("realm %q: %w", realmID, ErrReauthorizationRequired)
	}
	if err != nil {
		// Transient after one retry: surface to all waiters, persist
		// nothing. The realm stays expiring and the next call retries.
		return model.Credential{}, err
	}

	if err := s.store.Save(ctx, refreshed); err != nil {
		return model.Credential{}, err
	}

	s.logger.Info("credential refreshed", "realm_id", realmID, "expires_at", refreshed.ExpiresAt)
	return refreshed, nil
}

func (s *CredentialService) markInvalid(realmID string) {
	s.mu.Lock()
	s.invalid[realmID] = true
	s.mu.Unlock()
}

// Status reports the realm's connection state for diagnostic surfaces.
// Token values are deliberately absent.
type Status struct {
	RealmID            string
	Connected          bool
	ReauthRequired     bool
	TokenType          string
	ExpiresAt          time.Time
	UpdatedAt          time.Time
	RefreshRecommended bool
}

// ConnectionStatus returns the diagnostic status of a realm without
// triggering any refresh or upstream call.
func (s *CredentialService) ConnectionStatus(ctx context.Context, realmID string) (Status, error) {
	s.mu.Lock()
	bad := s.invalid[realmID]
	s.mu.Unlock()

	st := Status{RealmID: realmID, ReauthRequired: bad}

	cred, err := s.store.Load(ctx, realmID)
	if errors.Is(err, driven.ErrCredentialNotFound) {
		st.ReauthRequired = true
		return st, nil
	}
	if err != nil {
		return Status{}, err
	}

	st.Connected = !bad
	st.TokenType = cred.TokenType
	st.ExpiresAt = cred.ExpiresAt
	st.UpdatedAt = cred.UpdatedAt
	st.RefreshRecommended = !cred.UsableAt(s.now())
	return st, nil
}
