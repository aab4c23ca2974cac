package driven

import (
	"context"
	"errors"

	"github.com/oakpos/qbolink/internal/domain/model"
)

// Sentinel errors returned by TokenExchanger implementations.
var (
	// ErrAuthExchangeFailed indicates the authorization code was rejected by
	// the token endpoint (invalid, expired, or already used). Codes are
	// single-use; the interactive flow must be restarted.
	ErrAuthExchangeFailed = errors.New("authorization code exchange failed")

	// ErrRefreshFailed indicates a transient upstream or network failure
	// during refresh. The caller may retry after a short backoff.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRefreshTokenInvalid indicates the upstream rejected the refresh
	// token itself (invalid_grant). The stored credential is no longer
	// usable and the interactive flow must be re-run.
	ErrRefreshTokenInvalid = errors.New("refresh token no longer valid")
)

// TokenExchanger defines the driven port for the two token-endpoint
// interactions of the OAuth2 authorization-code flow. Implementations are
// stateless: network calls only, no persistence.
type TokenExchanger interface {
	// ExchangeCode trades a single-use authorization code for an initial
	// credential bound to realmID. Fails with ErrAuthExchangeFailed on a
	// non-success upstream response, with the upstream error attached.
	ExchangeCode(ctx context.Context, code, redirectURI, realmID string) (model.Credential, error)

	// Refresh trades cred's refresh token for a replacement credential.
	// The returned credential always adopts whatever refresh token the
	// server issued, even if unchanged. Fails with ErrRefreshFailed
	// (recoverable) or ErrRefreshTokenInvalid (terminal).
	Refresh(ctx context.Context, cred model.Credential) (model.Credential, error)
}
