// Package model contains the domain entities for the credential lifecycle.
package model

import (
	"encoding/json"
	"time"
)

// RefreshSkew is the safety buffer subtracted from a credential's expiry
// before deciding whether it is still usable. Refreshing 60 seconds early
// keeps in-flight requests from racing an expiring token.
const RefreshSkew = 60 * time.Second

// Credential is the active OAuth credential for one QuickBooks realm.
// Exactly one credential is active per realm at any time; a successful
// refresh replaces the whole record rather than mutating it in place.
type Credential struct {
	RealmID      string
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	// Raw is the verbatim token-endpoint response payload, retained for
	// diagnostics and forward compatibility. Never parsed beyond the
	// fields above.
	Raw       json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UsableAt reports whether the access token may still be sent upstream at
// the given instant, i.e. the expiry minus RefreshSkew has not passed.
func (c Credential) UsableAt(now time.Time) bool {
	if c.AccessToken == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return now.Before(c.ExpiresAt.Add(-RefreshSkew))
}

// Refreshable reports whether the credential carries a refresh token and can
// therefore be renewed without re-running the interactive flow.
func (c Credential) Refreshable() bool {
	return c.RefreshToken != ""
}
