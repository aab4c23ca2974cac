// Package intuit implements the TokenExchanger port against the Intuit
// OAuth2 token endpoint used by QuickBooks Online.
package intuit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oakpos/qbolink/internal/domain/model"
	"github.com/oakpos/qbolink/internal/domain/port/driven"
)

// Production endpoints. Overridable through Config for sandbox and tests.
const (
	DefaultAuthURL  = "https://appcenter.intuit.com/connect/oauth2"
	DefaultTokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
)

// Scopes requested during the authorization redirect.
const authorizationScopes = "com.intuit.quickbooks.accounting openid profile email phone address"

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBodyBytes  = 1 << 20 // 1 MiB
)

// Compile-time interface satisfaction check.
var _ driven.TokenExchanger = (*Exchanger)(nil)

// HTTPDoer is the minimal transport contract, satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the client registration and endpoint configuration for an
// Exchanger.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string // defaults to DefaultAuthURL
	TokenURL     string // defaults to DefaultTokenURL
	Timeout      time.Duration
	HTTPClient   HTTPDoer         // defaults to an *http.Client with Timeout
	Now          func() time.Time // defaults to time.Now, injectable for tests
}

// Exchanger performs the two token-endpoint interactions of the
// authorization-code flow. It is stateless: network calls only, no
// persistence.
type Exchanger struct {
	cfg        Config
	httpClient HTTPDoer
}

// tokenResponse mirrors the standard OAuth2 token endpoint payload.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewExchanger creates an Exchanger, applying endpoint and transport
// defaults.
func NewExchanger(cfg Config) (*Exchanger, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("intuit: client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("intuit: client secret is required")
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Exchanger{cfg: cfg, httpClient: httpClient}, nil
}

// AuthorizeURL builds the interactive authorization redirect URL for the
// given state value.
func (e *Exchanger) AuthorizeURL(redirectURI, state string) string {
	values := url.Values{}
	values.Set("client_id", e.cfg.ClientID)
	values.Set("response_type", "code")
	values.Set("scope", authorizationScopes)
	values.Set("redirect_uri", redirectURI)
	values.Set("state", state)

	sep := "?"
	if strings.Contains(e.cfg.AuthURL, "?") {
		sep = "&"
	}
	return e.cfg.AuthURL + sep + values.Encode()
}

// ExchangeCode trades a single-use authorization code for an initial
// credential. Codes expire within minutes of issuance, so failures are not
// retried; the interactive flow must be restarted.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, redirectURI, realmID string) (model.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	body, resp, _, err := e.postToken(ctx, form)
	if err != nil {
		return model.Credential{}, fmt.Errorf("exchange authorization code: %v: %w", err, driven.ErrAuthExchangeFailed)
	}
	if resp.ErrorCode != "" || resp.AccessToken == "" {
		return model.Credential{}, fmt.Errorf("exchange authorization code: %s: %w",
			describeTokenError(resp), driven.ErrAuthExchangeFailed)
	}

	now := e.cfg.Now().UTC()
	return model.Credential{
		RealmID:      realmID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		Raw:          json.RawMessage(body),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Refresh trades the credential's refresh token for a replacement
// credential. Refresh tokens rotate: the returned credential adopts whatever
// refresh token the server issued. When the server omits one, the previous
// token is carried forward rather than discarded.
func (e *Exchanger) Refresh(ctx context.Context, cred model.Credential) (model.Credential, error) {
	if cred.RefreshToken == "" {
		return model.Credential{}, fmt.Errorf("refresh realm %q: no refresh token: %w",
			cred.RealmID, driven.ErrRefreshTokenInvalid)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)

	body, resp, status, err := e.postToken(ctx, form)
	if err != nil {
		// invalid_grant and 401-class rejections mean the refresh token
		// itself is dead; anything else may succeed on a later attempt.
		if resp.ErrorCode == "invalid_grant" || status == http.StatusUnauthorized || status == http.StatusForbidden {
			return model.Credential{}, fmt.Errorf("refresh realm %q: %s: %w",
				cred.RealmID, describeTokenError(resp), driven.ErrRefreshTokenInvalid)
		}
		return model.Credential{}, fmt.Errorf("refresh realm %q: %v: %w", cred.RealmID, err, driven.ErrRefreshFailed)
	}
	if resp.AccessToken == "" {
		return model.Credential{}, fmt.Errorf("refresh realm %q: response missing access token: %w",
			cred.RealmID, driven.ErrRefreshFailed)
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = cred.TokenType
	}

	now := e.cfg.Now().UTC()
	return model.Credential{
		RealmID:      cred.RealmID,
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		Raw:          json.RawMessage(body),
		CreatedAt:    cred.CreatedAt,
		UpdatedAt:    now,
	}, nil
}

// postToken sends a form-encoded POST to the token endpoint with HTTP basic
// client authentication and parses the JSON response. On a non-2xx status it
// returns the parsed payload (when available) alongside the error so callers
// can map upstream error codes.
func (e *Exchanger) postToken(ctx context.Context, form url.Values) ([]byte, tokenResponse, int, error) {
	requestCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, e.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, tokenResponse{}, 0, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(e.cfg.ClientID, e.cfg.ClientSecret)

	httpResp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, tokenResponse{}, 0, fmt.Errorf("token request: %w", err)
	}
	defer httpResp.Body.Close()

	status := httpResp.StatusCode

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodyBytes+1))
	if err != nil {
		return nil, tokenResponse{}, status, fmt.Errorf("read token response: %w", err)
	}
	if len(body) > maxResponseBodyBytes {
		return nil, tokenResponse{}, status, fmt.Errorf("token response exceeds %d bytes", maxResponseBodyBytes)
	}

	var resp tokenResponse
	// The error payload matters even when the body isn't valid JSON, so a
	// decode failure is only fatal on success statuses.
	decodeErr := json.Unmarshal(body, &resp)

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return body, resp, status, fmt.Errorf("token endpoint status %d: %s", status, describeErrorBody(resp, body))
	}
	if decodeErr != nil {
		return body, tokenResponse{}, status, fmt.Errorf("decode token response: %w", decodeErr)
	}
	return body, resp, status, nil
}

func describeTokenError(resp tokenResponse) string {
	if resp.ErrorDescription != "" {
		return resp.ErrorDescription
	}
	if resp.ErrorCode != "" {
		return resp.ErrorCode
	}
	return "unexpected response"
}

// describeErrorBody summarizes an upstream error body for diagnostics,
// truncated so logs never balloon. Token values never appear in error
// bodies.
func describeErrorBody(resp tokenResponse, body []byte) string {
	if resp.ErrorCode != "" {
		return describeTokenError(resp)
	}
	const maxLen = 256
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
