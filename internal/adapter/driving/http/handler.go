// Package httphandler is the HTTP driving adapter: the OAuth connect and
// callback endpoints plus a small read-only diagnostic API. It is thin glue
// over the application layer; all credential decisions live there.
package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oakpos/qbolink/internal/application"
	"github.com/oakpos/qbolink/internal/domain/port/driven"
)

// stateCookie carries the OAuth state value between /connect and /callback.
const stateCookie = "qbolink_state"

// authorizeURLBuilder builds the interactive authorization redirect URL.
// Satisfied by *intuit.Exchanger.
type authorizeURLBuilder interface {
	AuthorizeURL(redirectURI, state string) string
}

// credentialService is the slice of the application layer the handlers use.
// Satisfied by *application.CredentialService.
type credentialService interface {
	CompleteAuthorization(ctx context.Context, realmID, code, redirectURI string) error
	ConnectionStatus(ctx context.Context, realmID string) (application.Status, error)
}

// Handler serves the OAuth flow endpoints and the diagnostic API.
type Handler struct {
	svc          credentialService
	authorize    authorizeURLBuilder
	defaultRealm string
	redirectURI  string
	frontendURL  string
	logger       *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. defaultRealm
// and frontendURL may be empty.
func NewHandler(
	svc credentialService,
	authorize authorizeURLBuilder,
	defaultRealm string,
	redirectURI string,
	frontendURL string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		svc:          svc,
		authorize:    authorize,
		defaultRealm: defaultRealm,
		redirectURI:  redirectURI,
		frontendURL:  frontendURL,
		logger:       logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. The diagnostic API is guarded by the
// API-key check when apiKey is non-empty.
func NewServeMux(h *Handler, apiKey string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /connect", h.Connect)
	mux.HandleFunc("GET /callback", h.Callback)
	mux.Handle("GET /api/v1/status", apiKeyMiddleware(apiKey, http.HandlerFunc(h.Status)))
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Connect starts the interactive authorization flow: it issues a fresh
// random state value, stores it in a short-lived cookie, and redirects the
// browser to the authorization server.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.authorize.AuthorizeURL(h.redirectURI, state), http.StatusFound)
}

// Callback is the authorization-server redirect target. It validates state,
// exchanges the single-use code, and sends the browser back to the
// front-end.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if oauthErr := q.Get("error"); oauthErr != "" {
		h.logger.Warn("authorization denied by upstream", "error", oauthErr)
		writeError(w, http.StatusBadRequest, "authorization failed: "+oauthErr)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing code parameter")
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	realmID := q.Get("realmId")
	if realmID == "" {
		realmID = h.defaultRealm
	}
	if realmID == "" {
		writeError(w, http.StatusBadRequest, "missing realmId parameter")
		return
	}

	if err := h.svc.CompleteAuthorization(r.Context(), realmID, code, h.redirectURI); err != nil {
		h.logger.Error("authorization callback failed", "realm_id", realmID, "error", err)
		writeError(w, callbackStatus(err), "authorization failed")
		return
	}

	// Expire the state cookie; it is single-use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if h.frontendURL != "" {
		http.Redirect(w, r, h.frontendURL+"/?connected=true", http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

// Status reports the connection state of a realm without token material.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	realmID := r.URL.Query().Get("realm")
	if realmID == "" {
		realmID = h.defaultRealm
	}
	if realmID == "" {
		writeError(w, http.StatusBadRequest, "missing realm parameter")
		return
	}

	st, err := h.svc.ConnectionStatus(r.Context(), realmID)
	if err != nil {
		h.logger.Error("status lookup failed", "realm_id", realmID, "error", err)
		if errors.Is(err, driven.ErrStorageUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "credential storage unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// callbackStatus maps credential-manager errors to callback HTTP statuses.
func callbackStatus(err error) int {
	switch {
	case errors.Is(err, driven.ErrAuthExchangeFailed):
		return http.StatusBadGateway
	case errors.Is(err, driven.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// apiKeyMiddleware rejects requests whose x-api-key header (or api_key query
// parameter) does not match the configured key. An empty key disables the
// check.
func apiKeyMiddleware(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey != "" {
			got := r.Header.Get("x-api-key")
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if got != apiKey {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
