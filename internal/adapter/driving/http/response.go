package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oakpos/qbolink/internal/application"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the JSON representation of a realm's connection state.
// It never carries token values.
type StatusResponse struct {
	RealmID            string `json:"realm_id"`
	Connected          bool   `json:"connected"`
	ReauthRequired     bool   `json:"reauth_required"`
	TokenType          string `json:"token_type,omitempty"`
	ExpiresAt          string `json:"expires_at,omitempty"`
	UpdatedAt          string `json:"updated_at,omitempty"`
	RefreshRecommended bool   `json:"refresh_recommended"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toStatusResponse converts an application Status to its JSON representation.
func toStatusResponse(st application.Status) StatusResponse {
	resp := StatusResponse{
		RealmID:            st.RealmID,
		Connected:          st.Connected,
		ReauthRequired:     st.ReauthRequired,
		TokenType:          st.TokenType,
		RefreshRecommended: st.RefreshRecommended,
	}
	if !st.ExpiresAt.IsZero() {
		resp.ExpiresAt = st.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if !st.UpdatedAt.IsZero() {
		resp.UpdatedAt = st.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
