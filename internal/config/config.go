// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	RealmID      string // default realm for single-tenant deployments
	AuthURL      string // empty means the production Intuit endpoint
	TokenURL     string // empty means the production Intuit endpoint
	DatabaseURL  string // empty disables the relational backend
	TokenFile    string
	FrontendURL  string
	APIKey       string // empty disables the API-key check
	ListenAddr   string
}

// HasDatabase returns true when a relational storage DSN is configured.
// Without one the service persists credentials to the token file only.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. QBOLINK_CLIENT_ID, QBOLINK_CLIENT_SECRET, and QBOLINK_REDIRECT_URI
// are required. Optional variables with defaults: QBOLINK_TOKEN_FILE
// (tokens.json), QBOLINK_LISTEN_ADDR (127.0.0.1:8080). QBOLINK_DATABASE_URL,
// QBOLINK_REALM_ID, QBOLINK_FRONTEND_URL, QBOLINK_API_KEY, QBOLINK_AUTH_URL,
// and QBOLINK_TOKEN_URL are optional.
func Load() (*Config, error) {
	clientID := os.Getenv("QBOLINK_CLIENT_ID")
	if clientID == "" {
		return nil, fmt.Errorf("QBOLINK_CLIENT_ID is required")
	}

	clientSecret := os.Getenv("QBOLINK_CLIENT_SECRET")
	if clientSecret == "" {
		return nil, fmt.Errorf("QBOLINK_CLIENT_SECRET is required")
	}

	redirectURI := os.Getenv("QBOLINK_REDIRECT_URI")
	if redirectURI == "" {
		return nil, fmt.Errorf("QBOLINK_REDIRECT_URI is required")
	}

	tokenFile := "tokens.json"
	if v, ok := os.LookupEnv("QBOLINK_TOKEN_FILE"); ok {
		tokenFile = v
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("QBOLINK_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	return &Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		RealmID:      os.Getenv("QBOLINK_REALM_ID"),
		AuthURL:      os.Getenv("QBOLINK_AUTH_URL"),
		TokenURL:     os.Getenv("QBOLINK_TOKEN_URL"),
		DatabaseURL:  os.Getenv("QBOLINK_DATABASE_URL"),
		TokenFile:    tokenFile,
		FrontendURL:  os.Getenv("QBOLINK_FRONTEND_URL"),
		APIKey:       os.Getenv("QBOLINK_API_KEY"),
		ListenAddr:   listenAddr,
	}, nil
}
