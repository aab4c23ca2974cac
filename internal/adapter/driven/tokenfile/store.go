// Package tokenfile implements credential persistence as a single JSON
// document on local disk. It is the degraded-mode fallback used when the
// relational backend is unconfigured or unreachable.
package tokenfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oakpos/qbolink/internal/domain/model"
	"github.com/oakpos/qbolink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*Store)(nil)

// Store keeps one credential per realm in a single JSON file. Every save
// rewrites the whole document via write-to-temp-then-rename so a crash
// mid-write never leaves a truncated file behind. The file is created with
// 0600 permissions; it holds token material.
type Store struct {
	mu   sync.Mutex
	path string
}

// record is the on-disk form of a credential. Timestamps use RFC3339Nano and
// the raw payload is carried as an escaped string, so a round-trip through
// the file preserves field-for-field, byte-for-byte equality.
type record struct {
	RealmID      string `json:"realm_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    string `json:"expires_at"`
	Raw          string `json:"raw,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// NewStore creates a Store writing to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save stores or overwrites the credential for cred.RealmID.
func (s *Store) Save(ctx context.Context, cred model.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil && !errors.Is(err, driven.ErrCredentialNotFound) {
		return err
	}
	if doc == nil {
		doc = map[string]record{}
	}

	doc[cred.RealmID] = record{
		RealmID:      cred.RealmID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		ExpiresAt:    cred.ExpiresAt.UTC().Format(time.RFC3339Nano),
		Raw:          string(cred.Raw),
		CreatedAt:    cred.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    cred.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	return s.write(doc)
}

// Load returns the credential for the realm, or ErrCredentialNotFound.
func (s *Store) Load(ctx context.Context, realmID string) (model.Credential, error) {
	if err := ctx.Err(); err != nil {
		return model.Credential{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return model.Credential{}, err
	}

	rec, ok := doc[realmID]
	if !ok {
		return model.Credential{}, driven.ErrCredentialNotFound
	}
	return rec.toCredential(realmID)
}

// read loads and parses the whole document. A missing file maps to
// ErrCredentialNotFound; an unparsable file maps to ErrCorruptRecord.
func (s *Store) read() (map[string]record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, driven.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read token file %s: %w", s.path, err)
	}

	var doc map[string]record
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", s.path, driven.ErrCorruptRecord)
	}
	return doc, nil
}

// write atomically rewrites the document: marshal, write a temp file in the
// same directory, fsync, rename over the real path.
func (s *Store) write(doc map[string]record) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token file directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp token file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace token file %s: %w", s.path, err)
	}
	return nil
}

func (r record) toCredential(realmID string) (model.Credential, error) {
	if r.AccessToken == "" || r.RefreshToken == "" {
		return model.Credential{}, fmt.Errorf("realm %q: empty token fields: %w", realmID, driven.ErrCorruptRecord)
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, r.ExpiresAt)
	if err != nil {
		return model.Credential{}, fmt.Errorf("realm %q: expires_at %q: %w", realmID, r.ExpiresAt, driven.ErrCorruptRecord)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return model.Credential{}, fmt.Errorf("realm %q: created_at %q: %w", realmID, r.CreatedAt, driven.ErrCorruptRecord)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return model.Credential{}, fmt.Errorf("realm %q: updated_at %q: %w", realmID, r.UpdatedAt, driven.ErrCorruptRecord)
	}

	cred := model.Credential{
		RealmID:      realmID,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresAt:    expiresAt,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
	if r.Raw != "" {
		cred.Raw = json.RawMessage(r.Raw)
	}
	return cred, nil
}
