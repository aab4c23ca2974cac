package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCredential_UsableAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{
			name: "well before expiry",
			cred: Credential{AccessToken: "at", ExpiresAt: now.Add(time.Hour)},
			want: true,
		},
		{
			name: "inside skew window",
			cred: Credential{AccessToken: "at", ExpiresAt: now.Add(30 * time.Second)},
			want: false,
		},
		{
			name: "exactly at skew boundary",
			cred: Credential{AccessToken: "at", ExpiresAt: now.Add(RefreshSkew)},
			want: false,
		},
		{
			name: "just past skew boundary",
			cred: Credential{AccessToken: "at", ExpiresAt: now.Add(RefreshSkew + time.Second)},
			want: true,
		},
		{
			name: "already expired",
			cred: Credential{AccessToken: "at", ExpiresAt: now.Add(-time.Minute)},
			want: false,
		},
		{
			name: "missing access token",
			cred: Credential{ExpiresAt: now.Add(time.Hour)},
			want: false,
		},
		{
			name: "zero expiry",
			cred: Credential{AccessToken: "at"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.UsableAt(now))
		})
	}
}

func TestCredential_Refreshable(t *testing.T) {
	assert.True(t, Credential{RefreshToken: "rt"}.Refreshable())
	assert.False(t, Credential{}.Refreshable())
}
