package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loyalty-checkin/pkg/config"
)

func newTestVerifier(t *testing.T, issuer string) *Verifier {
	t.Helper()
	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.Issuer = issuer
	v, err := NewVerifier(cfg)
	require.NoError(t, err)
	return v
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := newTestVerifier(t, "loyalty")

	token, err := v.Issue("u1", RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := v.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserID)
	require.True(t, claims.IsAdmin())
}

func TestVerifier_Rejects(t *testing.T) {
	v := newTestVerifier(t, "loyalty")

	expired, err := v.Issue("u1", "", -time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	other := newTestVerifier(t, "someone-else")
	foreign, err := other.Issue("u1", "", time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Parse("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
