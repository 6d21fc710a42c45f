package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/tractionboard/traction-go/token"
)

const testSigningSecret = "test-secret"

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSigningSecret))
	require.NoError(t, err)
	return signed
}

func withFixedNow(t *testing.T, now time.Time) {
	t.Helper()
	previous := token.NowTimeFunc
	token.NowTimeFunc = func() time.Time { return now }
	t.Cleanup(func() { token.NowTimeFunc = previous })
}

func TestDecodeExtractsClaims(t *testing.T) {
	now := time.Now()
	raw := mintToken(t, jwt.MapClaims{
		"sub":          "user-1",
		"tenant":       "org-1",
		"capabilities": []string{"consultant", "member"},
		"iat":          now.Unix(),
		"exp":          now.Add(time.Hour).Unix(),
	})

	claims, err := token.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "org-1", claims.TenantID)
	require.Len(t, claims.Capabilities, 2)
	require.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt, time.Second)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := token.Decode("not-a-jwt")
	require.Error(t, err)

	_, err = token.Decode("")
	require.Error(t, err)
}

func TestShouldRefreshWithinThreshold(t *testing.T) {
	now := time.Now()
	withFixedNow(t, now)

	raw := mintToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iat": now.Unix(),
		"exp": now.Add(60 * time.Second).Unix(),
	})

	require.True(t, token.ShouldRefresh(raw, 5*time.Minute))
}

func TestShouldRefreshFalseWhenFarFromExpiry(t *testing.T) {
	now := time.Now()
	withFixedNow(t, now)

	raw := mintToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})

	require.False(t, token.ShouldRefresh(raw, 5*time.Minute))
}

func TestShouldRefreshFalseOnceExpired(t *testing.T) {
	// An expired token belongs to the reactive path, not proactive renewal.
	now := time.Now()
	withFixedNow(t, now)

	raw := mintToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
	})

	require.False(t, token.ShouldRefresh(raw, 5*time.Minute))
}

func TestShouldRefreshFailsOpenOnDecodeError(t *testing.T) {
	require.True(t, token.ShouldRefresh("garbled", 5*time.Minute))
}

func TestShouldRefreshBoundary(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	withFixedNow(t, now)

	// Exactly at the threshold: not yet due.
	raw := mintToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": now.Add(5 * time.Minute).Unix(),
	})
	require.False(t, token.ShouldRefresh(raw, 5*time.Minute))

	// One second inside the threshold: due.
	raw = mintToken(t, jwt.MapClaims{
		"sub": "user-1",
		"exp": now.Add(5*time.Minute - time.Second).Unix(),
	})
	require.True(t, token.ShouldRefresh(raw, 5*time.Minute))
}
