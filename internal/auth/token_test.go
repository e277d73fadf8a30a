package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_HS256RoundTrip(t *testing.T) {
	svc := NewHS256([]byte("test-secret"), "convrelay")

	token, err := svc.Issue("agent-1", time.Hour)
	require.NoError(t, err)

	agentID, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agentID)
}

func TestTokenService_RS256RoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	issuer := NewRS256(key, "")
	token, err := issuer.Issue("agent-2", time.Hour)
	require.NoError(t, err)

	verifier := NewRS256Verifier(&key.PublicKey, "")
	agentID, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-2", agentID)

	_, err = verifier.Issue("agent-2", time.Hour)
	require.ErrorIs(t, err, ErrCannotSign)
}

func TestTokenService_Rejects(t *testing.T) {
	svc := NewHS256([]byte("test-secret"), "convrelay")
	valid, err := svc.Issue("agent-1", time.Hour)
	require.NoError(t, err)

	other, err := NewHS256([]byte("other-secret"), "convrelay").Issue("agent-1", time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := NewHS256([]byte("test-secret"), "someone-else").Issue("agent-1", time.Hour)
	require.NoError(t, err)

	expiredSvc := NewHS256([]byte("test-secret"), "convrelay")
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredSvc.Issue("agent-1", time.Hour)
	require.NoError(t, err)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	rsaToken, err := NewRS256(key, "convrelay").Issue("agent-1", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrTokenMissing},
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"wrong secret", other, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
		{"wrong algorithm", rsaToken, ErrInvalidToken},
		{"tampered", valid + "x", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(tt.token)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTokenService_IssueRequiresSubject(t *testing.T) {
	_, err := NewHS256([]byte("s"), "").Issue("", time.Hour)
	require.ErrorIs(t, err, ErrMissingClaim)
}
