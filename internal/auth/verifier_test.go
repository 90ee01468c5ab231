package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CleanExpo/zenith-integration-hub/internal/config"
)

func TestAPIKeyVerifier(t *testing.T) {
	v := NewAPIKeyVerifier([]config.APIKeyCredential{
		{Key: "key-crm", Principal: "crm-team", Scopes: []string{"contacts:read"}},
	})
	ctx := context.Background()

	p, err := v.Verify(ctx, Credentials{APIKey: "key-crm"})
	require.NoError(t, err)
	assert.Equal(t, "crm-team", p.ID)
	assert.Equal(t, "api_key", p.Method)

	_, err = v.Verify(ctx, Credentials{APIKey: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = v.Verify(ctx, Credentials{})
	assert.ErrorIs(t, err, ErrNoCredential)
}

func signHS256(t *testing.T, secret, subject string, scopes []string, expiresIn time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := TokenClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTVerifier(t *testing.T) {
	v := NewJWTVerifier("hub-secret")
	ctx := context.Background()

	token := signHS256(t, "hub-secret", "svc-billing", []string{"contacts:read", "contacts:write"}, time.Hour)
	p, err := v.Verify(ctx, Credentials{BearerToken: token})
	require.NoError(t, err)
	assert.Equal(t, "svc-billing", p.ID)
	assert.Equal(t, "bearer", p.Method)
	assert.True(t, p.HasScopes([]string{"contacts:read"}))
	assert.False(t, p.HasScopes([]string{"admin"}))

	_, err = v.Verify(ctx, Credentials{BearerToken: signHS256(t, "other-secret", "x", nil, time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = v.Verify(ctx, Credentials{BearerToken: signHS256(t, "hub-secret", "x", nil, -time.Minute)})
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = v.Verify(ctx, Credentials{})
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestJWTVerifierRejectsNonHMAC(t *testing.T) {
	v := NewJWTVerifier("hub-secret")

	// alg=none style tokens must never pass
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "evil"})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), Credentials{BearerToken: raw})
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestHasScopesEmptyRequirement(t *testing.T) {
	p := &Principal{}
	assert.True(t, p.HasScopes(nil))
}
