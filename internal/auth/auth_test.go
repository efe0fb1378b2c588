package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privDER := x509.MarshalPKCS1PrivateKey(key)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER})
	pub := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return priv, pub
}

func TestTokenPairRoundTrip(t *testing.T) {
	priv, pub := testKeys(t)
	svc, err := NewAuthService(priv, pub, 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	pair, err := svc.GenerateTokenPair(42, true)
	require.NoError(t, err)

	access, err := svc.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(42), access.UserID)
	assert.Equal(t, TokenTypeAccess, access.TokenType)
	assert.True(t, access.MustChangePassword)
	assert.Equal(t, "42", access.Subject)

	refresh, err := svc.ValidateToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, refresh.TokenType)
	assert.NotEmpty(t, refresh.ID)
}

func TestValidateTokenRejectsExpiredAndForeign(t *testing.T) {
	priv, pub := testKeys(t)
	svc, err := NewAuthService(priv, pub, time.Minute, time.Hour)
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return past }
	pair, err := svc.GenerateTokenPair(1, false)
	require.NoError(t, err)
	svc.now = time.Now

	_, err = svc.ValidateToken(pair.AccessToken)
	assert.Error(t, err)

	otherPriv, otherPub := testKeys(t)
	other, err := NewAuthService(otherPriv, otherPub, time.Minute, time.Hour)
	require.NoError(t, err)
	foreign, err := other.GenerateTokenPair(1, false)
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign.AccessToken)
	assert.Error(t, err)

	_, err = svc.ValidateToken("")
	assert.Error(t, err)
}

func TestNewAuthServiceRequiresKeys(t *testing.T) {
	_, err := NewAuthService(nil, []byte("x"), time.Minute, time.Minute)
	assert.Error(t, err)

	priv, pub := testKeys(t)
	_, err = NewAuthService(priv, pub, 0, time.Minute)
	assert.Error(t, err)
}

func TestPasswordHelpers(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("correct horse", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))

	assert.ErrorIs(t, ValidatePassword("short"), ErrWeakPassword)
	assert.NoError(t, ValidatePassword("long enough"))
	assert.Error(t, ValidatePassword(strings.Repeat("a", 73)))

	p1, err := GeneratePassword(0)
	require.NoError(t, err)
	p2, err := GeneratePassword(0)
	require.NoError(t, err)
	assert.Len(t, p1, 32)
	assert.NotEqual(t, p1, p2)
}
