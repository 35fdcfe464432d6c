package appstore_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/appstore"
)

func testSigningKey(t *testing.T) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestNewTokenSource(t *testing.T) {
	t.Parallel()

	keyPEM := testSigningKey(t)

	t.Run("valid credentials", func(t *testing.T) {
		t.Parallel()

		ts, err := appstore.NewTokenSource("KEY123", "issuer-uuid", keyPEM)
		require.NoError(t, err)
		assert.NotNil(t, ts)
	})

	t.Run("missing credentials", func(t *testing.T) {
		t.Parallel()

		_, err := appstore.NewTokenSource("", "issuer-uuid", keyPEM)
		assert.ErrorIs(t, err, appstore.ErrMissingCredentials)

		_, err = appstore.NewTokenSource("KEY123", "", keyPEM)
		assert.ErrorIs(t, err, appstore.ErrMissingCredentials)

		_, err = appstore.NewTokenSource("KEY123", "issuer-uuid", nil)
		assert.ErrorIs(t, err, appstore.ErrMissingCredentials)
	})

	t.Run("garbage key", func(t *testing.T) {
		t.Parallel()

		_, err := appstore.NewTokenSource("KEY123", "issuer-uuid", []byte("not a pem"))
		assert.ErrorIs(t, err, appstore.ErrInvalidPrivateKey)
	})
}

func TestTokenClaims(t *testing.T) {
	t.Parallel()

	ts, err := appstore.NewTokenSource("KEY123", "issuer-uuid", testSigningKey(t))
	require.NoError(t, err)

	before := time.Now()
	token, err := ts.Token()
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	var header struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
		Typ string `json:"typ"`
	}
	require.NoError(t, json.Unmarshal(headerJSON, &header))
	assert.Equal(t, "ES256", header.Alg)
	assert.Equal(t, "KEY123", header.Kid)
	assert.Equal(t, "JWT", header.Typ)

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims struct {
		Iss string `json:"iss"`
		Iat int64  `json:"iat"`
		Exp int64  `json:"exp"`
		Aud string `json:"aud"`
	}
	require.NoError(t, json.Unmarshal(claimsJSON, &claims))
	assert.Equal(t, "issuer-uuid", claims.Iss)
	assert.Equal(t, "appstoreconnect-v1", claims.Aud)
	assert.InDelta(t, before.Unix(), claims.Iat, 5)
	assert.Equal(t, claims.Iat+int64(20*time.Minute/time.Second), claims.Exp)

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	assert.Len(t, sig, 64, "JOSE raw R||S signature")
}

func TestTokenReuse(t *testing.T) {
	t.Parallel()

	ts, err := appstore.NewTokenSource("KEY123", "issuer-uuid", testSigningKey(t))
	require.NoError(t, err)

	first, err := ts.Token()
	require.NoError(t, err)
	second, err := ts.Token()
	require.NoError(t, err)

	assert.Equal(t, first, second, "a fresh token is reused until near expiry")
}

func TestStatusMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "valid receipt", appstore.StatusMessage(appstore.StatusSuccess))
	assert.Contains(t, appstore.StatusMessage(appstore.StatusSandboxReceiptOnProduction), "test receipt")
	assert.Contains(t, appstore.StatusMessage(99999), "unknown status code")
}
