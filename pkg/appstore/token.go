package appstore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	tokenAudience = "appstoreconnect-v1"
	// tokenTTL is the maximum lifetime the store API accepts.
	tokenTTL = 20 * time.Minute
	// tokenReuseBuffer stops reusing a cached token this close to expiry.
	tokenReuseBuffer = 5 * time.Minute
)

// TokenSource issues ES256-signed bearer tokens for the store's server API
// and caches them until near expiry so concurrent validations share one
// signature operation per 15-minute window.
type TokenSource struct {
	keyID    string
	issuerID string
	key      *ecdsa.PrivateKey
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource parses the PEM-encoded EC private key and returns a source
// bound to the given key and issuer IDs.
func NewTokenSource(keyID, issuerID string, privateKeyPEM []byte) (*TokenSource, error) {
	if keyID == "" || issuerID == "" || len(privateKeyPEM) == 0 {
		return nil, ErrMissingCredentials
	}

	key, err := parseECPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	return &TokenSource{
		keyID:    keyID,
		issuerID: issuerID,
		key:      key,
		now:      time.Now,
	}, nil
}

type tokenHeader struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Type      string `json:"typ"`
}

type tokenClaims struct {
	Issuer    string `json:"iss"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Audience  string `json:"aud"`
}

// Token returns a valid bearer token, reusing the cached one until it is
// within the reuse buffer of expiry.
func (ts *TokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.token != "" && now.Before(ts.expiresAt.Add(-tokenReuseBuffer)) {
		return ts.token, nil
	}

	expiresAt := now.Add(tokenTTL)
	token, err := ts.sign(now, expiresAt)
	if err != nil {
		return "", err
	}

	ts.token = token
	ts.expiresAt = expiresAt
	return token, nil
}

func (ts *TokenSource) sign(issuedAt, expiresAt time.Time) (string, error) {
	headerJSON, err := json.Marshal(tokenHeader{
		Algorithm: "ES256",
		KeyID:     ts.keyID,
		Type:      "JWT",
	})
	if err != nil {
		return "", fmt.Errorf("marshal token header: %w", err)
	}

	claimsJSON, err := json.Marshal(tokenClaims{
		Issuer:    ts.issuerID,
		IssuedAt:  issuedAt.Unix(),
		ExpiresAt: expiresAt.Unix(),
		Audience:  tokenAudience,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token claims: %w", err)
	}

	payload := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(claimsJSON)

	digest := sha256.Sum256([]byte(payload))
	r, s, err := ecdsa.Sign(rand.Reader, ts.key, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	// JOSE raw signature format: fixed-width big-endian R || S.
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	return payload + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

func parseECPrivateKey(pemData []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPrivateKey)
	}

	// Store-issued keys are PKCS#8; accept SEC1 too for locally generated
	// test keys.
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an EC key", ErrInvalidPrivateKey)
		}
		return ecKey, nil
	}

	ecKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Join(ErrInvalidPrivateKey, err)
	}
	return ecKey, nil
}
