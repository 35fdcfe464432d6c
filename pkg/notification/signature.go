package notification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerSignature = "X-Apple-Signature"
	headerTimestamp = "X-Apple-Timestamp"
	headerCertURL   = "X-Apple-Cert-Url"

	// trustedCertPrefix is the only origin accepted for signing certificates.
	trustedCertPrefix = "https://developer.apple.com/"

	// DefaultMaxAge rejects replayed notifications older than this.
	DefaultMaxAge = 5 * time.Minute
)

// SignatureHeaders are the authentication headers on a notification request.
type SignatureHeaders struct {
	Signature string
	Timestamp string
	CertURL   string
}

// ExtractSignatureHeaders pulls the signature headers from a request.
func ExtractSignatureHeaders(h http.Header) SignatureHeaders {
	return SignatureHeaders{
		Signature: h.Get(headerSignature),
		Timestamp: h.Get(headerTimestamp),
		CertURL:   h.Get(headerCertURL),
	}
}

// Verifier authenticates notification payloads. The signature is an HMAC over
// "timestamp.payload" so an attacker cannot re-sign a captured body with a
// fresh timestamp.
type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewVerifier creates a verifier with the shared signing secret. Panics on an
// empty secret: running with signature checks silently disabled is worse than
// failing at startup.
func NewVerifier(secret string, opts ...VerifierOption) *Verifier {
	if secret == "" {
		panic("notification: signing secret is required")
	}
	v := &Verifier{
		secret: []byte(secret),
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifierOption configures optional verifier settings.
type VerifierOption func(*Verifier)

// WithMaxAge overrides the replay tolerance window.
func WithMaxAge(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.maxAge = d
		}
	}
}

// WithVerifierClock injects the time source for tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// Verify authenticates the payload against the request headers. It checks the
// certificate origin and timestamp freshness before the HMAC so obviously
// forged requests are rejected without touching the secret.
func (v *Verifier) Verify(payload []byte, h SignatureHeaders) error {
	if h.Signature == "" || h.Timestamp == "" {
		return fmt.Errorf("%w: missing signature headers", ErrInvalidSignature)
	}
	if h.CertURL != "" && !strings.HasPrefix(h.CertURL, trustedCertPrefix) {
		return fmt.Errorf("%w: %s", ErrInvalidCertURL, h.CertURL)
	}

	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrInvalidSignature, h.Timestamp)
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.maxAge || age < -v.maxAge {
		return fmt.Errorf("%w: signed %s ago", ErrStaleTimestamp, age)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(h.Timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(h.Signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the signature for a payload at the given timestamp. Used by
// tests and local tooling that emit notifications.
func (v *Verifier) Sign(payload []byte, timestamp string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
