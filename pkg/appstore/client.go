package appstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config holds the upstream client settings.
type Config struct {
	VerifyURL        string        `env:"APPSTORE_VERIFY_URL" envDefault:"https://buy.itunes.apple.com/verifyReceipt"`
	SandboxVerifyURL string        `env:"APPSTORE_SANDBOX_VERIFY_URL" envDefault:"https://sandbox.itunes.apple.com/verifyReceipt"`
	APIBaseURL       string        `env:"APPSTORE_API_URL" envDefault:"https://api.storekit.itunes.apple.com/inApps/v1"`
	SharedSecret     string        `env:"APPSTORE_SHARED_SECRET,required"`
	KeyID            string        `env:"APPSTORE_KEY_ID"`
	IssuerID         string        `env:"APPSTORE_ISSUER_ID"`
	PrivateKeyPath   string        `env:"APPSTORE_PRIVATE_KEY_PATH"`
	RequestTimeout   time.Duration `env:"APPSTORE_REQUEST_TIMEOUT" envDefault:"15s"`
	// MaxRequestsPerMinute is a conservative local budget below the store's
	// documented limits; 0 disables the guard.
	MaxRequestsPerMinute int `env:"APPSTORE_MAX_REQUESTS_PER_MINUTE" envDefault:"200"`
}

// ReceiptInfo is one transaction entry from the verification response.
type ReceiptInfo struct {
	ProductID             string `json:"product_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDateMS         string `json:"expires_date_ms"`
	IsTrialPeriod         string `json:"is_trial_period"`
	IsInIntroOfferPeriod  string `json:"is_in_intro_offer_period"`
	WebOrderLineItemID    string `json:"web_order_line_item_id"`
}

// ExpiresAt parses the millisecond expiry timestamp.
func (r ReceiptInfo) ExpiresAt() (time.Time, bool) {
	ms, err := strconv.ParseInt(r.ExpiresDateMS, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// InTrial reports whether the transaction covers a trial period.
func (r ReceiptInfo) InTrial() bool {
	return r.IsTrialPeriod == "true"
}

// RenewalInfo carries the auto-renew preference for a subscription.
type RenewalInfo struct {
	ProductID       string `json:"product_id"`
	AutoRenewStatus string `json:"auto_renew_status"`
}

// VerifyResponse is the verification endpoint's response body.
type VerifyResponse struct {
	Status             int           `json:"status"`
	Environment        string        `json:"environment"`
	LatestReceipt      string        `json:"latest_receipt"`
	LatestReceiptInfo  []ReceiptInfo `json:"latest_receipt_info"`
	PendingRenewalInfo []RenewalInfo `json:"pending_renewal_info"`

	RetriedWithSandbox bool `json:"-"`
}

// Latest returns the most recent transaction in the receipt, or nil.
func (v *VerifyResponse) Latest() *ReceiptInfo {
	if len(v.LatestReceiptInfo) == 0 {
		return nil
	}
	return &v.LatestReceiptInfo[0]
}

// AutoRenewEnabled reports the auto-renew preference; defaults to true when
// the response carries no renewal info.
func (v *VerifyResponse) AutoRenewEnabled() bool {
	if len(v.PendingRenewalInfo) == 0 {
		return true
	}
	return v.PendingRenewalInfo[0].AutoRenewStatus == "1"
}

// Client talks to the store's receipt verification and subscription status
// endpoints. It performs no retries and holds no entitlement state; wrap
// calls with the retry policy and circuit breaker at the orchestration layer.
type Client struct {
	http    *resty.Client
	cfg     Config
	tokens  *TokenSource
	limiter *requestWindow
}

// Option configures optional client settings.
type Option func(*Client)

// WithTokenSource supplies the ES256 token source for the server API.
// Without it, only receipt verification (shared-secret auth) is available.
func WithTokenSource(ts *TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = resty.NewWithClient(hc)
		}
	}
}

// New creates an upstream client from the given config.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.SharedSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	c := &Client{
		http: resty.New(),
		cfg:  cfg,
		limiter: &requestWindow{
			max:    cfg.MaxRequestsPerMinute,
			window: time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetTimeout(cfg.RequestTimeout)

	return c, nil
}

// VerifyReceipt submits a base64 receipt to the verification endpoint.
// Production is tried first; a sandbox receipt (status 21007) is transparently
// retried against the sandbox endpoint, which is the store's recommended flow
// and keeps App Review builds working.
func (c *Client) VerifyReceipt(ctx context.Context, receiptData string) (*VerifyResponse, error) {
	if receiptData == "" {
		return nil, fmt.Errorf("%w: empty receipt data", ErrInvalidReceipt)
	}
	if err := c.limiter.take(); err != nil {
		return nil, err
	}

	body := map[string]any{
		"receipt-data":             receiptData,
		"password":                 c.cfg.SharedSecret,
		"exclude-old-transactions": true,
	}

	resp, err := c.postVerify(ctx, c.cfg.VerifyURL, body)
	if err != nil {
		return nil, err
	}

	if resp.Status == StatusSandboxReceiptOnProduction {
		resp, err = c.postVerify(ctx, c.cfg.SandboxVerifyURL, body)
		if err != nil {
			return nil, err
		}
		resp.Environment = "sandbox"
		resp.RetriedWithSandbox = true
	}

	if err := statusError(resp.Status); err != nil {
		return nil, err
	}
	return resp, nil
}

// SubscriptionStatus queries the server API for the current status of a
// subscription by transaction ID. Requires a configured token source.
func (c *Client) SubscriptionStatus(ctx context.Context, transactionID string) (map[string]any, error) {
	if c.tokens == nil {
		return nil, ErrMissingCredentials
	}
	if err := c.limiter.take(); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	var out map[string]any
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&out).
		Get(c.cfg.APIBaseURL + "/subscriptions/" + url.PathEscape(transactionID))
	if err != nil {
		return nil, errors.Join(ErrNoNetwork, err)
	}
	if err := httpError(resp); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) postVerify(ctx context.Context, endpoint string, body any) (*VerifyResponse, error) {
	var out VerifyResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post(endpoint)
	if err != nil {
		return nil, errors.Join(ErrNoNetwork, err)
	}
	if err := httpError(resp); err != nil {
		return nil, err
	}
	return &out, nil
}

// httpError maps transport-level status codes to the error taxonomy. The
// verification endpoint reports most failures in the body instead, which
// statusError handles separately.
func httpError(resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthenticated
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"))}
	case code >= 500:
		return fmt.Errorf("%w: status %d", ErrServerError, code)
	case code >= 400:
		return fmt.Errorf("%w: status %d", ErrInvalidResponse, code)
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// requestWindow enforces a local requests-per-minute budget so a burst of
// validations cannot trip the store's server-side rate limits.
type requestWindow struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	count   int
	resetAt time.Time
}

func (w *requestWindow) take() error {
	if w.max <= 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if now.After(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(w.window)
	}
	if w.count >= w.max {
		return ErrRequestBudget
	}
	w.count++
	return nil
}
