package hcaptcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const (
	defaultVerifyURL            = "https://api.hcaptcha.com/siteverify"
	defaultTimeout              = 5 * time.Second
	responseBodyReadLimit int64 = 1024
)

var (
	errSecretRequired  = errors.New("hcaptcha secret is required")
	errSiteKeyRequired = errors.New("hcaptcha site key is required")
)

// Client calls the hCaptcha siteverify endpoint behind a circuit breaker.
type Client struct {
	httpClient *http.Client
	verifyURL  string
	secret     string
	siteKey    string
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker[*VerifyResult]
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the instrumented default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds the siteverify client from the verification config.
func NewClient(cfg config.VerificationConfig, opts ...Option) (*Client, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	siteKey := strings.TrimSpace(cfg.SiteKey)
	if siteKey == "" {
		return nil, errSiteKeyRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		secret:    secret,
		siteKey:   siteKey,
		verifyURL: defaultVerifyURL,
		timeout:   timeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	if cfg.VerifyURL != "" {
		client.verifyURL = strings.TrimSpace(cfg.VerifyURL)
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	client.breaker = gobreaker.NewCircuitBreaker[*VerifyResult](breakerSettings(cfg))
	return client, nil
}

func breakerSettings(cfg config.VerificationConfig) gobreaker.Settings {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.BreakerOpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return gobreaker.Settings{
		Name:        "hcaptcha-siteverify",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
}

// SiteKey is the public key the browser widget renders challenges with.
func (c *Client) SiteKey() string {
	if c == nil {
		return ""
	}
	return c.siteKey
}

// VerifyRequest carries the widget response token to be checked.
type VerifyRequest struct {
	Response string
	RemoteIP string
}

// VerifyResult is the normalized siteverify answer. Success=false is a
// definitive rejection, not a transport failure.
type VerifyResult struct {
	Success     bool
	Hostname    string
	Action      string
	ChallengeTS time.Time
	ErrorCodes  []string
}

// Verify submits the token to siteverify. Transport failures, non-200
// statuses and an open breaker all surface as dependency errors.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "hcaptcha client not configured")
	}
	if strings.TrimSpace(req.Response) == "" {
		return &VerifyResult{Success: false, ErrorCodes: []string{"missing-input-response"}}, nil
	}

	result, err := c.breaker.Execute(func() (*VerifyResult, error) {
		return c.siteverify(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "hcaptcha circuit open")
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "hcaptcha verify failed")
	}
	return result, nil
}

func (c *Client) siteverify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("sitekey", c.siteKey)
	form.Set("response", strings.TrimSpace(req.Response))
	if ip := strings.TrimSpace(req.RemoteIP); ip != "" {
		form.Set("remoteip", ip)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build siteverify request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute siteverify request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "siteverify request failed")
	}

	var apiResp struct {
		Success     bool     `json:"success"`
		Hostname    string   `json:"hostname"`
		Action      string   `json:"action"`
		ChallengeTS string   `json:"challenge_ts"`
		ErrorCodes  []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode siteverify response")
	}

	result := &VerifyResult{
		Success:    apiResp.Success,
		Hostname:   apiResp.Hostname,
		Action:     apiResp.Action,
		ErrorCodes: apiResp.ErrorCodes,
	}
	if ts, err := time.Parse(time.RFC3339, apiResp.ChallengeTS); err == nil {
		result.ChallengeTS = ts
	}
	return result, nil
}
