// Package gemini is the synchronous client for the generative-language
// translation endpoint: request building, outcome classification, and
// parsing of the delimited translation output.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	log "github.com/minhvu-dev/subsweep/internal/logging"
	"github.com/minhvu-dev/subsweep/internal/resilience"
)

// DefaultBaseURL is the generative-language API models root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Outcome classifies one call for the usage recorder.
type Outcome int

const (
	// OutcomeSuccess is a 200 with a text body.
	OutcomeSuccess Outcome = iota
	// OutcomeRateLimited is a provider 429.
	OutcomeRateLimited
	// OutcomeQuotaExhausted is the provider's daily-cap signal.
	OutcomeQuotaExhausted
	// OutcomeFailed is any other error, including malformed responses.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeQuotaExhausted:
		return "quota_exhausted"
	default:
		return "failed"
	}
}

// Result is the interpreted response of one Generate call.
type Result struct {
	Outcome      Outcome
	StatusCode   int
	Text         string
	ErrorMessage string
}

// Client calls the translation endpoint. A circuit breaker guards against
// hammering the provider through a full outage; rate-limit and quota
// signals never trip it since they are per-credential, not provider-wide.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *resilience.CircuitBreaker
}

// Option mutates a Client during construction.
type Option func(*Client)

// WithBaseURL overrides the endpoint root (tests point this at httptest).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client with the given per-call timeout. The timeout is
// the network bound for one request and is independent of (and shorter
// than) the rate-limit cooldown window.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Transport: newTransport(), Timeout: timeout},
		baseURL:    DefaultBaseURL,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig("gemini")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends prompt to model using apiKey and classifies the response.
// A non-nil error means the call never produced an interpretable response
// (transport failure, timeout, open breaker); the credential should be
// recorded as a generic failure, never as rate-limited.
func (c *Client) Generate(ctx context.Context, prompt, apiKey, model string) (*Result, error) {
	payload, err := buildPayload(prompt)
	if err != nil {
		return nil, fmt.Errorf("gemini: build payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, model, apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: call %s: %w", model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	return classify(resp.StatusCode, body), nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}

// classify maps an HTTP response onto the outcome taxonomy.
func classify(status int, body []byte) *Result {
	switch {
	case status == http.StatusTooManyRequests:
		return &Result{Outcome: OutcomeRateLimited, StatusCode: status, ErrorMessage: "rate limit exceeded"}

	case status != http.StatusOK:
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", status)
		}
		apiStatus := gjson.GetBytes(body, "error.status").String()
		log.Debugf("gemini: error status %d: %s", status, msg)
		if apiStatus == "RESOURCE_EXHAUSTED" || isQuotaMessage(msg) {
			return &Result{Outcome: OutcomeQuotaExhausted, StatusCode: status, ErrorMessage: msg}
		}
		return &Result{Outcome: OutcomeFailed, StatusCode: status, ErrorMessage: msg}
	}

	text := gjson.GetBytes(body, "candidates.0.content.parts.0.text").String()
	if text == "" {
		return &Result{Outcome: OutcomeFailed, StatusCode: status, ErrorMessage: "response has no content"}
	}
	return &Result{Outcome: OutcomeSuccess, StatusCode: status, Text: text}
}

func isQuotaMessage(msg string) bool {
	b := []byte(msg)
	return bytes.Contains(bytes.ToLower(b), []byte("quota")) ||
		bytes.Contains(bytes.ToLower(b), []byte("exhausted"))
}
