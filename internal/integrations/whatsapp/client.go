// Package whatsapp talks to the WhatsApp Cloud API: it sends message
// envelopes and decodes webhook deliveries.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"lead-qualifier/internal/retry"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Temporary reports whether the provider asked us to back off or failed on
// its side.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client sends messages for a single business phone number.
type Client struct {
	baseURL       string
	apiVersion    string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
	policy        retry.Policy
	breaker       *gobreaker.CircuitBreaker
	logger        *zap.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithAPIVersion(version string) Option {
	return func(c *Client) {
		c.apiVersion = strings.Trim(strings.TrimSpace(version), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRetryPolicy sets the per-send retry budget and attempt timeout.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client for the given sender phone number id.
func NewClient(phoneNumberID, accessToken string, opts ...Option) (*Client, error) {
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, errors.New("whatsapp: phone number id must not be empty")
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, errors.New("whatsapp: access token must not be empty")
	}
	c := &Client{
		baseURL:       defaultBaseURL,
		apiVersion:    defaultAPIVersion,
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		httpClient:    &http.Client{},
		policy:        retry.DefaultPolicy(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "whatsapp-send",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Rejections of a single message are the caller's problem, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || !retry.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c, nil
}

func messagesURL(baseURL, version, phoneNumberID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if version == "" {
		version = defaultAPIVersion
	}
	return base + "/" + version + "/" + phoneNumberID + "/messages"
}

// Send posts the envelope, retrying transient failures within the client's
// budget. An open breaker fails fast with gobreaker.ErrOpenState.
func (c *Client) Send(ctx context.Context, env Envelope) (SendResult, error) {
	if strings.TrimSpace(env.To) == "" {
		return SendResult{}, errors.New("whatsapp: recipient must not be empty")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: marshal request: %w", err)
	}
	url := messagesURL(c.baseURL, c.apiVersion, c.phoneNumberID)

	var result SendResult
	attempt := 0
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		attempt++
		raw, execErr := c.breaker.Execute(func() (any, error) {
			return c.post(ctx, url, body)
		})
		if execErr != nil {
			c.logger.Debug("send attempt failed",
				zap.String("kind", env.Kind()),
				zap.Int("attempt", attempt),
				zap.Error(execErr),
			)
			return execErr
		}
		if decErr := json.Unmarshal(raw.([]byte), &result); decErr != nil {
			return fmt.Errorf("whatsapp: decode response: %w", decErr)
		}
		return nil
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("whatsapp: send %s: %w", env.Kind(), err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	return c.doJSONRequest(req, url)
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
