// Package whatsappclient talks to the HTTP gateway that fronts the clinic's
// WhatsApp session.
package whatsappclient

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"
)

const defaultUserAgent = "clinicdesk-whatsapp/0.1"

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("whatsappclient: client closed")

// ErrNotConnected is returned by Connect when the session is not open.
var ErrNotConnected = errors.New("whatsappclient: session not connected")

// Config controls how the gateway client behaves.
type Config struct {
	BaseURL       string
	Token         string
	SessionID     string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
	UserAgent     string
}

// Client wraps the gateway's REST endpoints.
type Client struct {
	baseURL       string
	token         string
	sessionID     string
	webhookSecret string
	httpClient    *http.Client
	maxRetries    int
	backoff       time.Duration
	logger        *slog.Logger
	userAgent     string
	closed        atomic.Bool
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("whatsappclient: gateway URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("whatsappclient: invalid gateway URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:       baseURL,
		token:         cfg.Token,
		sessionID:     strings.TrimSpace(cfg.SessionID),
		webhookSecret: cfg.WebhookSecret,
		httpClient:    httpClient,
		maxRetries:    maxRetries,
		backoff:       backoff,
		logger:        logger,
		userAgent:     userAgent,
	}, nil
}

// Connect checks that the gateway's WhatsApp session is open.
func (c *Client) Connect(ctx context.Context) (*SessionStatus, error) {
	status, err := c.SessionStatus(ctx)
	if err != nil {
		return nil, err
	}
	if !status.Connected {
		return status, ErrNotConnected
	}
	c.logger.Info("whatsapp session connected", "session_id", status.SessionID, "state", status.State)
	return status, nil
}

// SessionStatus fetches the current session state.
func (c *Client) SessionStatus(ctx context.Context) (*SessionStatus, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	q := url.Values{}
	if c.sessionID != "" {
		q.Set("session_id", c.sessionID)
	}
	data, err := c.invoke(ctx, http.MethodGet, "/session/status", q, nil)
	if err != nil {
		return nil, err
	}
	var status SessionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("whatsappclient: decode session status: %w", err)
	}
	return &status, nil
}

// SendMessageToPatient sends text to phone. phone is digits with country code.
func (c *Client) SendMessageToPatient(ctx context.Context, phone, text string) (*SendResult, error) {
	return c.SendMessage(ctx, SendMessageRequest{To: phone, Text: text})
}

// SendMessage posts one text message through the gateway.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(sendMessageBody{SessionID: c.sessionID, To: req.To, Text: req.Text})
	if err != nil {
		return nil, fmt.Errorf("whatsappclient: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/messages", nil, body)
	if err != nil {
		return nil, err
	}
	var result SendResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whatsappclient: decode send response: %w", err)
	}
	return &result, nil
}

// VerifyWebhookSecret compares the shared secret sent by the gateway. It
// accepts every request when no secret is configured.
func (c *Client) VerifyWebhookSecret(provided string) error {
	if c.webhookSecret == "" {
		return nil
	}
	if strings.TrimSpace(provided) == "" {
		return errors.New("whatsappclient: missing webhook secret")
	}
	if subtle.ConstantTimeCompare([]byte(c.webhookSecret), []byte(provided)) != 1 {
		return errors.New("whatsappclient: webhook secret mismatch")
	}
	return nil
}

// Close stops the client from issuing further requests.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.buildURL(path, query)
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("whatsappclient: build request: %w", err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("whatsappclient: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("whatsappclient: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("whatsappclient: request failed without response")
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		full = full + "?" + query.Encode()
	}
	return full
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("whatsapp gateway retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("whatsappclient: %s (status=%d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("whatsappclient: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	parsed.StatusCode = status
	return &parsed
}
