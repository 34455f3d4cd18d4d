// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Configuration constants for the OpenRouter API.
const (
	// DefaultBaseURL is the base URL for the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout applies to non-streaming requests (models, generation stats).
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed non-streaming response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	userAgent = "routerchat/0.3.0"
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
)

// Error variables for common OpenRouter errors. Every error returned for a
// non-2xx response is an *APIError that unwraps to one of these when the
// status has a well-known meaning.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("OpenRouter API key not configured")

	// ErrAuthFailed indicates the API key was rejected (401).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrForbidden indicates the key is valid but not allowed (403).
	ErrForbidden = errors.New("forbidden")

	// ErrInsufficientCredits indicates the account has no credit left (402).
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNotFound indicates the resource does not exist yet or at all (404).
	// The generation endpoint answers 404 until stats are ready.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited indicates too many requests were made (429).
	ErrRateLimited = errors.New("rate limited")
)

// APIError represents a non-2xx response from the OpenRouter API.
type APIError struct {
	Status  int
	Code    string
	Message string

	kind error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, msg)
	}
	return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, msg)
}

// Unwrap returns the sentinel matching the status, if any.
func (e *APIError) Unwrap() error {
	return e.kind
}

// apiErrorBody is the error object OpenRouter returns, both in error
// responses and inside mid-stream events. Code is a number or a string
// depending on the upstream provider.
type apiErrorBody struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

func (b *apiErrorBody) code() string {
	return strings.Trim(string(b.Code), `"`)
}

type apiErrorResponse struct {
	Error *apiErrorBody `json:"error"`
}

// ChatMessage is a single message in the provider wire format.
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Client talks to an OpenRouter-compatible API.
//
// A Client is safe for concurrent use. The API key can be swapped with
// SetAPIKey when the user changes credentials mid-session.
type Client struct {
	keyMu    sync.RWMutex
	apiKey   string
	baseURL  string
	siteURL  string
	siteName string

	// httpClient is used for bounded requests; streamClient has no timeout
	// since a reply may stream for minutes. Cancellation is context-driven.
	httpClient   *http.Client
	streamClient *http.Client

	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates a client with the given API key.
//
// The key should look like "sk-or-...". An empty key still yields a usable
// client; requests fail with ErrNotConfigured until SetAPIKey is called.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      DefaultBaseURL,
		siteURL:      "https://github.com/jeranaias/routerchat",
		siteName:     "routerchat",
		httpClient:   &http.Client{Transport: sharedTransport, Timeout: DefaultTimeout},
		streamClient: &http.Client{Transport: sharedTransport},
		logger:       zap.NewNop(),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimSuffix(u, "/")
	return c
}

// WithTimeout sets the timeout for non-streaming requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
	return c
}

// WithSite sets the attribution headers OpenRouter uses for app rankings.
func (c *Client) WithSite(siteURL, siteName string) *Client {
	c.siteURL = siteURL
	c.siteName = siteName
	return c
}

// WithRateLimit paces outbound requests. A non-positive rps disables pacing.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return c
}

// WithHTTPClient replaces both underlying HTTP clients. Intended for tests
// and custom transports.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// WithLogger sets the logger used for request diagnostics.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger.With(zap.String("component", "cloud"))
	}
	return c
}

// SetAPIKey replaces the API key.
func (c *Client) SetAPIKey(apiKey string) {
	c.keyMu.Lock()
	c.apiKey = strings.TrimSpace(apiKey)
	c.keyMu.Unlock()
}

// key returns the current API key.
func (c *Client) key() string {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.apiKey
}

// IsConfigured returns true if the client has an API key configured.
func (c *Client) IsConfigured() bool {
	return c.key() != ""
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIKeyMasked returns a display-safe description of the API key.
// SECURITY: Never exposes key fragments, only a fingerprint.
func (c *Client) APIKeyMasked() string {
	key := c.key()
	if key == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(key), fingerprint(key))
}

// keyFingerprint returns the first 8 hex chars of the key's SHA-256.
func (c *Client) keyFingerprint() string {
	return fingerprint(c.key())
}

func fingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// setHeaders sets the required headers for OpenRouter API requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.key())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// do paces, sends and logs a request. The caller owns resp.Body.
func (c *Client) do(ctx context.Context, hc *http.Client, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)

	// SECURITY: Clear Authorization header immediately after request to prevent logging
	req.Header.Del("Authorization")

	if err != nil {
		c.logger.Debug("api request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.logger.Debug("api response",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
		zap.String("key", c.keyFingerprint()))
	return resp, nil
}

// get issues an authenticated GET and returns the size-limited body of a
// 2xx response. Non-2xx responses become *APIError.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.do(ctx, c.httpClient, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

// readResponse reads the response body with size limits to prevent memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// NewAPIError builds the error for a non-2xx status, unwrapping to the
// sentinel that matches the status.
func NewAPIError(status int, message string) *APIError {
	apiErr := &APIError{Status: status, Message: message}
	switch status {
	case http.StatusUnauthorized:
		apiErr.kind = ErrAuthFailed
	case http.StatusForbidden:
		apiErr.kind = ErrForbidden
	case http.StatusPaymentRequired:
		apiErr.kind = ErrInsufficientCredits
	case http.StatusNotFound:
		apiErr.kind = ErrNotFound
	case http.StatusTooManyRequests:
		apiErr.kind = ErrRateLimited
	}
	return apiErr
}

// handleErrorResponse converts an HTTP error response to an *APIError.
func handleErrorResponse(statusCode int, body []byte) error {
	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		apiErr := NewAPIError(statusCode, parsed.Error.Message)
		apiErr.Code = parsed.Error.code()
		return apiErr
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return NewAPIError(statusCode, msg)
}

// =============================================================================
// ENDPOINTS
// =============================================================================

// StreamChat opens a streaming chat completion. The returned Stream owns the
// response body and must be closed by the caller. A non-2xx status is
// returned as an error with the body already released.
func (c *Client) StreamChat(ctx context.Context, chatReq ChatRequest) (*Stream, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	chatReq.Stream = true
	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(ctx, c.streamClient, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := readResponse(resp)
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	return NewStream(resp.Body, c.logger), nil
}

// FetchGeneration retrieves authoritative usage for a completed generation.
//
// The endpoint is eventually consistent: a 404 (ErrNotFound) or a 200
// without a data object (ErrMissingData) means the stats are not ready yet.
func (c *Client) FetchGeneration(ctx context.Context, id string) (GenerationStats, error) {
	if !c.IsConfigured() {
		return GenerationStats{}, ErrNotConfigured
	}
	body, err := c.get(ctx, "/generation", url.Values{"id": {id}})
	if err != nil {
		return GenerationStats{}, err
	}
	return ParseGenerationStats(body)
}
