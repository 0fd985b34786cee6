/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package dialersdk holds the core HTTP client shared by the dialer collaborator
// clients (tokens, billing, recordings): authentication, retries, logging and
// structured API errors.
package dialersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger is the interface for SDK logging. Any logger that implements Printf
// (such as the standard library's *log.Logger) can be used.
type Logger interface {
	Printf(format string, v ...any)
}

// Warnf logs a warning through l. A nil logger falls back to log.Default().
func Warnf(l Logger, format string, v ...any) {
	if l == nil {
		l = log.Default()
	}
	l.Printf("WARN "+format, v...)
}

// Client is the core client for the dialer backend API
type Client struct {
	httpClient   *http.Client
	sessionToken string
	logger       Logger

	// BaseURL is the parsed API root; paths are resolved against it
	BaseURL *url.URL
	Config  *Config
}

// GetLogger returns the logger used by the SDK.
func (c *Client) GetLogger() Logger {
	return c.logger
}

// Config holds the configuration for the dialer client
type Config struct {
	// BaseURL is the base URL of the dialer backend API
	BaseURL string
	// Timeout for API requests when HttpClient is nil
	Timeout    time.Duration
	HttpClient *http.Client

	// MaxRetries bounds retries of 429, 502, 503 and 504 responses; 0 disables them
	MaxRetries int
	// RetryBaseDelay is the first retry delay, doubled on every retry
	RetryBaseDelay time.Duration

	// Logger for SDK operations; nil means log.Default()
	Logger Logger
}

// DefaultConfig returns a default configuration for the dialer client
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:3000/api",
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,
	}
}

// NewClient creates a new dialer client with the given session token and optional configuration
func NewClient(sessionToken string, config *Config) (*Client, error) {
	if sessionToken == "" {
		return nil, fmt.Errorf("session token cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	baseURL, err := url.Parse(strings.TrimSuffix(config.BaseURL, "/"))
	if err != nil {
		return nil, err
	}

	httpClient := config.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Client{
		httpClient:   httpClient,
		BaseURL:      baseURL,
		sessionToken: sessionToken,
		logger:       logger,
		Config:       config,
	}, nil
}

// RequestWithContext performs a single JSON request against path. The
// caller closes the response body.
func (c *Client) RequestWithContext(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	u := *c.BaseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Tracking-ID", "dialer-go-sdk_"+uuid.New().String())

	return c.httpClient.Do(req)
}

// RequestWithRetry performs an HTTP request with automatic retry for transient errors.
// It retries on HTTP 429 (respecting Retry-After) and 502, 503, 504 using
// exponential backoff. The caller is responsible for closing the response body.
func (c *Client) RequestWithRetry(ctx context.Context, method, path string, params url.Values, body interface{}) (*http.Response, error) {
	maxRetries := c.Config.MaxRetries
	baseDelay := c.Config.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = 1 * time.Second
	}

	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err = c.RequestWithContext(ctx, method, path, params, body)
		if err != nil {
			return nil, err
		}

		if !isRetryableStatus(resp.StatusCode) || attempt == maxRetries {
			return resp, nil
		}

		delay := retryDelay(resp, baseDelay, attempt)
		resp.Body.Close()
		c.logger.Printf("%s %s returned %d; retry %d/%d in %s", method, path, resp.StatusCode, attempt+1, maxRetries, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return resp, err
}

// isRetryableStatus returns true for HTTP status codes that should be retried.
func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// retryDelay calculates the delay before the next retry attempt.
// For 429 responses, it respects the Retry-After header if present.
// Otherwise, it uses exponential backoff: baseDelay * 2^attempt.
func retryDelay(resp *http.Response, baseDelay time.Duration, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return baseDelay * (1 << uint(attempt))
}

// ParseResponse parses an HTTP response into the given interface.
// Non-2xx responses are returned as structured API errors.
func ParseResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return NewAPIError(resp, body)
	}

	if v == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	return json.Unmarshal(body, v)
}
