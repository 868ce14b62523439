// Package converter is a client for the paid third-party conversion API.
//
// The API takes a source identity and a bitrate and answers with a URL to a
// finished MP3 it hosts. Nothing is downloaded locally; the URL becomes the
// job's artifact location.
package converter

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

	"golang.org/x/time/rate"

	"media-extractor/internal/logging"
	"media-extractor/internal/metrics"
	"media-extractor/internal/models"
)

const (
	// DefaultTimeout bounds a single conversion request.
	DefaultTimeout = 2 * time.Minute

	// DefaultRequestsPerSecond caps outbound calls to the API.
	DefaultRequestsPerSecond = 2
)

// ErrNotConfigured is returned when no API URL is set.
var ErrNotConfigured = errors.New("conversion API is not configured")

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerSecond limits calls to the API. Zero uses the default,
	// a negative value disables the limit.
	RequestsPerSecond float64
	// HTTPClient overrides the default client. Its Timeout is left alone.
	HTTPClient *http.Client
}

// Result is a successful conversion.
type Result struct {
	URL   string
	Title string
}

// Error is a failed conversion. Message is safe to show to callers.
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("conversion API (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return "conversion API: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

type convertRequest struct {
	ID      string `json:"id"`
	Bitrate string `json:"bitrate"`
}

type convertResponse struct {
	Status  string `json:"status"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Client calls the conversion API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     logging.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := 1
	switch {
	case cfg.RequestsPerSecond == 0:
		limit, burst = rate.Limit(DefaultRequestsPerSecond), DefaultRequestsPerSecond
	case cfg.RequestsPerSecond > 0:
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		log:     logging.Named("converter"),
	}
}

// Enabled reports whether an API URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Convert asks the API to produce an MP3 of the source at bitrate.
func (c *Client) Convert(ctx context.Context, identity, bitrate string) (*Result, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	res, err := c.convert(ctx, identity, bitrate)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ConverterRequestsTotal.WithLabelValues(status).Inc()
	return res, err
}

func (c *Client) convert(ctx context.Context, identity, bitrate string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Message: "conversion interrupted", Err: err}
	}

	body, err := json.Marshal(convertRequest{ID: identity, Bitrate: bitrate})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Message: "invalid API URL", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{Message: "conversion interrupted", Err: ctx.Err()}
		}
		return nil, &Error{Message: "conversion service unreachable", Err: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Warn("failed to close response body: %v", cerr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "truncated response", Err: err}
	}

	var out convertResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: "unreadable response", Err: err}
	}

	if resp.StatusCode >= 300 || out.Status != "ok" {
		msg := out.Message
		if msg == "" {
			msg = "conversion failed"
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: msg}
	}
	if !models.IsRemoteLocation(out.URL) {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "response carried no download URL"}
	}

	c.log.Debug("converted %s at %s in %v", identity, bitrate, time.Since(start).Round(time.Millisecond))
	return &Result{URL: out.URL, Title: out.Title}, nil
}
