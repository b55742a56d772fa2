// Package gateway is the single point of contact with the external
// instance-management API (Evolution API).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/klimadev/chamalead-sub000/internal/cache"
	"github.com/klimadev/chamalead-sub000/internal/config"
)

const defaultMaxRetries = 3

// Result is the outcome of one upstream call. Status 0 means the request
// never produced a usable HTTP response (connection refused, DNS, TLS,
// timeout, empty body) and is the only retryable failure class; any real
// HTTP status is terminal at this layer.
type Result struct {
	Status int
	Data   any
	Err    string
}

func (r Result) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// TransportFailure reports whether the call failed before a valid response.
func (r Result) TransportFailure() bool {
	return r.Status == 0
}

type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	cache      *cache.Cache
	maxRetries int
	backoff    time.Duration
	sleep      func(time.Duration)
}

func NewClient(cfg *config.Config, store *cache.Cache) *Client {
	maxRetries := cfg.APIMaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.EvolutionAPIURL, "/"),
		apiKey:     cfg.EvolutionAPIKey,
		http:       &http.Client{Timeout: cfg.APITimeout()},
		cache:      store,
		maxRetries: maxRetries,
		backoff:    config.GatewayBackoffBase,
		sleep:      time.Sleep,
	}
}

// WithSleep overrides the backoff sleeper. Test hook.
func (c *Client) WithSleep(sleep func(time.Duration)) *Client {
	c.sleep = sleep
	return c
}

type requestOptions struct {
	maxRetries int
}

type RequestOption func(*requestOptions)

// WithMaxRetries overrides the retry budget for one call.
// WithMaxRetries(0) disables retries entirely.
func WithMaxRetries(n int) RequestOption {
	return func(o *requestOptions) { o.maxRetries = n }
}

// Request performs one logical upstream call, retrying transport failures
// with exponential backoff (1s, 2s, 4s). Errors never escape as Go errors:
// every failure mode is folded into the Result so callers must handle the
// pending/retryable/terminal distinction explicitly.
func (c *Client) Request(ctx context.Context, method, endpoint string, body any, opts ...RequestOption) Result {
	options := requestOptions{maxRetries: c.maxRetries}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxRetries < 0 {
		options.maxRetries = 0
	}

	var result Result
	for attempt := 0; attempt <= options.maxRetries; attempt++ {
		result = c.do(ctx, method, endpoint, body)
		if !result.TransportFailure() {
			return result
		}

		if attempt < options.maxRetries {
			delay := c.backoff << uint(attempt)
			log.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Str("error", result.Err).
				Msg("upstream transport failure, retrying")
			c.sleep(delay)
		}

		if ctx.Err() != nil {
			break
		}
	}

	log.Error().
		Str("endpoint", endpoint).
		Int("attempts", options.maxRetries+1).
		Str("error", result.Err).
		Msg("upstream unreachable")
	return result
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) Result {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Result{Err: fmt.Sprintf("marshal request body: %v", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return Result{Err: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Err: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Err: fmt.Sprintf("read response: %v", err)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		// An empty body from this API means the request died mid-flight.
		return Result{Err: "empty response"}
	}

	result := Result{Status: resp.StatusCode}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		result.Data = parsed
	}
	if !result.OK() {
		result.Err = upstreamErrorMessage(result.Data, resp.StatusCode)
	}
	return result
}

// upstreamErrorMessage pulls a human-readable message out of an error
// response body, falling back to the HTTP status.
func upstreamErrorMessage(data any, status int) string {
	if obj, ok := data.(map[string]any); ok {
		for _, key := range []string{"message", "error", "response"} {
			switch v := obj[key].(type) {
			case string:
				return v
			case []any:
				parts := make([]string, 0, len(v))
				for _, item := range v {
					if s, ok := item.(string); ok {
						parts = append(parts, s)
					}
				}
				if len(parts) > 0 {
					return strings.Join(parts, "; ")
				}
			case map[string]any:
				if msg, ok := v["message"].(string); ok {
					return msg
				}
			}
		}
	}
	return fmt.Sprintf("upstream returned status %d", status)
}
