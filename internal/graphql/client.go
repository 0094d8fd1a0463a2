// Package graphql talks to the dockhand API: queries and mutations over HTTP
// and subscriptions over WebSocket.
package graphql

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

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrUnauthenticated matches errors the API returns for a missing, expired
// or rejected bearer token.
var ErrUnauthenticated = errors.New("unauthenticated")

const (
	codeUnauthenticated = "UNAUTHENTICATED"
	maxResponseBytes    = 4 << 20
)

// Error is a request the API answered with an errors list or a non-2xx
// status.
type Error struct {
	StatusCode int
	Code       string
	Messages   []string
}

func (e *Error) Error() string {
	msg := strings.Join(e.Messages, "; ")
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("graphql: %s (%s)", msg, e.Code)
	}
	return "graphql: " + msg
}

// Unwrap lets errors.Is match ErrUnauthenticated.
func (e *Error) Unwrap() error {
	if e.Code == codeUnauthenticated || e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthenticated
	}
	return nil
}

// Options configures a Client.
type Options struct {
	Endpoint string
	Timeout  time.Duration
	// RateLimit caps requests per second across all callers. Zero disables
	// the limit.
	RateLimit float64
	Burst     int
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client issues GraphQL operations against a single endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewClient creates a Client.
func NewClient(opts Options, log zerolog.Logger) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		endpoint: opts.Endpoint,
		http:     hc,
		limiter:  rate.NewLimiter(limit, burst),
		log:      log.With().Str("component", "graphql").Logger(),
	}
}

type request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []errorEntry    `json:"errors"`
}

type errorEntry struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

func newError(status int, entries []errorEntry) *Error {
	e := &Error{StatusCode: status}
	for _, entry := range entries {
		e.Messages = append(e.Messages, entry.Message)
		if e.Code == "" {
			e.Code = entry.Extensions.Code
		}
	}
	return e
}

// Do runs one operation and decodes its data into out. token is sent as a
// bearer credential when non-empty.
func (c *Client) Do(ctx context.Context, token, operation, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(request{Query: query, OperationName: operation, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode %s: %w", operation, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", operation, err)
	}

	c.log.Debug().
		Str("operation", operation).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("graphql request")

	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return newError(resp.StatusCode, nil)
		}
		return fmt.Errorf("decode %s response: %w", operation, err)
	}

	if len(decoded.Errors) > 0 || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newError(resp.StatusCode, decoded.Errors)
	}

	if out == nil {
		return nil
	}
	if len(decoded.Data) == 0 || string(decoded.Data) == "null" {
		return fmt.Errorf("%s: empty data", operation)
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", operation, err)
	}
	return nil
}
