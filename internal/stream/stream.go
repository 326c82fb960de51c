// Package stream posts a JSON payload to an SSE endpoint and delivers the
// parsed messages to callbacks until the terminal "done" message, a
// transport failure, or cancellation.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/qm4/kbchat/internal/httpclient"
	"github.com/qm4/kbchat/internal/logger"
	"github.com/qm4/kbchat/internal/sse"
)

// DefaultAPIPrefix is prepended to every relative endpoint.
const DefaultAPIPrefix = "/api"

// Handlers receives the events of one session. Every field is optional.
type Handlers struct {
	// OnMessage is called for every parsed message, including the final one.
	OnMessage func(sse.Message)
	// OnError is called at most once, for transport failures only.
	OnError func(error)
	// OnComplete is called at most once, with the "done" message.
	OnComplete func(sse.Message)
}

// Client starts streaming sessions. It is safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiPrefix    string
	headers      map[string]string
	logger       *slog.Logger
	emitTrailing bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. It should not set a Timeout; streams
// end through cancellation.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIPrefix overrides DefaultAPIPrefix. An empty prefix is allowed.
func WithAPIPrefix(prefix string) Option {
	return func(c *Client) { c.apiPrefix = prefix }
}

// WithHeaders adds default request headers.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithLogger sets the logger. Defaults to a logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTrailingFrame controls what happens to an unterminated last line when
// the body ends. By default it is dropped; with emit set it is dispatched
// like any other frame.
func WithTrailingFrame(emit bool) Option {
	return func(c *Client) { c.emitTrailing = emit }
}

// New returns a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		apiPrefix: DefaultAPIPrefix,
		headers:   make(map[string]string),
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.Default()
	}
	return c
}

// Stream POSTs payload as JSON to endpoint and returns immediately. Messages
// are delivered to h from a separate goroutine, one at a time, in arrival
// order. ctx bounds the whole session; cancelling it is equivalent to
// calling Session.Cancel.
func (c *Client) Stream(ctx context.Context, endpoint string, payload any, h Handlers) *Session {
	ctx, cancel := context.WithCancel(ctx)

	id := uuid.NewString()
	s := newSession(id, cancel, h, c.logger.With("session", id, "endpoint", endpoint))

	req, err := c.newRequest(ctx, endpoint, payload, id)
	go s.run(ctx, c, req, err)

	return s
}

// URL resolves endpoint against the base URL and API prefix. Absolute
// http(s) endpoints are returned unchanged.
func (c *Client) URL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	u := strings.TrimRight(c.baseURL, "/")
	if p := strings.Trim(c.apiPrefix, "/"); p != "" {
		u += "/" + p
	}
	return u + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) newRequest(ctx context.Context, endpoint string, payload any, id string) (*http.Request, *Error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newRequestError(fmt.Errorf("encoding payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, newRequestError(fmt.Errorf("creating request: %w", err))
	}

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-Id", id)

	return req, nil
}
