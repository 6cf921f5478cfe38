package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/gatesim/internal/tracing"
)

// DefaultPath is the gateway's chat completions route.
const DefaultPath = "/v1/chat/completions"

const maxErrorBodyBytes = 1024

// ErrMalformedResponse marks a 2xx response whose body is not JSON.
var ErrMalformedResponse = errors.New("malformed response body")

// AuthProvider injects credentials into outgoing requests.
type AuthProvider interface {
	InjectHeader(ctx context.Context, req *http.Request) error
}

// HTTPError represents a non-2xx gateway response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Request is a single chat completion call.
type Request struct {
	Model  string
	Prompt string
	// Auth overrides the client's default provider when set.
	Auth AuthProvider
}

// Completion describes a settled call. It is populated as far as possible
// even when Complete returns an error.
type Completion struct {
	StatusCode int
	Tokens     int64
	Model      string
	Latency    time.Duration
}

// Options configure a Client.
type Options struct {
	BaseURL    string
	Path       string        // defaults to DefaultPath
	Timeout    time.Duration // per-request timeout, 0 disables
	Auth       AuthProvider
	Tracer     trace.Tracer
	Propagate  bool // inject W3C trace headers
	HTTPClient *http.Client
}

// Client sends chat completion requests to the gateway.
type Client struct {
	http      *http.Client
	endpoint  string
	path      string
	auth      AuthProvider
	tracer    trace.Tracer
	propagate bool
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// New validates opt and returns a Client.
func New(opt Options) (*Client, error) {
	base := strings.TrimSpace(opt.BaseURL)
	if base == "" {
		return nil, errors.New("gateway base URL is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid gateway base URL %q: scheme must be http or https", base)
	}

	path := strings.TrimSpace(opt.Path)
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	client := opt.HTTPClient
	if client == nil {
		client = NewClient(opt.Timeout)
	}
	tracer := opt.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("gatesim")
	}

	return &Client{
		http:      client,
		endpoint:  strings.TrimRight(base, "/") + path,
		path:      path,
		auth:      opt.Auth,
		tracer:    tracer,
		propagate: opt.Propagate,
	}, nil
}

// Endpoint returns the full completions URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Complete posts one chat completion and classifies the response.
// Non-2xx responses yield *HTTPError.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	out := Completion{Model: req.Model}

	ctx, span := tracing.StartRequestSpan(ctx, c.tracer, "http", c.path)
	span.SetAttributes(attribute.String("gen_ai.request.model", req.Model))

	payload, err := json.Marshal(chatRequest{
		Model:    req.Model,
		Messages: []chatMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		tracing.EndSpan(span, err)
		return out, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		tracing.EndSpan(span, err)
		return out, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	provider := req.Auth
	if provider == nil {
		provider = c.auth
	}
	if provider != nil {
		if err := provider.InjectHeader(ctx, httpReq); err != nil {
			tracing.EndSpan(span, err)
			return out, fmt.Errorf("auth provider inject header: %w", err)
		}
	}
	if c.propagate {
		tracing.InjectHTTPHeaders(ctx, httpReq.Header)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		out.Latency = time.Since(start)
		tracing.EndSpan(span, err)
		return out, err
	}
	defer resp.Body.Close()
	out.StatusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		out.Latency = time.Since(start)
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		tracing.EndSpan(span, httpErr, attribute.Int("http.response.status_code", resp.StatusCode))
		return out, httpErr
	}

	body, err := io.ReadAll(resp.Body)
	out.Latency = time.Since(start)
	if err != nil {
		tracing.EndSpan(span, err, attribute.Int("http.response.status_code", resp.StatusCode))
		return out, fmt.Errorf("read response: %w", err)
	}

	if !gjson.ValidBytes(body) {
		err := fmt.Errorf("decode response: %w", ErrMalformedResponse)
		tracing.EndSpan(span, err, attribute.Int("http.response.status_code", resp.StatusCode))
		return out, err
	}

	out.Tokens = UsageTokens(body)
	if model := gjson.GetBytes(body, "model"); model.Type == gjson.String && model.Str != "" {
		out.Model = model.Str
	}

	tracing.EndSpan(span, nil,
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Int64("gen_ai.usage.total_tokens", out.Tokens),
	)
	return out, nil
}

// UsageTokens reads usage.total_tokens from a completion body. Missing or
// non-numeric values yield zero.
func UsageTokens(body []byte) int64 {
	res := gjson.GetBytes(body, "usage.total_tokens")
	if res.Type != gjson.Number {
		return 0
	}
	if res.Num < 0 {
		return 0
	}
	return res.Int()
}

// IsTimeout reports whether err came from a deadline or transport timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewClient returns an http.Client tuned for many concurrent requests to one host.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
