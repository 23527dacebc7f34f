package docsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/kirillkom/casefile/internal/infrastructure/resilience"
)

const (
	requestIDHeader       = "X-Request-Id"
	defaultRequestTimeout = 30 * time.Second
)

// TokenSource returns the bearer token attached to every request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken wraps a fixed token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// RequestObserver is told about every completed HTTP attempt. status is 0 on transport errors.
type RequestObserver func(operation string, status int, elapsed time.Duration)

// Client talks to the document REST API.
type Client struct {
	baseURL        string
	tokens         TokenSource
	httpClient     *http.Client
	requestTimeout time.Duration
	limiter        *rate.Limiter
	executor       *resilience.Executor
	observer       RequestObserver
	logger         *slog.Logger
	tracer         trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

// WithRequestTimeout bounds non-streaming calls; uploads, analysis and downloads rely on ctx.
func WithRequestTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.requestTimeout = d
	}
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(client *Client) {
		if rps <= 0 {
			client.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithExecutor(e *resilience.Executor) Option {
	return func(client *Client) {
		client.executor = e
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(client *Client) {
		if ts != nil {
			client.tokens = ts
		}
	}
}

func WithRequestObserver(fn RequestObserver) Option {
	return func(client *Client) {
		client.observer = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  StaticToken(token),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		requestTimeout: defaultRequestTimeout,
		logger:         slog.Default(),
		tracer:         otel.Tracer("github.com/kirillkom/casefile/docsapi"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call describes one logical API operation.
type call struct {
	operation  string
	method     string
	path       string
	query      url.Values
	jsonBody   any
	body       func() (io.Reader, string, error)
	idempotent bool
	streaming  bool
}

// doJSON runs c through the executor and decodes the JSON response into out.
func (c *Client) doJSON(ctx context.Context, cl call, out any) error {
	ctx, span := c.tracer.Start(ctx, "docsapi."+cl.operation)
	defer span.End()

	if !cl.streaming && c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	err := c.execute(ctx, cl, func(resp *http.Response) error {
		defer resp.Body.Close()
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", cl.operation, err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// doStream runs c and hands the open response to the caller.
func (c *Client) doStream(ctx context.Context, cl call) (*http.Response, error) {
	ctx, span := c.tracer.Start(ctx, "docsapi."+cl.operation)
	defer span.End()

	cl.streaming = true
	resp, err := resilience.Run(ctx, c.executor, "docsapi."+cl.operation, func(attemptCtx context.Context) (*http.Response, error) {
		return c.send(attemptCtx, cl)
	}, classifierFor(cl.idempotent))
	if err != nil {
		err = wrapTemporaryIfNeeded(cl.operation, err)
		span.RecordError(err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) execute(ctx context.Context, cl call, handle func(*http.Response) error) error {
	attempt := func(attemptCtx context.Context) error {
		resp, err := c.send(attemptCtx, cl)
		if err != nil {
			return err
		}
		return handle(resp)
	}
	if c.executor == nil {
		return wrapTemporaryIfNeeded(cl.operation, attempt(ctx))
	}
	err := c.executor.Execute(ctx, "docsapi."+cl.operation, attempt, classifierFor(cl.idempotent))
	return wrapTemporaryIfNeeded(cl.operation, err)
}

// send performs a single HTTP attempt and returns a response with a 2xx status.
func (c *Client) send(ctx context.Context, cl call) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s rate limit wait: %w", cl.operation, err)
		}
	}

	// The token comes first: an upload body opens the file as soon as it is built.
	token, err := c.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s token: %w", cl.operation, err)
	}

	body, contentType, err := c.requestBody(cl)
	if err != nil {
		return nil, err
	}

	u := c.baseURL + cl.path
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		if closer, ok := body.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("create %s request: %w", cl.operation, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(cl.operation, 0, time.Since(start))
		return nil, fmt.Errorf("docsapi %s request: %w", cl.operation, err)
	}
	c.observe(cl.operation, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		apiErr := newAPIError(cl.operation, resp)
		c.logger.Debug("docsapi_error_response",
			"operation", cl.operation,
			"status", resp.StatusCode,
			"request_id", req.Header.Get(requestIDHeader),
			"message", apiErr.Message,
		)
		return nil, apiErr
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

func (c *Client) requestBody(cl call) (io.Reader, string, error) {
	switch {
	case cl.body != nil:
		return cl.body()
	case cl.jsonBody != nil:
		raw, err := json.Marshal(cl.jsonBody)
		if err != nil {
			return nil, "", fmt.Errorf("marshal %s request: %w", cl.operation, err)
		}
		return bytes.NewReader(raw), "application/json", nil
	default:
		return nil, "", nil
	}
}

func (c *Client) observe(operation string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer(operation, status, elapsed)
	}
}

func documentPath(id string, suffix ...string) string {
	p := "/api/documents/" + url.PathEscape(id)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}
