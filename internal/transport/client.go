// Package transport speaks HTTP to the upstream generation and mutation
// service: JSON request/response calls, multipart uploads and
// incrementally delivered event streams.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genpipe/internal/domain"
	"genpipe/internal/infra"
	"genpipe/internal/infra/credentials"
)

// IdempotencyHeader carries the per-action idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     credentials.TokenSource
	Logger     *infra.Logger
	UserAgent  string
}

// Client performs calls against one upstream base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     credentials.TokenSource
	logger     *infra.Logger
	userAgent  string
}

// Request describes one upstream call. Body is JSON-encoded unless it is
// already a json.RawMessage or []byte.
type Request struct {
	Method         string
	Path           string
	Query          url.Values
	Body           any
	IdempotencyKey string
	Attachments    []Attachment
	Header         http.Header
}

// NewClient constructs a client. The default http.Client has no overall
// timeout; deadlines come from the caller's context so streams can run long.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("transport: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("transport: invalid base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = credentials.Static("")
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "genpipe/1"
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     infra.LoggerOrNop(opts.Logger),
		userAgent:  userAgent,
	}, nil
}

// BaseURL returns the configured upstream root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do performs req and decodes a 2xx JSON body into out when out is non-nil.
// Non-2xx responses return *StatusError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	httpReq, err := c.build(ctx, req, "application/json")
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("transport: http request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", httpReq.Method).
		Str("path", httpReq.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("transport: upstream call")

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newStatusError(resp.StatusCode, raw)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("transport: read response: %w", err)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if rawOut, ok := out.(*json.RawMessage); ok {
		*rawOut = append((*rawOut)[:0], raw...)
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

var streamTypes = map[string]struct{}{
	"text/event-stream":    {},
	"application/x-ndjson": {},
	"text/plain":           {},
}

// OpenStream performs req and returns the response body for incremental
// reading. The caller closes it. Responses that are not a stream fail with
// domain.ErrStreamInit or *StatusError.
func (c *Client) OpenStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	httpReq, err := c.build(ctx, req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStreamInit, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newStatusError(resp.StatusCode, raw)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, fmt.Errorf("%w: empty response body", domain.ErrStreamInit)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if _, ok := streamTypes[mediaType]; !ok {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected content type %q", domain.ErrStreamInit, mediaType)
	}
	c.logger.Debug().Str("path", httpReq.URL.Path).Str("content_type", mediaType).Msg("transport: stream opened")
	return resp.Body, nil
}

// Download fetches an absolute URL and returns the body and its content type.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("transport: invalid download url: %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("transport: build download request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("transport: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, "", newStatusError(resp.StatusCode, raw)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("transport: read download: %w", err)
	}
	format := resp.Header.Get("Content-Type")
	if format == "" {
		format = http.DetectContentType(data)
	}
	return data, format, nil
}

func (c *Client) build(ctx context.Context, req Request, accept string) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	endpoint := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	payload, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case len(req.Attachments) > 0:
		buf, ct, err := encodeMultipart(payload, req.Attachments)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case payload != nil:
		body, contentType = bytes.NewReader(payload), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set(IdempotencyHeader, req.IdempotencyKey)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: token: %w", err)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(b) == 0 {
			return nil, nil
		}
		return b, nil
	case []byte:
		if len(b) == 0 {
			return nil, nil
		}
		return b, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("transport: encode request: %w", err)
		}
		return raw, nil
	}
}
