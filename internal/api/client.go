// Package api talks to the finance backend. Every operation is a JSON POST to
// one configured path; responses are decoded into the core domain values and
// every failure is classified as a config, encode, network, decode or
// application error.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"moneymind/internal/config"
	"moneymind/internal/log"
)

const maxResponseBytes = 1 << 20

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

type Options struct {
	BaseURL string
	Paths   config.Paths
	// Timeout bounds each request. Zero keeps the transport default.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger
}

// OptionsFromConfig builds client options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config, logger *log.Logger) Options {
	return Options{
		BaseURL: cfg.BaseURL,
		Paths:   cfg.Paths,
		Timeout: cfg.HTTPTimeout,
		Logger:  logger,
	}
}

type Client struct {
	http    *http.Client
	baseURL string
	paths   config.Paths
	logger  *log.Logger
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	paths := opts.Paths
	if paths == (config.Paths{}) {
		paths = config.DefaultPaths()
	}
	return &Client{
		http:    hc,
		baseURL: opts.BaseURL,
		paths:   paths,
		logger:  logger.WithComponent(log.ComponentTransport),
	}
}

// endpoint resolves path against the base URL. A malformed result is a
// configuration error for this call only.
func (c *Client) endpoint(path string) (string, error) {
	raw := strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	u, err := url.Parse(raw)
	if err != nil {
		return "", wrap(ErrConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", wrap(ErrConfig, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return "", wrap(ErrConfig, fmt.Errorf("missing host in %q", raw))
	}
	return u.String(), nil
}

type response struct {
	status int
	body   []byte
}

// post sends body as JSON to path. redact hides the request body from debug
// logs (credentials).
func (c *Client) post(ctx context.Context, op, path string, body any, redact bool) (*response, error) {
	target, err := c.endpoint(path)
	if err != nil {
		c.logFailure(ctx, op, err)
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		err = wrap(ErrEncode, err)
		c.logFailure(ctx, op, err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		err = wrap(ErrConfig, err)
		c.logFailure(ctx, op, err)
		return nil, err
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	logger := c.logger.With(log.FieldRequestID, requestID, log.FieldOperation, op)
	if redact {
		logger.DebugContext(ctx, "Sending request", log.FieldPath, path)
	} else {
		logger.DebugContext(ctx, "Sending request", log.FieldPath, path, "body", string(payload))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = wrap(ErrNetwork, err)
		c.logFailure(ctx, op, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		err = wrap(ErrNetwork, fmt.Errorf("read body: %w", err))
		c.logFailure(ctx, op, err)
		return nil, err
	}

	logger.DebugContext(ctx, "Received response",
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds(),
		"body", string(data))

	return &response{status: resp.StatusCode, body: data}, nil
}

// decode parses the response envelope. A body that is not JSON, or an
// envelope without success, fails the whole operation.
func decode[T any](op string, r *response, envelope *T, success func(*T) *bool) error {
	if err := json.Unmarshal(r.body, envelope); err != nil {
		return wrap(ErrDecode, fmt.Errorf("%s: %w", op, err))
	}
	if success(envelope) == nil {
		return wrap(ErrDecode, fmt.Errorf("%s: missing success field", op))
	}
	return nil
}

func (c *Client) logFailure(ctx context.Context, op string, err error) {
	c.logger.WarnContext(ctx, "Request failed",
		log.FieldOperation, op,
		log.FieldErrorType, ErrorType(err),
		log.FieldError, err)
}

func is2xx(code int) bool { return code >= 200 && code < 300 }
