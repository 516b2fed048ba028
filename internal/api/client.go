// Package api is the REST client for the field-report server. It provides a
// [Client] with the operations the sync engine and session layer need, a
// backoff [Retry] helper, and the error taxonomy callers branch on:
// [ErrDuplicate], [ErrUnauthorized], [ErrBadResponse] and [*StatusError].
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/njoerd114/fieldsync/internal/model"
)

const (
	defaultReportsPath  = "/reportes/"
	defaultLoginPath    = "/auth/login"
	defaultTimeout      = 30 * time.Second
	defaultProbeTimeout = 3 * time.Second

	// maxBodySize bounds how much of a response body is read.
	maxBodySize = 1 << 20
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL      string
	ReportsPath  string
	LoginPath    string
	Timeout      time.Duration
	ProbeTimeout time.Duration
	MaxAttempts  int
	// HTTPClient overrides the client used for API calls; Timeout is ignored
	// when set.
	HTTPClient *http.Client
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token                 string
	TokenType             string
	RequirePasswordChange bool
}

// Client talks to the field-report REST API. It is safe for concurrent use.
type Client struct {
	baseURL     string
	reportsPath string
	loginPath   string
	hc          *http.Client
	probe       *http.Client
	attempts    int
	log         *slog.Logger

	mu             sync.RWMutex
	onUnauthorized []func()
}

// NewClient creates a Client for the API rooted at opts.BaseURL.
func NewClient(opts Options, logger *slog.Logger) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		reportsPath: opts.ReportsPath,
		loginPath:   opts.LoginPath,
		hc:          opts.HTTPClient,
		attempts:    opts.MaxAttempts,
		log:         logger,
	}
	if c.reportsPath == "" {
		c.reportsPath = defaultReportsPath
	}
	if c.loginPath == "" {
		c.loginPath = defaultLoginPath
	}
	if c.attempts <= 0 {
		c.attempts = DefaultMaxAttempts
	}
	if c.hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.hc = &http.Client{Timeout: timeout}
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	c.probe = &http.Client{Timeout: probeTimeout, Transport: c.hc.Transport}
	return c
}

// OnUnauthorized registers fn to be called whenever the server answers 401.
// The session layer uses it to drop an expired token.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = append(c.onUnauthorized, fn)
}

func (c *Client) notifyUnauthorized() {
	c.mu.RLock()
	hooks := append([]func(){}, c.onUnauthorized...)
	c.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

// CreateReport submits r and returns the server-assigned report ID. A
// duplicate idempotency token yields ErrDuplicate. Transient failures are
// retried; the idempotency token makes retries safe.
func (c *Client) CreateReport(ctx context.Context, token string, r *model.Report) (int64, error) {
	body, err := json.Marshal(buildReportPayload(r))
	if err != nil {
		return 0, fmt.Errorf("encoding report %q: %w", r.ClientUUID, err)
	}

	var out createReportResponse
	err = Retry(ctx, c.attempts, func() error {
		out = createReportResponse{}
		return c.do(ctx, http.MethodPost, c.reportsPath, token, body, &out)
	})
	if err != nil {
		return 0, fmt.Errorf("create report %s: %w", r.ClientUUID, err)
	}
	if out.ID <= 0 {
		return 0, fmt.Errorf("create report %s: %w: missing id_reporte", r.ClientUUID, ErrBadResponse)
	}
	return out.ID, nil
}

// Login exchanges a RUT and password for a bearer token.
func (c *Client) Login(ctx context.Context, rut int64, password string) (LoginResult, error) {
	body, err := json.Marshal(loginRequest{RUT: rut, Password: password})
	if err != nil {
		return LoginResult{}, fmt.Errorf("encoding login request: %w", err)
	}

	var out loginResponse
	err = Retry(ctx, c.attempts, func() error {
		out = loginResponse{}
		return c.do(ctx, http.MethodPost, c.loginPath, "", body, &out)
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}
	if out.AccessToken == "" {
		return LoginResult{}, fmt.Errorf("login: %w: missing access_token", ErrBadResponse)
	}
	return LoginResult{
		Token:                 out.AccessToken,
		TokenType:             out.TokenType,
		RequirePasswordChange: out.RequirePasswordChange,
	}, nil
}

// Ping reports whether the server root answers 200 within the probe timeout.
// It is not retried.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping: %w", &StatusError{Code: resp.StatusCode})
	}
	return nil
}

// do performs one request and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, method, path, token string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if token != "" {
			c.log.Warn("server returned 401, session expired", "path", path)
			c.notifyUnauthorized()
		}
		return ErrUnauthorized
	case resp.StatusCode == http.StatusConflict:
		return ErrDuplicate
	case resp.StatusCode == http.StatusBadRequest:
		detail := parseDetail(raw)
		if isDuplicateDetail(detail) {
			return ErrDuplicate
		}
		return &StatusError{Code: resp.StatusCode, Detail: detail}
	case resp.StatusCode >= 300:
		return &StatusError{Code: resp.StatusCode, Detail: parseDetail(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Join(ErrBadResponse, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
