// Package httpctx implements the pooled, retrying HTTP clients for the
// Buckets, Results, and Pipelines collaborator services described in
// spec.md §4.1 and §6. It is grounded on the teacher's HTTPTaskExecutor /
// HTTPPlugin connection-pool setup (services/orchestrator/task_executor.go,
// plugins.go) and on the teacher's generic resilience.Retry combinator.
package httpctx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chimefrb/workflow/internal/resilience"
	"github.com/chimefrb/workflow/internal/telemetry"
	"github.com/chimefrb/workflow/internal/werrors"
)

const (
	userAgent      = "workflow-client"
	clientPlatform = "go"
	clientVersion  = "1.0.0"
)

// DefaultTimeout and the bounds enforced on a caller-supplied timeout, per
// spec.md §4.1: "default 15 s, bounded to [0.5, 60]".
const (
	DefaultTimeout = 15 * time.Second
	MinTimeout     = 500 * time.Millisecond
	MaxTimeout     = 60 * time.Second
)

var tokenOnce sync.Once

// Options configures a single service client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Token      string // explicit token, highest precedence
	AuthHeader bool   // true when workspace declares auth.type=token/provider=github
}

func (o Options) clampTimeout() time.Duration {
	t := o.Timeout
	if t == 0 {
		t = DefaultTimeout
	}
	if t < MinTimeout {
		t = MinTimeout
	}
	if t > MaxTimeout {
		t = MaxTimeout
	}
	return t
}

// resolveToken applies the precedence order from spec.md §4.1/§6:
// explicit parameter > WORKFLOW_HTTP_TOKEN > WORKFLOW_TOKEN > GITHUB_TOKEN > GITHUB_PAT.
func resolveToken(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, env := range []string{"WORKFLOW_HTTP_TOKEN", "WORKFLOW_TOKEN", "GITHUB_TOKEN", "GITHUB_PAT"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return ""
}

// Client is a pooled HTTP client bound to a single collaborator service.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	auth    bool
}

// transport builds a persistent connection pool; each Client gets its own.
func transport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
}

// New builds a client for one collaborator service.
func New(opts Options) *Client {
	timeout := opts.clampTimeout()
	token := resolveToken(opts.Token)
	if token == "" {
		tokenOnce.Do(func() {
			slog.Warn("no access token configured for http client; requests will be unauthenticated")
		})
	}
	return &Client{
		http:    &http.Client{Timeout: timeout, Transport: transport()},
		baseURL: opts.BaseURL,
		token:   token,
		auth:    opts.AuthHeader,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	p, rawQuery, _ := strings.Cut(path, "?")
	u.Path = joinPath(u.Path, p)
	u.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Client-Platform", clientPlatform)
	req.Header.Set("X-Client-Version", clientVersion)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		if c.auth {
			req.Header.Set("x-access-token", c.token)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
	}
	return req, nil
}

func joinPath(base, p string) string {
	if base == "" {
		return p
	}
	if len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if len(p) == 0 || p[0] != '/' {
		p = "/" + p
	}
	return base + p
}

// do issues a single request and decodes a JSON response into out (if out is
// non-nil). It classifies the error per spec.md §7: 4xx -> ErrInvalidRequest
// (never retried by the caller), 5xx/network -> ErrTransient (retryable).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	meter := telemetry.Meter()
	hist, _ := meter.Float64Histogram("workflow_http_duration_ms")
	hist.Record(ctx, float64(duration.Milliseconds()))

	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", werrors.ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", werrors.ErrTransient, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s %s: status %d: %s", werrors.ErrTransient, method, path, resp.StatusCode, string(data))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s %s: status %d: %s", werrors.ErrInvalidRequest, method, path, resp.StatusCode, string(data))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// retryable wraps fn in the spec.md §4.1 jittered-retry policy: mutating
// operations (deposit/update/delete_ids) and some queries go through this.
// A 4xx (ErrInvalidRequest) is never retried, per spec.md §7.
func retryable[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	return resilience.Retry(ctx, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err != nil && errors.Is(err, werrors.ErrInvalidRequest) {
			return v, resilience.Permanent(err)
		}
		return v, err
	})
}
