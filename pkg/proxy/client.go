package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20

// apiClient is the HTTP plumbing shared by the vendor providers.
type apiClient struct {
	system  System
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	auth    func(*http.Request)
	logger  *slog.Logger
}

type response struct {
	Status int
	Body   []byte
}

func (r *response) ok() bool {
	return r.Status >= 200 && r.Status < 300
}

func newAPIClient(config Config, logger *slog.Logger, auth func(*http.Request)) (*apiClient, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", config.System)
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", config.System)
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// copy so the timeout never leaks into a caller's shared client
	c := *httpClient
	c.Timeout = timeout

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &apiClient{
		system:  config.System,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    &c,
		limiter: limiter,
		auth:    auth,
		logger:  logger,
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil || strings.Contains(err.Error(), "deadline") {
				return nil, fmt.Errorf("%w: %s %s waiting for rate limiter: %v", ErrTimeout, method, path, err)
			}
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	c.auth(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrTimeout, method, path, err)
		}
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: reading %s %s: %v", ErrTimeout, method, path, err)
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug("upstream call",
		"provider", c.system,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start))

	return &response{Status: resp.StatusCode, Body: data}, nil
}

// rejected builds the UpstreamError for a non-success response.
func (c *apiClient) rejected(resp *response) error {
	return &UpstreamError{
		Provider: string(c.system),
		Status:   resp.Status,
		Message:  upstreamMessage(resp.Body),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// upstreamMessage extracts a human readable error from a vendor response.
func upstreamMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, key := range []string{"message", "error", "Error", "detail", "Message"} {
			if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// parseTime accepts unix seconds or RFC 3339 strings.
func parseTime(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.Number:
		if r.Int() > 0 {
			return time.Unix(r.Int(), 0).UTC()
		}
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, r.Str); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// boolOr returns the boolean value of r, or def when the field is absent.
func boolOr(r gjson.Result, def bool) bool {
	if !r.Exists() {
		return def
	}
	return r.Bool()
}
