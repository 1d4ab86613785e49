// Package render talks to the external LaTeX rendering service.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/pavelanni/trilma/internal/model"
)

// DefaultTimeout bounds a single render call.
const DefaultTimeout = 2 * time.Minute

// BadSourceError reports a render that did not yield a PDF locator.
type BadSourceError struct {
	Locator string
}

func (e *BadSourceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v: %s", model.ErrBadDocumentSource, e.Locator)
}

func (e *BadSourceError) Unwrap() error { return model.ErrBadDocumentSource }

// Client posts LaTeX source to the rendering endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a render client. A zero timeout selects DefaultTimeout.
func New(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
			),
		},
	}
}

type renderRequest struct {
	Source string `json:"source"`
}

type renderResponse struct {
	URL string `json:"url"`
}

// Render compiles source and returns the locator of the rendered PDF.
// A locator that is not a PDF is returned as *BadSourceError.
func (c *Client) Render(ctx context.Context, source string) (*url.URL, error) {
	body, err := json.Marshal(renderRequest{Source: source})
	if err != nil {
		return nil, fmt.Errorf("marshal render request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("render call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}
	slog.Debug("render finished", "locator", out.URL, "duration", time.Since(start).String())

	return ParseLocator(out.URL)
}

// ParseLocator validates a locator returned by the rendering service.
func ParseLocator(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, &BadSourceError{Locator: raw}
	}
	if !strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return nil, &BadSourceError{Locator: u.String()}
	}
	return u, nil
}

// FileName returns the last path segment of the locator.
func FileName(u *url.URL) string {
	return path.Base(u.Path)
}
