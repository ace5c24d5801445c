package wire

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxBodyBytes = 1 << 20

// HTTPClient is a small wrapper for the request/response exchanges TVs
// expose (device info, key presses, description documents).
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient returns a client whose requests time out after timeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// Get fetches rawURL and returns the status code and up to 1 MiB of body.
func (c *HTTPClient) Get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

// Post sends body (which may be empty) to rawURL.
func (c *HTTPClient) Post(ctx context.Context, rawURL, body string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	status, _, err := c.do(req)
	return status, err
}

func (c *HTTPClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// IsSuccess reports whether status is 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// NewInsecureHTTPClient is NewHTTPClient accepting self-signed certificates.
func NewInsecureHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // TVs use self-signed certs
		},
	}}
}

// NewHTTPClientWithTransport routes requests through rt.
func NewHTTPClientWithTransport(timeout time.Duration, rt http.RoundTripper) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout, Transport: rt}}
}
