// Package transport posts encoded reports to the control plane.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	"github.com/Schera-ole/scaleagent/internal/report"
)

// maxErrorBody bounds how much of a failed response is kept for logging.
const maxErrorBody = 512

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("control plane returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap exposes ErrUnauthorized for 401 and 403 responses.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return internalerrors.ErrUnauthorized
	}
	return nil
}

// IsRetryable reports whether sending the same report again may succeed.
// Credential rejections and cancellation by the caller are final; every
// other failure (network errors, timeouts, any other status) is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, internalerrors.ErrUnauthorized) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Client sends reports to one endpoint with a bearer token.
type Client struct {
	http      *http.Client
	url       string
	token     string
	userAgent string
}

// Options configures a Client.
type Options struct {
	URL            string
	Token          string
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// NewClient builds a client whose dial is bounded by ConnectTimeout and whose
// wait for response headers is bounded by ReadTimeout.
func NewClient(opts Options) *Client {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConns:          2,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		http:      &http.Client{Transport: tr, Timeout: opts.ConnectTimeout + opts.ReadTimeout},
		url:       opts.URL,
		token:     opts.Token,
		userAgent: opts.UserAgent,
	}
}

// Send posts one encoded report. It returns nil on any 2xx response and a
// *StatusError otherwise.
func (c *Client) Send(ctx context.Context, enc report.Encoded) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(enc.Body))
	if err != nil {
		return fmt.Errorf("error creating request for %s: %w", c.url, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("X-Report-ID", enc.ReportID)
	if enc.Gzipped {
		request.Header.Set("Content-Encoding", "gzip")
	}
	if enc.Signature != "" {
		request.Header.Set("HashSHA256", enc.Signature)
	}
	if c.userAgent != "" {
		request.Header.Set("User-Agent", c.userAgent)
	}

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("error sending report to %s: %w", c.url, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
	return &StatusError{StatusCode: response.StatusCode, Body: string(bytes.TrimSpace(body))}
}
