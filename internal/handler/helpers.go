package handler

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/Schera-ole/scaleagent/internal/report"
)

const (
	// maxReportBytes bounds the body of one report as received.
	maxReportBytes = 4 << 20
	// maxDecodedReportBytes bounds the same body after gzip decoding.
	maxDecodedReportBytes = 16 << 20
)

// VerifyRequestHash checks the HashSHA256 header against body. Verification
// is skipped only when the sink has no key.
func VerifyRequestHash(body []byte, headerHash string, key string) error {
	if key == "" {
		return nil
	}
	if headerHash == "" {
		return errors.New("missing HashSHA256 header")
	}
	if !report.Verify(body, key, headerHash) {
		return errors.New("hash mismatch")
	}
	return nil
}

// ReadRequestBody reads at most maxReportBytes from r.
func ReadRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxReportBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxReportBytes)
	}
	return body, nil
}

// clientIP returns the caller address without its port. RemoteAddr already
// reflects X-Real-IP or X-Forwarded-For through middleware.RealIP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
