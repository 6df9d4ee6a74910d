package report

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
	"github.com/Schera-ole/scaleagent/internal/pool"
)

var bufferPool = pool.New(func() *bytes.Buffer { return new(bytes.Buffer) })

// Encoded is a payload ready to be posted. The same Encoded value is reused
// for every retry of one report.
type Encoded struct {
	ReportID string
	Body     []byte
	Gzipped  bool

	// Signature is the hex HMAC-SHA256 of Body, empty without a signing key
	Signature string
}

// Encode serializes p as JSON, gzips it when compress is set and signs the
// resulting bytes when key is not empty.
func Encode(p models.ReportPayload, compress bool, key string) (Encoded, error) {
	raw := bufferPool.Get()
	defer bufferPool.Put(raw)

	if err := json.NewEncoder(raw).Encode(p); err != nil {
		return Encoded{}, fmt.Errorf("error encoding report: %w", err)
	}

	enc := Encoded{ReportID: p.ReportID}
	if compress {
		zipped := bufferPool.Get()
		defer bufferPool.Put(zipped)

		gz := gzip.NewWriter(zipped)
		if _, err := gz.Write(raw.Bytes()); err != nil {
			return Encoded{}, fmt.Errorf("error compressing report: %w", err)
		}
		if err := gz.Close(); err != nil {
			return Encoded{}, fmt.Errorf("error closing gzip writer: %w", err)
		}
		enc.Body = bytes.Clone(zipped.Bytes())
		enc.Gzipped = true
	} else {
		enc.Body = bytes.Clone(raw.Bytes())
	}

	if key != "" {
		enc.Signature = Sign(enc.Body, key)
	}
	return enc, nil
}

// Decode reverses Encode for the sink and for tests.
func Decode(body []byte, gzipped bool) (models.ReportPayload, error) {
	return DecodeLimited(body, gzipped, 0)
}

// DecodeLimited is Decode with the decompressed body capped at maxBytes.
// A non-positive maxBytes means no cap.
func DecodeLimited(body []byte, gzipped bool, maxBytes int64) (models.ReportPayload, error) {
	var r io.Reader = bytes.NewReader(body)
	if gzipped {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return models.ReportPayload{}, fmt.Errorf("error opening gzip body: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var data []byte
	var err error
	if maxBytes > 0 {
		data, err = io.ReadAll(io.LimitReader(r, maxBytes+1))
		if err == nil && int64(len(data)) > maxBytes {
			return models.ReportPayload{}, fmt.Errorf("%w: more than %d bytes", internalerrors.ErrReportTooLarge, maxBytes)
		}
	} else {
		data, err = io.ReadAll(r)
	}
	if err != nil {
		return models.ReportPayload{}, fmt.Errorf("error reading report: %w", err)
	}

	var p models.ReportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.ReportPayload{}, fmt.Errorf("error decoding report: %w", err)
	}
	return p, nil
}

// Sign returns the hex HMAC-SHA256 of body under key.
func Sign(body []byte, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches body under key.
func Verify(body []byte, key, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(key))
	h.Write(body)
	return hmac.Equal(h.Sum(nil), expected)
}
