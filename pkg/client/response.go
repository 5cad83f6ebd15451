package client

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// Response is the outcome of a successful fetch. Body is fully read and
// already decoded according to Content-Encoding.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	URL        string
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Cookie returns the value of a cookie set by the response, or "".
func (r *Response) Cookie(name string) string {
	for _, c := range (&http.Response{Header: r.Header}).Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// JSON decodes the body into v. A body that is not valid JSON on its own is
// retried on the span between its first '{' and last '}', which recovers
// payloads wrapped in padding or stray bytes.
func (r *Response) JSON(v any) error {
	err := json.Unmarshal(r.Body, v)
	if err == nil {
		return nil
	}
	start := bytes.IndexByte(r.Body, '{')
	end := bytes.LastIndexByte(r.Body, '}')
	if start >= 0 && end > start {
		if err2 := json.Unmarshal(r.Body[start:end+1], v); err2 == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: decode json from %s: %v", ErrResponse, r.URL, err)
}

// blank reports whether the body holds nothing but whitespace.
func (r *Response) blank() bool {
	return len(bytes.TrimSpace(r.Body)) == 0
}

// readBody reads and decodes a response body. Deflate bodies are accepted
// both zlib-wrapped and raw.
func readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return raw, nil
	}

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		return io.ReadAll(gz)
	case "deflate":
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			return io.ReadAll(zr)
		}
		fl := flate.NewReader(bytes.NewReader(raw))
		defer fl.Close()
		return io.ReadAll(fl)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
	default:
		return raw, nil
	}
}
