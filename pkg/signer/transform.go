package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Sternrassler/comment-crawler/pkg/client"
)

// DefaultServiceURL is the default remote signing service.
const DefaultServiceURL = "https://vm.vnice.great-fire.org/v1/xbogus"

// Input is what a transform signs.
type Input struct {
	URL       string `json:"url"`
	UserAgent string `json:"user_agent"`
	Data      string `json:"data"`
}

// Output is the transform's answer. A non-zero StatusCode or an empty
// Signature is a failure. Params, when set, replaces the canonical query.
type Output struct {
	StatusCode int    `json:"status_code"`
	Signature  string `json:"X-Bogus"`
	Params     string `json:"params"`
}

// Transform produces a signature for a request.
type Transform interface {
	Transform(ctx context.Context, in Input) (Output, error)
}

// TransformFunc adapts a function to Transform.
type TransformFunc func(ctx context.Context, in Input) (Output, error)

// Transform calls f.
func (f TransformFunc) Transform(ctx context.Context, in Input) (Output, error) {
	return f(ctx, in)
}

// Poster is the subset of the fetch core HTTPTransform needs.
type Poster interface {
	Post(ctx context.Context, url string, body []byte, headers http.Header) (*client.Response, error)
}

// HTTPTransform asks a remote signing service.
type HTTPTransform struct {
	Fetch Poster
	URL   string
}

// Transform posts the input as JSON and decodes the service's answer.
func (h *HTTPTransform) Transform(ctx context.Context, in Input) (Output, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return Output{}, fmt.Errorf("marshal signing input: %w", err)
	}

	resp, err := h.Fetch.Post(ctx, h.URL, body, http.Header{"Content-Type": {"application/json"}})
	if err != nil {
		return Output{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Output{}, fmt.Errorf("%w: signing service returned %d", client.ErrResponse, resp.StatusCode)
	}

	var out Output
	if err := resp.JSON(&out); err != nil {
		return Output{}, err
	}
	return out, nil
}
