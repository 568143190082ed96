package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// HTTPRegistry queries a consumer-mapping service over HTTP:
// GET {base}/mappings?endpoint=...&method=... returning a Mapping document
// or 404 when the operation has no known consumers.
type HTTPRegistry struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRegistry builds a registry client. client may be nil.
func NewHTTPRegistry(baseURL string, client *http.Client) *HTTPRegistry {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRegistry{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (r *HTTPRegistry) Lookup(ctx context.Context, endpoint, method string) (*Mapping, error) {
	q := url.Values{}
	q.Set("endpoint", endpoint)
	q.Set("method", method)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/mappings?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build mapping request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("consumer registry request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("consumer registry returned status %d", resp.StatusCode)
	}

	var mapping Mapping
	if err := json.NewDecoder(resp.Body).Decode(&mapping); err != nil {
		return nil, fmt.Errorf("decode mapping response: %w", err)
	}
	return &mapping, nil
}
