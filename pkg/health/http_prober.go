package health

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	pipeerr "github.com/levi-soft/ai-employee-platform-sub005/pkg/errors"
)

// HTTPProber checks providers with a GET against a per-provider endpoint.
// Any 2xx status is a success.
type HTTPProber struct {
	endpoints map[string]string
	headers   map[string]string
	client    *http.Client
}

// HTTPProberOption configures an HTTPProber
type HTTPProberOption func(*httpProberOptions)

type httpProberOptions struct {
	headers     map[string]string
	client      *http.Client
	tokenSource oauth2.TokenSource
}

// WithHeaders adds static headers to every probe request
func WithHeaders(headers map[string]string) HTTPProberOption {
	return func(o *httpProberOptions) {
		for k, v := range headers {
			o.headers[k] = v
		}
	}
}

// WithHTTPClient sets the base HTTP client
func WithHTTPClient(client *http.Client) HTTPProberOption {
	return func(o *httpProberOptions) { o.client = client }
}

// WithTokenSource authenticates probe requests with OAuth2 bearer tokens
func WithTokenSource(ts oauth2.TokenSource) HTTPProberOption {
	return func(o *httpProberOptions) { o.tokenSource = ts }
}

// NewHTTPProber creates a prober for the given provider endpoints
func NewHTTPProber(endpoints map[string]string, opts ...HTTPProberOption) *HTTPProber {
	o := &httpProberOptions{
		headers: make(map[string]string),
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if o.tokenSource != nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, o.client)
		client = oauth2.NewClient(ctx, o.tokenSource)
	}

	copied := make(map[string]string, len(endpoints))
	for id, url := range endpoints {
		copied[id] = url
	}

	return &HTTPProber{
		endpoints: copied,
		headers:   o.headers,
		client:    client,
	}
}

// Probe implements Prober
func (p *HTTPProber) Probe(ctx context.Context, providerID string) error {
	endpoint, ok := p.endpoints[providerID]
	if !ok {
		return pipeerr.New(pipeerr.CodeHealthProviderNotFound, "no health check endpoint configured",
			pipeerr.FieldProvider(providerID))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return pipeerr.Wrap(err, pipeerr.CodeHealthProbeFailure, "failed to create request",
			pipeerr.FieldProvider(providerID))
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return pipeerr.Wrap(err, pipeerr.CodeHealthProbeFailure, "request failed",
			pipeerr.FieldProvider(providerID))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pipeerr.New(pipeerr.CodeHealthProbeFailure, fmt.Sprintf("HTTP %d", resp.StatusCode),
			pipeerr.FieldProvider(providerID), pipeerr.Field("status_code", resp.StatusCode))
	}
	return nil
}
