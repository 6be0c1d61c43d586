// Package marketing is the client for the advertising platform's HTTP API.
// It owns the transport boundary and the batch executor; quota bookkeeping
// and operation sequencing live above it.
package marketing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/adforge/adsengine/internal/apierrors"
)

const (
	// DefaultBaseURL is the platform's graph endpoint.
	DefaultBaseURL = "https://graph.facebook.com"
	// DefaultAPIVersion is used when the config leaves the version empty.
	DefaultAPIVersion = "v21.0"

	defaultTimeout = 60 * time.Second
)

// Transport is the black-box send capability. Implementations must return an
// error only for transport-level failures (dial, TLS, timeout); any response
// that was actually received, whatever its status code, comes back as a
// *Response so error payloads stay decodable.
type Transport interface {
	Send(ctx context.Context, method, rawURL string, headers http.Header, body io.Reader) (*Response, error)
}

type httpTransport struct {
	client *http.Client
}

func (t *httpTransport) Send(ctx context.Context, method, rawURL string, headers http.Header, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, apierrors.WrapNetwork("build_request", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apierrors.WrapNetwork("send", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierrors.WrapNetwork("read_response", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       data,
	}, nil
}

// ClientConfig holds configuration for the platform client.
type ClientConfig struct {
	BaseURL     string
	APIVersion  string
	AccessToken string
	UserAgent   string
	Timeout     time.Duration
}

// Client is an API client for one access token. It is safe for concurrent
// use; all state is immutable after construction.
type Client struct {
	baseURL   string // includes the version segment
	config    ClientConfig
	transport Transport
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport replaces the HTTP transport. Used by callers that bring
// their own send capability and by tests.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// NewClient creates a platform API client.
func NewClient(cfg ClientConfig, opts ...Option) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		cfg.BaseURL = "https://" + cfg.BaseURL
		log.Debug().Str("base_url", cfg.BaseURL).Msg("No protocol in base URL, defaulting to HTTPS")
	}

	c := &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/") + "/" + cfg.APIVersion,
		config:  cfg,
		transport: &httpTransport{
			client: &http.Client{Timeout: cfg.Timeout},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do issues one call against a relative path. Write methods carry params as
// a form-encoded body; reads carry them in the query string. When the
// platform rejected the call the returned error is an *apierrors.APIError
// and the *Response is still non-nil so the usage header survives.
func (c *Client) Do(ctx context.Context, method, relativeURL string, params url.Values) (*Response, error) {
	method = strings.ToUpper(method)
	fullURL := c.baseURL + "/" + strings.TrimPrefix(relativeURL, "/")

	var body io.Reader
	headers := c.defaultHeaders()

	if params != nil {
		if methodHasBody(method) {
			body = strings.NewReader(params.Encode())
			headers.Set("Content-Type", "application/x-www-form-urlencoded")
		} else {
			sep := "?"
			if strings.Contains(fullURL, "?") {
				sep = "&"
			}
			fullURL += sep + params.Encode()
		}
	}

	resp, err := c.transport.Send(ctx, method, fullURL, headers, body)
	if err != nil {
		return nil, err
	}

	if apiErr := parseAPIError("api_call", resp.StatusCode, resp.Body); apiErr != nil {
		log.Debug().
			Str("method", method).
			Str("path", relativeURL).
			Int("status", resp.StatusCode).
			Int("code", apiErr.Code).
			Msg("Platform rejected call")
		return resp, apiErr
	}

	return resp, nil
}

// Get issues a read against a relative path.
func (c *Client) Get(ctx context.Context, relativeURL string, params url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, relativeURL, params)
}

// Post issues a write against a relative path.
func (c *Client) Post(ctx context.Context, relativeURL string, params url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodPost, relativeURL, params)
}

func (c *Client) defaultHeaders() http.Header {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.config.AccessToken)
	if c.config.UserAgent != "" {
		headers.Set("User-Agent", c.config.UserAgent)
	}
	return headers
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
