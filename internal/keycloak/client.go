// Package keycloak provides a client for interacting with the Keycloak Admin REST API.
package keycloak

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Client provides methods to interact with the Keycloak Admin REST API
type Client struct {
	creds       Credentials
	minValidity time.Duration

	httpClient *resty.Client
	tokens     *TokenManager
	limiter    *rate.Limiter
	observer   Observer
	log        logr.Logger

	realmMutex   sync.RWMutex
	defaultRealm string
}

// NewClient creates a new Keycloak client
func NewClient(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	o := buildOptions(cfg, opts)

	c := &Client{
		creds:        cfg.credentials(),
		minValidity:  cfg.MinValidity,
		httpClient:   o.restyClient,
		tokens:       newTokenManager(cfg.credentials(), o),
		observer:     o.observer,
		log:          o.log.WithName("keycloak-client"),
		defaultRealm: cfg.DefaultRealm,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return c
}

// Credentials returns the admin identity the client authenticates with.
func (c *Client) Credentials() Credentials {
	return c.creds
}

// Tokens returns the token manager backing this client.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Ping checks if the Keycloak server is accessible
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.tokens.AccessToken(ctx, c.minValidity)
	return err
}

// URL resolves a path against the server root. Anything not starting with
// "/" is taken as an absolute URL and returned unchanged.
func (c *Client) URL(pathOrURL string) string {
	if strings.HasPrefix(pathOrURL, "/") {
		return c.creds.ServerURL + pathOrURL
	}
	return pathOrURL
}

// ============================================================================
// Request Execution
// ============================================================================

// RequestOption customizes a single admin API request.
type RequestOption func(*resty.Request)

// WithBody sets the request body, encoded as JSON unless it is already raw bytes.
func WithBody(body interface{}) RequestOption {
	return func(r *resty.Request) {
		r.SetBody(body)
	}
}

// WithHeader adds a header. The Authorization header is always overwritten
// by the bearer token.
func WithHeader(key, value string) RequestOption {
	return func(r *resty.Request) {
		r.SetHeader(key, value)
	}
}

// WithResult decodes a successful JSON response into v.
func WithResult(v interface{}) RequestOption {
	return func(r *resty.Request) {
		r.SetResult(v).ForceContentType("application/json")
	}
}

// WithQueryParams adds query parameters.
func WithQueryParams(params map[string]string) RequestOption {
	return func(r *resty.Request) {
		r.SetQueryParams(params)
	}
}

// Execute performs an authenticated request against the admin API.
//
// A fresh token is requested from the token manager for every call. Responses
// outside the 2xx range are returned as *HTTPError together with the response.
func (c *Client) Execute(ctx context.Context, method, pathOrURL string, opts ...RequestOption) (*resty.Response, error) {
	target := c.URL(pathOrURL)
	start := time.Now()

	resp, err := c.execute(ctx, method, target, opts)

	event := RequestEvent{
		Method:   method,
		URL:      target,
		Duration: time.Since(start),
		Err:      err,
	}
	if resp != nil {
		event.StatusCode = resp.StatusCode()
	}
	c.observer.Record(event)

	return resp, err
}

func (c *Client) execute(ctx context.Context, method, target string, opts []RequestOption) (*resty.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Method: method, URL: target, Err: err}
		}
	}

	token, err := c.tokens.AccessToken(ctx, c.minValidity)
	if err != nil {
		return nil, err
	}

	req := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	req.SetAuthToken(token)

	resp, err := req.Execute(method, target)
	if err != nil {
		if responseReceived(resp) {
			return resp, fmt.Errorf("failed to decode response of %s %s: %w", method, target, err)
		}
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}

	if !resp.IsSuccess() {
		return resp, &HTTPError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Body:       resp.Body(),
		}
	}

	return resp, nil
}

// Get performs an authenticated GET
func (c *Client) Get(ctx context.Context, pathOrURL string, opts ...RequestOption) (*resty.Response, error) {
	return c.Execute(ctx, http.MethodGet, pathOrURL, opts...)
}

// Post performs an authenticated POST
func (c *Client) Post(ctx context.Context, pathOrURL string, opts ...RequestOption) (*resty.Response, error) {
	return c.Execute(ctx, http.MethodPost, pathOrURL, opts...)
}

// Put performs an authenticated PUT
func (c *Client) Put(ctx context.Context, pathOrURL string, opts ...RequestOption) (*resty.Response, error) {
	return c.Execute(ctx, http.MethodPut, pathOrURL, opts...)
}

// Delete performs an authenticated DELETE
func (c *Client) Delete(ctx context.Context, pathOrURL string, opts ...RequestOption) (*resty.Response, error) {
	return c.Execute(ctx, http.MethodDelete, pathOrURL, opts...)
}

// GetJSON performs a GET and decodes the response body into result.
func (c *Client) GetJSON(ctx context.Context, pathOrURL string, result interface{}) error {
	_, err := c.Get(ctx, pathOrURL, WithResult(result))
	return err
}

// responseReceived tells a failure after the server answered (such as an
// undecodable body) from one where no response arrived.
func responseReceived(resp *resty.Response) bool {
	return resp != nil && resp.RawResponse != nil
}
