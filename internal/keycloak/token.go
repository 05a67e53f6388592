package keycloak

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-resty/resty/v2"
	"k8s.io/utils/clock"
)

// AdminCLIClientID is the public client used for both grants.
const AdminCLIClientID = "admin-cli"

// Grant types sent to the token endpoint
const (
	GrantPassword     = "password"
	GrantRefreshToken = "refresh_token"
)

// TokenManager obtains and caches admin access tokens.
//
// Each AccessToken call decides between the cached token, a refresh token
// grant and a password grant. The decision and the exchange that follows it
// run under one lock, so concurrent callers never race into duplicate
// exchanges.
type TokenManager struct {
	creds      Credentials
	tokenURL   string
	httpClient *resty.Client
	clock      clock.PassiveClock
	log        logr.Logger

	mu    sync.Mutex
	state TokenState
}

// NewTokenManager creates a token manager holding no token.
func NewTokenManager(cfg Config, opts ...Option) *TokenManager {
	cfg = cfg.withDefaults()
	o := buildOptions(cfg, opts)
	return newTokenManager(cfg.credentials(), o)
}

func newTokenManager(creds Credentials, o options) *TokenManager {
	return &TokenManager{
		creds:      creds,
		tokenURL:   fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", creds.ServerURL, url.PathEscape(creds.AdminRealm)),
		httpClient: o.restyClient,
		clock:      o.clock,
		log:        o.log.WithName("token-manager"),
	}
}

// TokenURL returns the token endpoint of the admin realm.
func (m *TokenManager) TokenURL() string {
	return m.tokenURL
}

// State returns a copy of the current token snapshot.
func (m *TokenManager) State() TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state
	state.Payload = maps.Clone(m.state.Payload)
	return state
}

// Invalidate drops the held tokens; the next AccessToken call logs in again.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = TokenState{}
}

// AccessToken returns an access token that stays valid for at least
// minValidity, exchanging credentials with Keycloak only when the cached one
// does not.
func (m *TokenManager) AccessToken(ctx context.Context, minValidity time.Duration) (string, error) {
	if minValidity < 0 {
		minValidity = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	horizon := m.clock.Now().Add(minValidity)
	if m.state.AccessValidAt(horizon) {
		return m.state.AccessToken(), nil
	}

	var (
		next TokenState
		err  error
	)
	if m.state.RefreshValidAt(horizon) {
		m.log.Info("Getting new access token using refresh token grant", "username", m.creds.Username)
		next, err = m.exchange(ctx, GrantRefreshToken, map[string]string{
			"client_id":     AdminCLIClientID,
			"grant_type":    GrantRefreshToken,
			"refresh_token": m.state.RefreshToken(),
		})
	} else {
		m.log.Info("Getting new access token using password grant", "username", m.creds.Username)
		next, err = m.exchange(ctx, GrantPassword, map[string]string{
			"client_id":  AdminCLIClientID,
			"grant_type": GrantPassword,
			"username":   m.creds.Username,
			"password":   m.creds.Password,
		})
	}
	if err != nil {
		return "", err
	}

	m.state = next
	return next.AccessToken(), nil
}

// exchange posts one grant to the token endpoint and builds the resulting
// snapshot. Expiries are relative to the moment the request was sent.
func (m *TokenManager) exchange(ctx context.Context, grant string, form map[string]string) (TokenState, error) {
	requestTime := m.clock.Now()

	var payload map[string]interface{}
	resp, err := m.httpClient.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&payload).
		ForceContentType("application/json").
		Post(m.tokenURL)
	if err != nil {
		if responseReceived(resp) {
			return TokenState{}, &AuthError{Grant: grant, Err: fmt.Errorf("invalid token response: %w", err)}
		}
		return TokenState{}, &AuthError{
			Grant: grant,
			Err:   &TransportError{Method: http.MethodPost, URL: m.tokenURL, Err: err},
		}
	}

	if !resp.IsSuccess() {
		return TokenState{}, &AuthError{
			Grant:      grant,
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		}
	}

	if token, _ := payload["access_token"].(string); token == "" {
		return TokenState{}, &AuthError{Grant: grant, Err: errors.New("token response has no access_token")}
	}

	expiresIn, err := secondsField(payload, "expires_in")
	if err != nil {
		return TokenState{}, &AuthError{Grant: grant, Err: err}
	}
	refreshExpiresIn, err := secondsField(payload, "refresh_expires_in")
	if err != nil {
		return TokenState{}, &AuthError{Grant: grant, Err: err}
	}

	return TokenState{
		AccessExpiry:  requestTime.Add(expiresIn),
		RefreshExpiry: requestTime.Add(refreshExpiresIn),
		Payload:       payload,
	}, nil
}

func secondsField(payload map[string]interface{}, key string) (time.Duration, error) {
	raw, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("token response has no %s", key)
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("token response field %s is not a number: %v", key, raw)
	}
	return time.Duration(v * float64(time.Second)), nil
}
