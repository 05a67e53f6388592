package keycloak

import (
	"strings"
	"time"
)

const (
	// DefaultAdminRealm is the realm the admin user logs into.
	DefaultAdminRealm = "master"

	// DefaultTimeout bounds every HTTP exchange made by the client.
	DefaultTimeout = 30 * time.Second

	// DefaultMinValidity is how long a cached access token must remain valid
	// for it to be reused without an exchange.
	DefaultMinValidity = 5 * time.Second
)

// Config holds Keycloak client configuration
type Config struct {
	BaseURL      string
	AdminRealm   string // defaults to "master"
	Username     string
	Password     string
	DefaultRealm string // defaults to "master"

	Timeout     time.Duration // defaults to 30s
	MinValidity time.Duration // defaults to 5s

	// RequestsPerSecond limits admin API calls made by one client. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Credentials identifies the admin account and the server it belongs to.
// They are fixed for the lifetime of a client.
type Credentials struct {
	ServerURL  string
	AdminRealm string
	Username   string
	Password   string
}

func (cfg Config) withDefaults() Config {
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.AdminRealm == "" {
		cfg.AdminRealm = DefaultAdminRealm
	}
	if cfg.DefaultRealm == "" {
		cfg.DefaultRealm = DefaultAdminRealm
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinValidity <= 0 {
		cfg.MinValidity = DefaultMinValidity
	}
	if cfg.RequestsPerSecond > 0 && cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return cfg
}

func (cfg Config) credentials() Credentials {
	return Credentials{
		ServerURL:  cfg.BaseURL,
		AdminRealm: cfg.AdminRealm,
		Username:   cfg.Username,
		Password:   cfg.Password,
	}
}

// TokenState is a snapshot of the tokens held by a TokenManager.
//
// The zero value means no token is held; it never passes the freshness check.
// A TokenState is never modified after construction, a successful exchange
// replaces it as a whole.
type TokenState struct {
	// AccessExpiry is the instant after which the access token must not be used.
	AccessExpiry time.Time
	// RefreshExpiry is the instant after which the refresh token must not be used.
	RefreshExpiry time.Time
	// Payload is the decoded token endpoint response, provider extras included.
	Payload map[string]interface{}
}

// AccessToken returns the bearer value of the snapshot.
func (s TokenState) AccessToken() string {
	v, _ := s.Payload["access_token"].(string)
	return v
}

// RefreshToken returns the refresh token of the snapshot.
func (s TokenState) RefreshToken() string {
	v, _ := s.Payload["refresh_token"].(string)
	return v
}

// AccessValidAt reports whether the access token outlives horizon.
func (s TokenState) AccessValidAt(horizon time.Time) bool {
	return s.AccessExpiry.After(horizon)
}

// RefreshValidAt reports whether the refresh token outlives horizon.
func (s TokenState) RefreshValidAt(horizon time.Time) bool {
	return s.RefreshExpiry.After(horizon)
}
