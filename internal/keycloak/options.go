package keycloak

import (
	"github.com/go-logr/logr"
	"github.com/go-resty/resty/v2"
	"k8s.io/utils/clock"
)

type options struct {
	log         logr.Logger
	observer    Observer
	clock       clock.PassiveClock
	restyClient *resty.Client
}

// Option customizes the dependencies of a Client or TokenManager.
type Option func(*options)

// WithLogger sets the logger. Defaults to logr.Discard().
func WithLogger(log logr.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithObserver sets the sink that receives one event per admin API call.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		o.observer = observer
	}
}

// WithClock sets the time source used for token expiry decisions.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithRestyClient replaces the HTTP client. The configured timeout is not
// applied to a client supplied this way.
func WithRestyClient(rc *resty.Client) Option {
	return func(o *options) {
		o.restyClient = rc
	}
}

func buildOptions(cfg Config, opts []Option) options {
	o := options{
		log:      logr.Discard(),
		observer: NopObserver{},
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = NopObserver{}
	}
	if o.restyClient == nil {
		o.restyClient = resty.New().
			SetTimeout(cfg.Timeout).
			SetRetryCount(0)
	}
	return o
}
