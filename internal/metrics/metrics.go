// Package metrics exposes Keycloak admin API calls as Prometheus metrics.
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Hostzero-GmbH/keycloak-nanny/internal/keycloak"
)

// Observer records admin API calls. It implements keycloak.Observer.
type Observer struct {
	// APIRequestsTotal counts Keycloak API requests
	APIRequestsTotal *prometheus.CounterVec

	// APIRequestDuration tracks the latency of Keycloak API requests
	APIRequestDuration *prometheus.HistogramVec
}

var _ keycloak.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keycloak_nanny_api_requests_total",
				Help: "Total number of Keycloak API requests",
			},
			[]string{"method", "status"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keycloak_nanny_api_request_duration_seconds",
				Help:    "Duration of Keycloak API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	for _, c := range []prometheus.Collector{o.APIRequestsTotal, o.APIRequestDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Record implements keycloak.Observer.
func (o *Observer) Record(event keycloak.RequestEvent) {
	o.APIRequestsTotal.WithLabelValues(event.Method, statusLabel(event)).Inc()
	o.APIRequestDuration.WithLabelValues(event.Method).Observe(event.Duration.Seconds())
}

// statusLabel is the HTTP status code, or the error class when no response arrived.
func statusLabel(event keycloak.RequestEvent) string {
	if event.StatusCode != 0 {
		return strconv.Itoa(event.StatusCode)
	}

	var authErr *keycloak.AuthError
	var transportErr *keycloak.TransportError
	switch {
	case errors.As(event.Err, &authErr):
		return "auth_error"
	case errors.As(event.Err, &transportErr):
		return "transport_error"
	case event.Err != nil:
		return "error"
	}
	return "unknown"
}
