package keycloak

import (
	"time"

	"github.com/go-logr/logr"
)

// RequestEvent describes one admin API call. It never carries request or
// response payloads.
type RequestEvent struct {
	Method     string
	URL        string
	StatusCode int // zero when no response was received
	Duration   time.Duration
	Err        error
}

// Observer receives a RequestEvent for every call made through Client.Execute.
type Observer interface {
	Record(event RequestEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event RequestEvent)

// Record calls f(event).
func (f ObserverFunc) Record(event RequestEvent) {
	f(event)
}

// NopObserver discards all events.
type NopObserver struct{}

// Record does nothing.
func (NopObserver) Record(RequestEvent) {}

type logObserver struct {
	log logr.Logger
}

// NewLogObserver returns an Observer that logs each call at V(1).
func NewLogObserver(log logr.Logger) Observer {
	return &logObserver{log: log}
}

func (o *logObserver) Record(event RequestEvent) {
	if event.Err != nil {
		o.log.V(1).Info("Keycloak request failed", "method", event.Method, "url", event.URL,
			"status", event.StatusCode, "duration", event.Duration, "error", event.Err.Error())
		return
	}
	o.log.V(1).Info("Keycloak request", "method", event.Method, "url", event.URL,
		"status", event.StatusCode, "duration", event.Duration)
}

type multiObserver []Observer

// Observers fans every event out to all given observers, skipping nil ones.
func Observers(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) Record(event RequestEvent) {
	for _, o := range m {
		o.Record(event)
	}
}
