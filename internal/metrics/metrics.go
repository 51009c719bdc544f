// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons an event is dropped by the tracker.
const (
	ReasonUnknownTest  = "unknown_test"
	ReasonUnassigned   = "unassigned_subject"
	ReasonStoppedTest  = "stopped_test"
	ReasonPersistError = "persist_error"
	ReasonInvalidEvent = "invalid_event"
)

var (
	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riff_assignments_total",
			Help: "New subject assignments by test and variant",
		},
		[]string{"test", "variant"},
	)

	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riff_events_total",
			Help: "Tracked events by test and event type",
		},
		[]string{"test", "event"},
	)

	EventsIgnored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riff_events_ignored_total",
			Help: "Events dropped by the tracker, by reason",
		},
		[]string{"reason"},
	)

	ActiveTests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "riff_tests_active",
			Help: "Number of tests currently in the active state",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riff_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		},
		[]string{"route", "code"},
	)
)
