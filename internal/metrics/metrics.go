package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_submitted_total",
		Help: "Orders accepted or rejected at the gateway",
	}, []string{"result"})

	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_transitions_total",
		Help: "Status transitions persisted by the state machine",
	}, []string{"status"})

	VenueChosen = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_venue_chosen_total",
		Help: "Routing decisions by venue",
	}, []string{"venue"})

	QuoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orders_quote_seconds",
		Help:    "Time taken to fetch a quote from a venue",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms doubling
	}, []string{"venue"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_processed_total",
		Help: "Job attempts by outcome",
	}, []string{"queue", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_job_duration_seconds",
		Help:    "Duration of a single job attempt",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"queue"})

	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_job_retries_total",
		Help: "Jobs scheduled for another attempt",
	}, []string{"queue"})

	JobsExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_exhausted_total",
		Help: "Jobs that used all of their attempts",
	}, []string{"queue"})

	ActiveWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_active_workers",
		Help: "Workers currently processing a job",
	}, []string{"queue"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_published_total",
		Help: "Status events handed to the transport",
	}, []string{"status", "result"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bus_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full",
	})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_websocket_clients",
		Help: "Open websocket connections",
	})
)
