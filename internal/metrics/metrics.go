// Package metrics exposes the pipeline counters through Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "miltracker"

// Collector owns a registry and every counter the binaries report. It
// satisfies the metric sinks of the ingest, consumer, poller, sweep and api
// packages.
type Collector struct {
	registry *prometheus.Registry

	ingested       prometheus.Counter
	skipped        prometheus.Counter
	failed         *prometheus.CounterVec
	received       prometheus.Counter
	decodeFailures prometheus.Counter
	busErrors      *prometheus.CounterVec
	acked          prometheus.Counter
	pollCalls      *prometheus.CounterVec
	pollAircraft   prometheus.Counter
	published      prometheus.Counter
	tracksClosed   prometheus.Counter
	apiRequests    *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry, including the Go
// runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_ingested_total",
			Help: "Events persisted in one committed unit of work.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_skipped_no_position_total",
			Help: "Events skipped because latitude or longitude was missing.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_failed_total",
			Help: "Events whose unit of work was rolled back, by failing step.",
		}, []string{"step"}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "consumer_messages_received_total",
			Help: "Messages fetched from the bus.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "consumer_decode_failures_total",
			Help: "Messages dropped because they could not be decoded.",
		}),
		busErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bus_errors_total",
			Help: "Bus operation failures, by operation.",
		}, []string{"op"}),
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "consumer_messages_acked_total",
			Help: "Messages acknowledged to the bus.",
		}),
		pollCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "poller_calls_total",
			Help: "Feed API calls, by result.",
		}, []string{"result"}),
		pollAircraft: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poller_aircraft_retrieved_total",
			Help: "Aircraft items returned by the feed.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poller_messages_published_total",
			Help: "Messages published to the bus.",
		}),
		tracksClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tracks_closed_total",
			Help: "Tracks finalised by the idle sweeper.",
		}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total",
			Help: "Watcher API requests, by endpoint and status.",
		}, []string{"endpoint", "status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.ingested, c.skipped, c.failed,
		c.received, c.decodeFailures, c.busErrors, c.acked,
		c.pollCalls, c.pollAircraft, c.published,
		c.tracksClosed, c.apiRequests,
	)
	return c
}

// Registry returns the registry to serve.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Ingested()          { c.ingested.Inc() }
func (c *Collector) Skipped()           { c.skipped.Inc() }
func (c *Collector) Failed(step string) { c.failed.WithLabelValues(step).Inc() }

func (c *Collector) Received(n int)     { c.received.Add(float64(n)) }
func (c *Collector) DecodeFailed()      { c.decodeFailures.Inc() }
func (c *Collector) BusError(op string) { c.busErrors.WithLabelValues(op).Inc() }
func (c *Collector) Acked(n int)        { c.acked.Add(float64(n)) }

func (c *Collector) PollSucceeded(aircraft int) {
	c.pollCalls.WithLabelValues("ok").Inc()
	c.pollAircraft.Add(float64(aircraft))
}
func (c *Collector) PollFailed()     { c.pollCalls.WithLabelValues("failed").Inc() }
func (c *Collector) Published(n int) { c.published.Add(float64(n)) }

func (c *Collector) TracksClosed(n int64) { c.tracksClosed.Add(float64(n)) }

func (c *Collector) Request(endpoint string, status int) {
	c.apiRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}
