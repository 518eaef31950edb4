package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradestream"

// Collector holds every metric the service exports on its own registry.
type Collector struct {
	registry *prometheus.Registry

	// Feed connection
	connState      prometheus.Gauge
	connects       prometheus.Counter
	disconnects    *prometheus.CounterVec
	reconnects     prometheus.Counter
	reconnectDelay prometheus.Gauge
	transportErrs  prometheus.Counter
	heartbeats     prometheus.Counter
	framesIn       prometheus.Counter
	framesOut      prometheus.Counter

	// Router
	dispatched      *prometheus.CounterVec
	parseErrors     prometheus.Counter
	handlerFailures *prometheus.CounterVec

	// Retry executor
	retryAttempts  prometheus.Counter
	retryExhausted *prometheus.CounterVec

	// Journal
	journalRows   prometheus.Counter
	journalErrors prometheus.Counter
	journalFlush  prometheus.Histogram
}

// NewCollector creates a collector registered on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connection_state",
			Help:      "Feed connection state (0=closed, 1=connecting, 2=open, 3=closing)",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_connects_total",
			Help:      "Total number of successful feed connections",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_disconnects_total",
			Help:      "Total number of feed transport closes by close code",
		}, []string{"code"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_scheduled_total",
			Help:      "Total number of reconnect attempts scheduled",
		}),
		reconnectDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_reconnect_delay_seconds",
			Help:      "Delay of the most recently scheduled reconnect",
		}),
		transportErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_transport_errors_total",
			Help:      "Total number of transport errors reported to listeners",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_heartbeats_sent_total",
			Help:      "Total number of heartbeat frames sent",
		}),
		framesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_frames_received_total",
			Help:      "Total number of inbound frames",
		}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_frames_sent_total",
			Help:      "Total number of outbound frames, heartbeats included",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_events_dispatched_total",
			Help:      "Total number of events dispatched by type",
		}, []string{"type"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_parse_errors_total",
			Help:      "Total number of inbound frames dropped as unparseable",
		}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_handler_failures_total",
			Help:      "Total number of handler errors and panics by event type",
		}, []string{"type"}),
		retryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of failed attempts that were retried",
		}),
		retryExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_exhausted_total",
			Help:      "Total number of operations that failed after their last attempt, by error kind",
		}, []string{"kind"}),
		journalRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_rows_written_total",
			Help:      "Total number of events written to the journal",
		}),
		journalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_flush_errors_total",
			Help:      "Total number of failed journal flushes",
		}),
		journalFlush: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "journal_flush_seconds",
			Help:      "Journal batch flush latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.connState, c.connects, c.disconnects, c.reconnects, c.reconnectDelay,
		c.transportErrs, c.heartbeats, c.framesIn, c.framesOut,
		c.dispatched, c.parseErrors, c.handlerFailures,
		c.retryAttempts, c.retryExhausted,
		c.journalRows, c.journalErrors, c.journalFlush,
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SetConnectionState(state int) {
	if c == nil {
		return
	}
	c.connState.Set(float64(state))
}

func (c *Collector) RecordConnect() {
	if c == nil {
		return
	}
	c.connects.Inc()
}

func (c *Collector) RecordDisconnect(code int) {
	if c == nil {
		return
	}
	c.disconnects.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (c *Collector) RecordReconnectScheduled(delay time.Duration) {
	if c == nil {
		return
	}
	c.reconnects.Inc()
	c.reconnectDelay.Set(delay.Seconds())
}

func (c *Collector) RecordTransportError() {
	if c == nil {
		return
	}
	c.transportErrs.Inc()
}

func (c *Collector) RecordHeartbeat() {
	if c == nil {
		return
	}
	c.heartbeats.Inc()
}

func (c *Collector) RecordFrameIn() {
	if c == nil {
		return
	}
	c.framesIn.Inc()
}

func (c *Collector) RecordFrameOut() {
	if c == nil {
		return
	}
	c.framesOut.Inc()
}

func (c *Collector) RecordDispatch(eventType string) {
	if c == nil {
		return
	}
	c.dispatched.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordParseError() {
	if c == nil {
		return
	}
	c.parseErrors.Inc()
}

func (c *Collector) RecordHandlerFailure(eventType string) {
	if c == nil {
		return
	}
	c.handlerFailures.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordRetry() {
	if c == nil {
		return
	}
	c.retryAttempts.Inc()
}

func (c *Collector) RecordRetryExhausted(kind string) {
	if c == nil {
		return
	}
	c.retryExhausted.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordJournalFlush(rows int, took time.Duration, err error) {
	if c == nil {
		return
	}
	c.journalFlush.Observe(took.Seconds())
	if err != nil {
		c.journalErrors.Inc()
		return
	}
	c.journalRows.Add(float64(rows))
}
