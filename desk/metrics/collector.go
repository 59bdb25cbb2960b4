// Package metrics exposes turn metrics to Prometheus and summarizes help desk
// activity for operators.
package metrics

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/stat"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

// DefaultWindow is how many recent turn latencies feed LatencySummary.
const DefaultWindow = 1000

// Collector records completed turns. It implements orchestration.Observer.
type Collector struct {
	registry *prometheus.Registry

	turns           *prometheus.CounterVec
	guardrailBlocks *prometheus.CounterVec
	escalatedTurns  prometheus.Counter
	tickets         *prometheus.CounterVec
	degraded        prometheus.Counter
	latency         prometheus.Histogram
	confidence      prometheus.Histogram

	mu      sync.Mutex
	window  []float64 // seconds, ring buffer
	next    int
	samples int64
}

// NewCollector registers the help desk metrics under namespace on a private registry,
// together with the Go runtime and process collectors.
func NewCollector(namespace string, window int) *Collector {
	if window < 1 {
		window = DefaultWindow
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed conversation turns by tier and severity.",
		}, []string{"tier", "severity"}),
		guardrailBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_blocks_total",
			Help:      "Turns refused by the guardrail, by reason.",
		}, []string{"reason"}),
		escalatedTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalated_turns_total",
			Help:      "Turns whose decision required human escalation.",
		}),
		tickets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_created_total",
			Help:      "Support tickets opened on escalation, by severity.",
		}, []string{"severity"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_answers_total",
			Help:      "Turns answered with the degraded fallback.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_confidence",
			Help:      "Confidence of grounded answers.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		window: make([]float64, 0, window),
	}

	c.registry.MustRegister(
		c.turns,
		c.guardrailBlocks,
		c.escalatedTurns,
		c.tickets,
		c.degraded,
		c.latency,
		c.confidence,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveTurn records one completed turn.
func (c *Collector) ObserveTurn(turn ports.Turn, latency time.Duration) {
	c.turns.WithLabelValues(string(turn.Decision.Tier), string(turn.Decision.Severity)).Inc()

	if turn.Guardrail.Blocked {
		c.guardrailBlocks.WithLabelValues(turn.Guardrail.Reason).Inc()
	} else {
		c.confidence.Observe(turn.Confidence)
	}
	if turn.Decision.NeedsEscalation {
		c.escalatedTurns.Inc()
	}
	if turn.TicketID != "" {
		c.tickets.WithLabelValues(string(turn.Decision.Severity)).Inc()
	}
	if turn.Degraded {
		c.degraded.Inc()
	}

	seconds := latency.Seconds()
	c.latency.Observe(seconds)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.window) < cap(c.window) {
		c.window = append(c.window, seconds)
	} else {
		c.window[c.next] = seconds
	}
	c.next = (c.next + 1) % cap(c.window)
	c.samples++
}

// LatencySummary describes recent turn latencies in seconds.
type LatencySummary struct {
	Samples int64   `json:"samples"` // turns observed since start
	Window  int     `json:"window"`  // turns the statistics are computed over
	Mean    float64 `json:"mean"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
}

// LatencySummary computes statistics over the most recent turns.
func (c *Collector) LatencySummary() LatencySummary {
	c.mu.Lock()
	sorted := slices.Clone(c.window)
	samples := c.samples
	c.mu.Unlock()

	s := LatencySummary{Samples: samples, Window: len(sorted)}
	if len(sorted) == 0 {
		return s
	}

	slices.Sort(sorted)
	s.Mean = stat.Mean(sorted, nil)
	s.P50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return s
}

// Registry exposes the private registry, e.g. for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
