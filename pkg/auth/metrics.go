package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
)

// Metrics counts gateway and bearer decisions. A nil *Metrics records
// nothing.
type Metrics struct {
	// decisions counts evaluations by route, outcome and error code.
	decisions *prometheus.CounterVec

	// duration measures evaluation latency by route.
	duration *prometheus.HistogramVec

	// tokens counts bearer token checks by outcome and error code.
	tokens *prometheus.CounterVec
}

// NewMetrics creates the gateway metrics and registers them with
// registerer. A nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "para",
				Subsystem: "gateway",
				Name:      "decisions_total",
				Help:      "Gateway evaluations by route, outcome and error code",
			},
			[]string{"route", "outcome", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "para",
				Subsystem: "gateway",
				Name:      "evaluation_duration_seconds",
				Help:      "Gateway evaluation latency",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"route"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "para",
				Subsystem: "gateway",
				Name:      "token_checks_total",
				Help:      "Bearer token checks by outcome and error code",
			},
			[]string{"outcome", "code"},
		),
	}
	if registerer != nil {
		registerer.MustRegister(m.decisions, m.duration, m.tokens)
	}
	return m
}

func (m *Metrics) observeDecision(res Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := ""
	if res.Err != nil {
		code = res.Err.Code.String()
	}
	m.decisions.WithLabelValues(string(res.Route), res.Outcome(), code).Inc()
	m.duration.WithLabelValues(string(res.Route)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeToken(err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.tokens.WithLabelValues("admit", "").Inc()
		return
	}
	code := "unknown"
	if e, ok := sserr.AsError(err); ok {
		code = e.Code.String()
	}
	m.tokens.WithLabelValues("reject", code).Inc()
}
