package paygate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects gate outcome counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	outcomes         *prometheus.CounterVec
	satoshisPaid     prometheus.Counter
	delegateDuration *prometheus.HistogramVec
	replayRecorded   prometheus.Counter
}

// NewMetrics registers the gate metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paygate",
				Name:      "requests_total",
				Help:      "Requests processed by the payment gate, by outcome and code",
			},
			[]string{"outcome", "code"},
		),
		satoshisPaid: f.NewCounter(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "satoshis_paid_total",
			Help:      "Satoshis paid by accepted requests",
		}),
		delegateDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "paygate",
				Name:      "delegate_duration_seconds",
				Help:      "Wallet delegate call duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"result"},
		),
		replayRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: "paygate",
			Name:      "prefixes_recorded_total",
			Help:      "Derivation prefixes recorded as consumed",
		}),
	}
}

func (m *Metrics) observeOutcome(state State, code ErrorCode) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(state.String(), string(code)).Inc()
}

func (m *Metrics) observeAccepted(v *Verification) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(StateAccepted.String(), "").Inc()
	m.satoshisPaid.Add(float64(v.SatoshisPaid))
	m.replayRecorded.Inc()
}

func (m *Metrics) observeDelegate(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.delegateDuration.WithLabelValues(result).Observe(d.Seconds())
}
