package poller

import (
	"time"

	"github.com/AIexpert-ig/Grace-dashboard/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

// 轮询结果标签
const (
	resultSuccess   = "success"
	resultFailure   = "failure"
	resultCancelled = "cancelled"
)

// Metrics 轮询器的 prometheus 指标
type Metrics struct {
	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	State         *prometheus.GaugeVec
}

// NewMetrics 创建并注册轮询指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grace_poll_cycles_total",
			Help: "Total number of snapshot poll cycles by result",
		}, []string{"result"}),

		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grace_poll_cycle_duration_seconds",
			Help:    "Duration of snapshot poll cycles in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms ~ 40s
		}),

		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grace_connection_state",
			Help: "Current backend connection state (1 for the active state)",
		}, []string{"state"}),
	}

	if reg != nil {
		reg.MustRegister(m.Cycles, m.CycleDuration, m.State)
	}
	return m
}

func (m *Metrics) observeCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	if result != resultCancelled {
		m.CycleDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) setState(state models.ConnectionState) {
	if m == nil {
		return
	}
	for _, s := range []models.ConnectionState{models.StateConnecting, models.StateConnected, models.StateDisconnected} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(string(s)).Set(v)
	}
}
