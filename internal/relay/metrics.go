package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	notificationShown   = "shown"
	notificationFailed  = "failed"
	notificationSkipped = "skipped"
)

// Metrics - счетчики relay. Методы безопасны для nil.
type Metrics struct {
	payloads       *prometheus.CounterVec
	forwards       *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	clicks         prometheus.Counter
	handleDuration prometheus.Histogram
}

// NewMetrics регистрирует метрики в reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		payloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "push_relay_payloads_total",
			Help: "Total number of processed push payloads by result.",
		}, []string{"result"}),
		forwards: f.NewCounterVec(prometheus.CounterOpts{
			Name: "push_relay_forwards_total",
			Help: "Total number of payload posts to foreground contexts by result.",
		}, []string{"result"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "push_relay_notifications_total",
			Help: "Total number of notification display requests by result.",
		}, []string{"result"}),
		clicks: f.NewCounter(prometheus.CounterOpts{
			Name: "push_relay_notification_clicks_total",
			Help: "Total number of notification clicks reported by clients.",
		}),
		handleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "push_relay_handle_duration_seconds",
			Help:    "Time spent forwarding a payload and requesting its notification.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeHandle(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.handleDuration.Observe(d.Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.payloads.WithLabelValues(result).Inc()
}

func (m *Metrics) forwarded(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.forwards.WithLabelValues("queued").Inc()
		return
	}
	m.forwards.WithLabelValues("dropped").Inc()
}

func (m *Metrics) notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) click() {
	if m == nil {
		return
	}
	m.clicks.Inc()
}
