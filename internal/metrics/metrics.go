package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the HTTP surface and view sessions.
type Metrics struct {
	Registry *prometheus.Registry

	Requests           *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	Toggles            prometheus.Counter
	ChecklistsComplete prometheus.Counter
	Logins             *prometheus.CounterVec
	WebhookDeliveries  *prometheus.CounterVec
}

// New registers every collector on a fresh registry, so several servers can
// live in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ckdt_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ckdt_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"route"}),
		Toggles: f.NewCounter(prometheus.CounterOpts{
			Name: "ckdt_checklist_toggles_total",
			Help: "Item toggles applied to view sessions",
		}),
		ChecklistsComplete: f.NewCounter(prometheus.CounterOpts{
			Name: "ckdt_checklists_completed_total",
			Help: "View sessions that reached a complete checklist",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ckdt_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ckdt_webhook_deliveries_total",
			Help: "Webhook deliveries by result",
		}, []string{"result"}),
	}
}

// TrackSessions exposes the number of open view sessions.
func (m *Metrics) TrackSessions(open func() int) {
	promauto.With(m.Registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ckdt_sessions_open",
		Help: "Open checklist view sessions",
	}, func() float64 { return float64(open()) })
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, start time.Time) {
	m.Requests.WithLabelValues(method, route, statusLabel(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

// ObserveToggle records a toggle and whether it completed the checklist.
func (m *Metrics) ObserveToggle(wasComplete, isComplete bool) {
	m.Toggles.Inc()
	if !wasComplete && isComplete {
		m.ChecklistsComplete.Inc()
	}
}

func (m *Metrics) ObserveLogin(ok bool) {
	if ok {
		m.Logins.WithLabelValues("ok").Inc()
		return
	}
	m.Logins.WithLabelValues("denied").Inc()
}

func (m *Metrics) ObserveWebhook(err error) {
	if err != nil {
		m.WebhookDeliveries.WithLabelValues("failed").Inc()
		return
	}
	m.WebhookDeliveries.WithLabelValues("ok").Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
