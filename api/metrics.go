package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the counters exposed on /metrics. Each Metrics owns its
// registry so tests can build as many as they like.
type Metrics struct {
	Registry           *prometheus.Registry
	Redemptions        *prometheus.CounterVec
	Undos              *prometheus.CounterVec
	RemindersDelivered prometheus.Counter
	ReminderFailures   prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perks",
			Name:      "redemptions_total",
			Help:      "Redeem and mark-available actions by result.",
		}, []string{"action", "result"}),
		Undos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "perks",
			Name:      "undo_total",
			Help:      "Undo invocations by result.",
		}, []string{"result"}),
		RemindersDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perks",
			Name:      "reminders_delivered_total",
			Help:      "Reminders handed to the notification sink.",
		}),
		ReminderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "perks",
			Name:      "reminder_failures_total",
			Help:      "Reminders the sink failed to deliver.",
		}),
	}
	m.Registry.MustRegister(
		m.Redemptions,
		m.Undos,
		m.RemindersDelivered,
		m.ReminderFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// resultLabel buckets an action error for the result label.
func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch statusFor(err) {
	case http.StatusConflict:
		return "rejected"
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "error"
	}
}
