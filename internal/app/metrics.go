package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
)

// Metrics owns a private registry served at /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	messages    *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	resolveDur  prometheus.Histogram
	created     prometheus.Counter
	deliveries  *prometheus.CounterVec
	ticks       *prometheus.CounterVec
	tickDur     prometheus.Histogram
	lastDue     prometheus.Gauge
}

func NewMetrics(bus eventbus.Bus) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remindbot",
			Name:      "messages_total",
			Help:      "Inbound chat messages by channel and outcome.",
		}, []string{"channel", "status"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remindbot",
			Name:      "resolutions_total",
			Help:      "Resolution attempts by source (simple, semantic, fallback, none) and confidence.",
		}, []string{"source", "confidence"}),
		resolveDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remindbot",
			Name:      "resolve_duration_seconds",
			Help:      "Time to resolve one message, including any completion call.",
			Buckets:   []float64{.001, .01, .1, .5, 1, 2.5, 5, 10, 20},
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "remindbot",
			Name:      "reminders_created_total",
			Help:      "Reminders stored.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remindbot",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by result.",
		}, []string{"result"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "remindbot",
			Name:      "dispatch_ticks_total",
			Help:      "Dispatch ticks by result (ok, skipped, scan_error).",
		}, []string{"result"}),
		tickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "remindbot",
			Name:      "dispatch_tick_duration_seconds",
			Help:      "Wall time of one dispatch tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastDue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "remindbot",
			Name:      "dispatch_last_due",
			Help:      "Due tasks found by the most recent tick.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages, m.resolutions, m.resolveDur, m.created,
		m.deliveries, m.ticks, m.tickDur, m.lastDue,
	)
	if bus != nil {
		m.Registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "remindbot",
			Name:      "eventbus_dropped_total",
			Help:      "Events dropped because a subscriber was slow.",
		}, func() float64 { return float64(bus.Dropped()) }))
	}
	return m
}

func (m *Metrics) ObserveMessage(channel, status string) {
	m.messages.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) ObserveResolution(res reminder.Resolution, took time.Duration) {
	m.resolveDur.Observe(took.Seconds())
	if res.Reminder == nil {
		m.resolutions.WithLabelValues("none", "").Inc()
		return
	}
	m.resolutions.WithLabelValues(string(res.Source), string(res.Reminder.Confidence)).Inc()
}

// Consume feeds reminder events into the collectors until ctx ends.
func (m *Metrics) Consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			m.observeEvent(e)
		}
	}
}

func (m *Metrics) observeEvent(e eventbus.Event) {
	switch e.Type {
	case reminder.EventCreated:
		m.created.Inc()
	case reminder.EventDelivered:
		m.deliveries.WithLabelValues("sent").Inc()
	case reminder.EventDeliveryFailed:
		m.deliveries.WithLabelValues("failed").Inc()
	case reminder.EventTick:
		rep, ok := e.Data.(reminder.TickReport)
		if !ok {
			return
		}
		switch {
		case rep.Skipped:
			m.ticks.WithLabelValues("skipped").Inc()
			return
		case rep.ScanErr != nil:
			m.ticks.WithLabelValues("scan_error").Inc()
		default:
			m.ticks.WithLabelValues("ok").Inc()
		}
		m.tickDur.Observe(rep.Took.Seconds())
		m.lastDue.Set(float64(rep.Due))
	}
}
