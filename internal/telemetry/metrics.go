// Package telemetry implements C15: the prometheus collectors backing
// GET /metrics, matching §6's metric names exactly.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector this process exposes. It is safe to
// register against the default prometheus registerer exactly once per
// process; a second New() in the same binary (e.g. in tests) should use
// NewWithRegisterer(prometheus.NewRegistry(), ...) to avoid a duplicate-registration
// panic.
type Registry struct {
	startedAt time.Time

	info         *prometheus.GaugeVec
	uptime       prometheus.GaugeFunc
	messages     *prometheus.CounterVec
	shipsTotal   prometheus.Gauge
	shipsOnline  prometheus.Gauge
	queuePending prometheus.Gauge
	deadLetters  *prometheus.GaugeVec
}

// New registers every collector against prometheus's default registerer.
func New(mode, shipID, version string) *Registry {
	return NewWithRegisterer(prometheus.DefaultRegisterer, mode, shipID, version)
}

// NewWithRegisterer is the form tests use with a scratch *prometheus.Registry
// so repeated test runs don't panic on duplicate registration against the
// process-wide default.
func NewWithRegisterer(reg prometheus.Registerer, mode, shipID, version string) *Registry {
	r := &Registry{startedAt: time.Now()}

	r.info = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "offline_sync_info",
		Help: "Static build/runtime info; value is always 1.",
	}, []string{"mode", "ship_id", "version"})
	r.info.WithLabelValues(mode, shipID, version).Set(1)

	r.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "offline_sync_uptime_seconds",
		Help: "Seconds since process start.",
	}, func() float64 { return time.Since(r.startedAt).Seconds() })

	r.messages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_sync_messages_total",
		Help: "Count of SyncMessages by terminal outcome.",
	}, []string{"status"})

	r.shipsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offline_sync_ships_total",
		Help: "Number of known ships (master only).",
	})
	r.shipsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offline_sync_ships_online",
		Help: "Number of ships currently online (master only).",
	})
	r.queuePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offline_sync_queue_pending",
		Help: "Pending+sending entries in the outbound sync queue.",
	})
	r.deadLetters = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "offline_sync_dead_letter_total",
		Help: "Dead-letter entries by state.",
	}, []string{"status"})

	reg.MustRegister(r.info, r.uptime, r.messages, r.shipsTotal, r.shipsOnline, r.queuePending, r.deadLetters)
	return r
}

func (r *Registry) ObserveMessage(status string) { r.messages.WithLabelValues(status).Inc() }

func (r *Registry) SetShips(total, online int) {
	r.shipsTotal.Set(float64(total))
	r.shipsOnline.Set(float64(online))
}

func (r *Registry) SetQueuePending(n int) { r.queuePending.Set(float64(n)) }

func (r *Registry) SetDeadLetters(pending, retrying, exhausted, resolved int64) {
	r.deadLetters.WithLabelValues("pending").Set(float64(pending))
	r.deadLetters.WithLabelValues("retrying").Set(float64(retrying))
	r.deadLetters.WithLabelValues("exhausted").Set(float64(exhausted))
	r.deadLetters.WithLabelValues("resolved").Set(float64(resolved))
}
