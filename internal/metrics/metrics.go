// ABOUTME: Prometheus collectors for maintenance operations
// ABOUTME: Registered on a dedicated registry that serve exposes over HTTP

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chitchat"

// Operation labels for LastRun
const (
	OpMigrate  = "migrate"
	OpBackup   = "backup"
	OpRestore  = "restore"
	OpRelocate = "relocate"
	OpReap     = "reap"
)

// Relocation outcome labels
const (
	OutcomeMoved          = "moved"
	OutcomeAlreadyPresent = "already_present"
	OutcomeMissingSource  = "missing_source"
	OutcomeFailed         = "failed"
)

// Metrics holds every maintenance collector
type Metrics struct {
	registry *prometheus.Registry

	RetentionMessagesDeleted prometheus.Counter
	RetentionOrphansDeleted  prometheus.Counter
	RetentionRoomFailures    prometheus.Counter
	Backups                  prometheus.Counter
	Restores                 prometheus.Counter
	RelocationItems          *prometheus.CounterVec
	LastRun                  *prometheus.GaugeVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RetentionMessagesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "messages_deleted_total",
			Help:      "Messages deleted by the retention reaper",
		}),
		RetentionOrphansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "orphans_deleted_total",
			Help:      "Orphaned attachment rows deleted by the retention reaper",
		}),
		RetentionRoomFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "room_failures_total",
			Help:      "Rooms whose retention delete was rolled back",
		}),
		Backups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Backups produced",
		}),
		Restores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Backups restored",
		}),
		RelocationItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relocation",
			Name:      "items_total",
			Help:      "Attachments considered during relocation, by outcome",
		}, []string{"outcome"}),
		LastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix timestamp of the last successful run of each operation",
		}, []string{"operation"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RetentionMessagesDeleted,
		m.RetentionOrphansDeleted,
		m.RetentionRoomFailures,
		m.Backups,
		m.Restores,
		m.RelocationItems,
		m.LastRun,
	)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MarkRun records a successful run of operation at t
func (m *Metrics) MarkRun(operation string, t time.Time) {
	m.LastRun.WithLabelValues(operation).Set(float64(t.Unix()))
}
