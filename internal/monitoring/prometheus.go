package monitoring

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/isometry/groupsync/internal/logging"
)

// Monitor keeps run metrics in a private registry so a short-lived process
// can export them to a node_exporter textfile.
type Monitor struct {
	registry *prometheus.Registry

	membersAdded     *prometheus.CounterVec
	membersRemoved   *prometheus.CounterVec
	errors           *prometheus.CounterVec
	groupsCreated    prometheus.Counter
	deleteSuppressed prometheus.Gauge
	runDuration      prometheus.Gauge
	lastRun          prometheus.Gauge
	dryRun           prometheus.Gauge

	suppressed int
	logger     logging.Logger
}

// NewMonitor registers the groupsync metrics under the given namespace.
func NewMonitor(namespace string, logger logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.NopLogger{}
	}

	m := &Monitor{
		registry: prometheus.NewRegistry(),
		membersAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "members_added_total",
			Help:      "Members added to groups.",
		}, []string{"group", "kind"}),
		membersRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "members_removed_total",
			Help:      "Members removed from groups.",
		}, []string{"group", "kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Read and mutation errors per group.",
		}, []string{"group", "kind"}),
		groupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_created_total",
			Help:      "Classification groups created.",
		}),
		deleteSuppressed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delete_suppressed_groups",
			Help:      "Groups whose removals were suppressed because the want set was empty.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		dryRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dry_run",
			Help:      "1 when the last run made no changes by request.",
		}),
		logger: logger,
	}

	m.registry.MustRegister(
		m.membersAdded,
		m.membersRemoved,
		m.errors,
		m.groupsCreated,
		m.deleteSuppressed,
		m.runDuration,
		m.lastRun,
		m.dryRun,
	)

	return m
}

func (m *Monitor) RecordGroup(stats GroupStats) {
	labels := prometheus.Labels{"group": stats.Group, "kind": stats.Kind}
	m.membersAdded.With(labels).Add(float64(stats.Added))
	m.membersRemoved.With(labels).Add(float64(stats.Removed))
	m.errors.With(labels).Add(float64(stats.Errors))
	if stats.Created {
		m.groupsCreated.Inc()
	}
	if stats.DeleteSuppressed {
		m.suppressed++
		m.deleteSuppressed.Set(float64(m.suppressed))
	}
}

func (m *Monitor) RecordRun(stats RunStats) {
	m.runDuration.Set(stats.Duration.Seconds())
	m.lastRun.Set(float64(stats.Finished.Unix()))
	if stats.DryRun {
		m.dryRun.Set(1)
	} else {
		m.dryRun.Set(0)
	}
}

// Registry exposes the underlying registry.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes every metric to path in the text exposition format.
// The file is replaced atomically.
func (m *Monitor) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	m.logger.Debug("Wrote metrics textfile", map[string]any{"path": path})
	return nil
}

// NopMonitor discards metrics.
type NopMonitor struct{}

func (NopMonitor) RecordGroup(GroupStats) {}
func (NopMonitor) RecordRun(RunStats)     {}
