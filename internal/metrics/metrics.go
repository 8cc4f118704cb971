// Package metrics tracks the checker's per-run statistics -- encoded GNF
// size and solver latency -- and renders them to the diagnostic log in
// Prometheus text exposition format. There is no network server: the
// checker is a one-shot CLI, not a long-lived service, so the only
// consumer of these metrics is whoever reads its log.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"
)

// Registry holds the gauges and histogram for a single checker run.
type Registry struct {
	reg *prometheus.Registry

	NVariables prometheus.Gauge
	NClauses   prometheus.Gauge
	NNodes     prometheus.Gauge
	NEdges     prometheus.Gauge
	SolveTime  prometheus.Histogram
}

// NewRegistry constructs a fresh, unpopulated Registry.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.NVariables = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sercheck_gnf_variables",
		Help: "Number of SAT variables in the encoded GNF for the most recent run.",
	})
	r.NClauses = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sercheck_gnf_clauses",
		Help: "Number of CNF clauses in the encoded GNF for the most recent run.",
	})
	r.NNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sercheck_gnf_nodes",
		Help: "Number of graph nodes (transactions) in the encoded GNF for the most recent run.",
	})
	r.NEdges = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sercheck_gnf_edges",
		Help: "Number of conditional graph edges in the encoded GNF for the most recent run.",
	})
	r.SolveTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sercheck_solve_seconds",
		Help:    "Wall-clock time spent waiting on the external solver.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	r.reg.MustRegister(r.NVariables, r.NClauses, r.NNodes, r.NEdges, r.SolveTime)
	return r
}

// LogSnapshot renders every registered metric as Prometheus text exposition
// format and writes it to the diagnostic log at info level, one log entry
// per line, so it interleaves sanely with the rest of the run's logrus
// output.
func (r *Registry) LogSnapshot() {
	families, err := r.reg.Gather()
	if err != nil {
		log.WithError(err).Warn("failed to gather metrics")
		return
	}

	var sb strings.Builder
	for _, mf := range families {
		if err := expfmt.MetricFamilyToText(&sb, mf); err != nil {
			log.WithError(err).Warn("failed to render metric family")
			return
		}
	}

	for _, line := range strings.Split(strings.TrimRight(sb.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		log.WithField("metric", true).Info(line)
	}
}
