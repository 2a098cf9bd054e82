package scheduler

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolCollector exposes the pool's queue depths and in-flight count as
// Prometheus gauges, read at scrape time.
type PoolCollector struct {
	pool       *ReconcilePool
	queueDepth *prometheus.Desc
	inFlight   *prometheus.Desc
	partitions *prometheus.Desc
}

// NewPoolCollector creates a collector for pool
func NewPoolCollector(pool *ReconcilePool, namespace string) *PoolCollector {
	return &PoolCollector{
		pool: pool,
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "queue_depth"),
			"Events waiting in a partition queue.",
			[]string{"partition"}, nil,
		),
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "in_flight"),
			"Events queued or being processed.",
			nil, nil,
		),
		partitions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "partitions"),
			"Configured partition count.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.inFlight
	ch <- c.partitions
}

// Collect implements prometheus.Collector
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for i, depth := range c.pool.QueueDepths() {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depth), strconv.Itoa(i))
	}
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(c.pool.InFlight()))
	ch <- prometheus.MustNewConstMetric(c.partitions, prometheus.GaugeValue, float64(len(c.pool.queues)))
}

var _ prometheus.Collector = (*PoolCollector)(nil)
