package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports queue metrics to Prometheus. It is optional; a nil
// collector disables export without touching the rolling in-memory metrics.
type Collector struct {
	size      *prometheus.GaugeVec
	inFlight  *prometheus.GaugeVec
	processed *prometheus.CounterVec
}

// NewCollector creates and registers the queue collectors. Pass nil to keep
// the metrics unregistered (tests).
func NewCollector(registerer prometheus.Registerer) *Collector {
	ret := &Collector{
		size: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "actioncore",
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of actions currently queued.",
		}, []string{"queue"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "actioncore",
			Subsystem: "queue",
			Name:      "in_flight",
			Help:      "Number of actions currently executing per queue.",
		}, []string{"queue"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actioncore",
			Subsystem: "queue",
			Name:      "actions_processed_total",
			Help:      "Actions that reached a terminal execution outcome.",
		}, []string{"queue", "outcome"}),
	}
	if registerer != nil {
		registerer.MustRegister(ret.size, ret.inFlight, ret.processed)
	}
	return ret
}

func (c *Collector) setSize(queueID string, size int) {
	if c == nil {
		return
	}
	c.size.WithLabelValues(queueID).Set(float64(size))
}

func (c *Collector) setInFlight(queueID string, count int) {
	if c == nil {
		return
	}
	c.inFlight.WithLabelValues(queueID).Set(float64(count))
}

func (c *Collector) observe(queueID, outcome string) {
	if c == nil {
		return
	}
	c.processed.WithLabelValues(queueID, outcome).Inc()
}

// blend applies the naive two-sample running average used by queue metrics.
func blend(current, sample time.Duration) time.Duration {
	if current == 0 {
		return sample
	}
	return (current + sample) / 2
}
