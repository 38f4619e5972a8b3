package device

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromSink reports kernel timings and transfer counts as prometheus
// metrics.
type PromSink struct {
	kernelDuration *prometheus.HistogramVec
	kernelGroups   *prometheus.CounterVec
	transfers      *prometheus.CounterVec
	transferElems  *prometheus.CounterVec
}

// NewPromSink registers the sink collectors on reg under the given
// namespace.  Registration panics if the collectors are already
// registered on reg.
func NewPromSink(reg prometheus.Registerer, namespace string) *PromSink {
	f := promauto.With(reg)
	return &PromSink{
		kernelDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kernel_duration_seconds",
			Help:      "Wall time of kernel launches",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"kernel"}),
		kernelGroups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kernel_groups_total",
			Help:      "Number of work-groups executed",
		}, []string{"kernel"}),
		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Number of host/device copies",
		}, []string{"direction"}),
		transferElems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transferred_elements_total",
			Help:      "Number of elements copied between host and device",
		}, []string{"direction"}),
	}
}

// KernelDone implements Sink.
func (p *PromSink) KernelDone(name string, groups int, elapsed time.Duration) {
	p.kernelDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	p.kernelGroups.WithLabelValues(name).Add(float64(groups))
}

// Transferred implements Sink.
func (p *PromSink) Transferred(dir Direction, elems int) {
	p.transfers.WithLabelValues(dir.String()).Inc()
	p.transferElems.WithLabelValues(dir.String()).Add(float64(elems))
}
