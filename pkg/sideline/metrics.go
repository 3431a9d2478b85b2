package sideline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the Consumer updates as it runs.
// Pass nil to NewConsumer to skip registration (tests typically do).
type Metrics struct {
	trackedOffsets          *prometheus.GaugeVec
	finishedOutOfOrderCount *prometheus.GaugeVec
	lastFinishedOffset      *prometheus.GaugeVec
}

// NewMetrics registers the sideline consumer's collectors with reg and
// returns a Metrics ready to pass to NewConsumer. reg may be nil, in which
// case the collectors are created but never registered (useful for tests
// that don't care about a registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		trackedOffsets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sideline_consumer_tracked_offsets",
			Help: "Number of started-but-unfinished offsets currently tracked per partition.",
		}, []string{"topic", "partition"}),
		finishedOutOfOrderCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sideline_consumer_finished_out_of_order",
			Help: "Number of finished offsets not yet collapsed into the contiguous prefix, per partition.",
		}, []string{"topic", "partition"}),
		lastFinishedOffset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sideline_consumer_last_finished_offset",
			Help: "Highest contiguous finished offset per partition.",
		}, []string{"topic", "partition"}),
	}
	if reg != nil {
		reg.MustRegister(m.trackedOffsets, m.finishedOutOfOrderCount, m.lastFinishedOffset)
	}
	return m
}
