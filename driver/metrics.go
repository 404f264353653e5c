package driver

import "github.com/prometheus/client_golang/prometheus"

// metrics is the driver's ambient observability surface: ring occupancy,
// retransmit counts, and command latency, exposed through whatever
// Registerer the caller passes into New. A nil Registerer at construction
// time yields a metrics struct that still records into its own vectors,
// just unpublished, so callers never have to nil-check before recording.
type metrics struct {
	ringOccupancy   *prometheus.GaugeVec
	retransmitTotal *prometheus.CounterVec
	cmdLatency      prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		ringOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rdma_driver",
			Name:      "ring_occupancy",
			Help:      "Number of descriptors currently queued in a ring.",
		}, []string{"ring"}),
		retransmitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rdma_driver",
			Name:      "retransmit_total",
			Help:      "Count of packet retransmissions by cause.",
		}, []string{"cause"}),
		cmdLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rdma_driver",
			Name:      "cmd_latency_seconds",
			Help:      "Command-queue request-to-response latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ringOccupancy, m.retransmitTotal, m.cmdLatency)
	}
	return m
}
