// Package stats exports kernel traffic counters via Prometheus: total and
// "useful" (non-reserved-port) bytes in/out, per-priority queue depth, drop
// counts by fail code, and live connection count.
//
// Follows a statsValue shape (a kind/label/cumulative record collected
// into a named tracker), adapted from a build-tag-gated StatsD/Prometheus dual backend
// to a Prometheus-only exporter via prometheus/client_golang, since that
// library is the pack's wired metrics dependency.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/peismesh/kernel/cos"
	"github.com/peismesh/kernel/transport"
)

// Stats is the process-wide metrics tracker. A nil *Stats is valid and
// every method becomes a no-op, so callers don't need to special-case
// "metrics disabled".
type Stats struct {
	bytesIn, bytesOut   prometheus.Counter
	usefulIn, usefulOut prometheus.Counter
	dropped             *prometheus.CounterVec
	connections         prometheus.Gauge
	queueDepth          *prometheus.GaugeVec
	assemblyPending     prometheus.Gauge
}

// New constructs and registers every metric against reg. Pass
// prometheus.NewRegistry() in production, or prometheus.NewPedanticRegistry()
// in tests that want duplicate-registration to panic loudly.
func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		bytesIn:  prometheus.NewCounter(prometheus.CounterOpts{Name: "kernel_bytes_in_total", Help: "Total bytes received on any link."}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{Name: "kernel_bytes_out_total", Help: "Total bytes sent on any link."}),
		usefulIn: prometheus.NewCounter(prometheus.CounterOpts{Name: "kernel_useful_bytes_in_total", Help: "Bytes received on non-reserved ports."}),
		usefulOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kernel_useful_bytes_out_total", Help: "Bytes sent on non-reserved ports.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kernel_packages_dropped_total", Help: "Packages dropped, by reason.",
		}, []string{"reason"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{Name: "kernel_connections", Help: "Currently established connections."}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kernel_queue_depth", Help: "Outgoing queue depth, by priority.",
		}, []string{"priority"}),
		assemblyPending: prometheus.NewGauge(prometheus.GaugeOpts{Name: "kernel_assembly_pending", Help: "In-flight AssemblyBuffers."}),
	}
	reg.MustRegister(s.bytesIn, s.bytesOut, s.usefulIn, s.usefulOut, s.dropped, s.connections, s.queueDepth, s.assemblyPending)
	return s
}

// IncDropped records one dropped package, labeled by its cos.FailCode.
func (s *Stats) IncDropped(code cos.FailCode) {
	if s == nil {
		return
	}
	s.dropped.WithLabelValues(code.String()).Inc()
}

// SetAssemblyPending reports the Reassembler's current in-flight buffer count.
func (s *Stats) SetAssemblyPending(n int) {
	if s == nil {
		return
	}
	s.assemblyPending.Set(float64(n))
}

// Collect sets the live connection count and the per-priority queue depths
// summed over conns. It does not read byte counters; traffic is added
// separately through AddTraffic.
func (s *Stats) Collect(conns []*transport.Connection) {
	if s == nil {
		return
	}
	s.connections.Set(float64(len(conns)))
	var hi, ack, normal, bulk float64
	for _, c := range conns {
		hi += float64(c.QueueDepth(transport.PriHigh))
		ack += float64(c.QueueDepth(transport.PriAck))
		normal += float64(c.QueueDepth(transport.PriNormal))
		bulk += float64(c.QueueDepth(transport.PriBulk))
	}
	s.queueDepth.WithLabelValues("hi-pri").Set(hi)
	s.queueDepth.WithLabelValues("ack").Set(ack)
	s.queueDepth.WithLabelValues("normal").Set(normal)
	s.queueDepth.WithLabelValues("bulk").Set(bulk)
}

// AddTraffic records one Connection's incremental byte counts since the
// last call (total in/out plus the useful-bytes subset).
func (s *Stats) AddTraffic(bytesIn, bytesOut, usefulIn, usefulOut int64) {
	if s == nil {
		return
	}
	s.bytesIn.Add(float64(bytesIn))
	s.bytesOut.Add(float64(bytesOut))
	s.usefulIn.Add(float64(usefulIn))
	s.usefulOut.Add(float64(usefulOut))
}
