// Package metrics exposes the node's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LICODX/rnr-poh/poh"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// NodeMetrics groups every collector the node reports. It satisfies
// poh.Observer so the sequencer can feed it directly.
type NodeMetrics struct {
	Revs           prometheus.Counter
	Events         prometheus.Counter
	DeadlineMisses prometheus.Counter
	TickLateness   prometheus.Histogram
	PhaseIndex     prometheus.Gauge
	CycleIndex     prometheus.Gauge
	ChannelStalls  prometheus.Counter

	GossipMessages  *prometheus.CounterVec
	PeersConnected  prometheus.Gauge
	RecordsRejected *prometheus.CounterVec
}

var _ poh.Observer = (*NodeMetrics)(nil)

// NewNodeMetrics creates the collectors and registers them on reg.
func NewNodeMetrics(reg prometheus.Registerer) *NodeMetrics {
	m := &NodeMetrics{
		Revs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rnr_poh_revs_total",
			Help: "Total number of revs produced.",
		}),
		Events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rnr_poh_events_total",
			Help: "Total number of events embedded in the chain.",
		}),
		DeadlineMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rnr_poh_deadline_misses_total",
			Help: "Revs that started after their scheduled deadline.",
		}),
		TickLateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rnr_poh_tick_lateness_seconds",
			Help:    "How far past its deadline each rev started.",
			Buckets: []float64{0, 0.0001, 0.00025, 0.001, 0.003125, 0.00625, 0.0125, 0.05, 0.4},
		}),
		PhaseIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rnr_poh_phase_index",
			Help: "Phase index of the latest rev.",
		}),
		CycleIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rnr_poh_cycle_index",
			Help: "Cycle index of the latest rev.",
		}),
		ChannelStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rnr_poh_channel_stalls_total",
			Help: "Times the engine waited on a full record channel.",
		}),
		GossipMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rnr_gossip_messages_total",
			Help: "Gossip messages by direction and kind.",
		}, []string{"direction", "kind"}),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rnr_peers_connected",
			Help: "Number of connected peers.",
		}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rnr_records_rejected_total",
			Help: "Peer records that failed validation, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.Revs, m.Events, m.DeadlineMisses, m.TickLateness,
		m.PhaseIndex, m.CycleIndex, m.ChannelStalls,
		m.GossipMessages, m.PeersConnected, m.RecordsRejected,
	)
	return m
}

// ObserveRev implements poh.Observer.
func (m *NodeMetrics) ObserveRev(rec poh.Record, lateness time.Duration) {
	m.Revs.Inc()
	if rec.HasEvent() {
		m.Events.Inc()
	}
	if lateness > 0 {
		m.DeadlineMisses.Inc()
	}
	m.TickLateness.Observe(lateness.Seconds())
	m.PhaseIndex.Set(float64(rec.PhaseIndex))
	m.CycleIndex.Set(float64(rec.CycleIndex))
}

func (m *NodeMetrics) ObserveMessage(direction, kind string) {
	m.GossipMessages.WithLabelValues(direction, kind).Inc()
}

func (m *NodeMetrics) SetPeers(n int) {
	m.PeersConnected.Set(float64(n))
}

func (m *NodeMetrics) ObserveRejected(reason string) {
	m.RecordsRejected.WithLabelValues(reason).Inc()
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
