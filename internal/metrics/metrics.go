// Package metrics exposes swarm state as Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hiveops/internal/sink"
	"hiveops/internal/swarm"
)

var threatStates = []swarm.ThreatState{
	swarm.ThreatDetected,
	swarm.ThreatPendingAuthorization,
	swarm.ThreatAuthorized,
	swarm.ThreatAssigned,
	swarm.ThreatExecuted,
	swarm.ThreatDismissed,
	swarm.ThreatExpired,
}

// Metrics holds the collectors for one mission. It is a sink.EventWriter;
// gauges are refreshed from snapshots by Observe.
type Metrics struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	slotChanges *prometheus.CounterVec
	threats     *prometheus.GaugeVec
	agents      *prometheus.GaugeVec
	backlog     prometheus.Gauge
	busySlots   prometheus.Gauge
	decisionLag prometheus.Histogram

	mu      sync.Mutex
	pending map[uint64]time.Time
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pending:  make(map[uint64]time.Time),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hiveops_threat_transitions_total", Help: "Threat lifecycle transitions."},
			[]string{"from", "to"},
		),
		slotChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hiveops_slot_changes_total", Help: "Strike unit slot status changes."},
			[]string{"status"},
		),
		threats: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "hiveops_threats", Help: "Threats in the ledger by state."},
			[]string{"state"},
		),
		agents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "hiveops_agents", Help: "Agents by role and status."},
			[]string{"role", "status"},
		),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hiveops_backlog",
			Help: "Authorized threats waiting for a strike unit.",
		}),
		busySlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hiveops_busy_slots",
			Help: "Strike unit slots that are assigned or engaging.",
		}),
		decisionLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hiveops_decision_seconds",
			Help:    "Time from pending authorization to operator decision or expiry.",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60},
		}),
	}
	m.registry.MustRegister(m.transitions, m.slotChanges, m.threats, m.agents, m.backlog, m.busySlots, m.decisionLag)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteEvent counts a store event and times pending decisions.
func (m *Metrics) WriteEvent(row sink.EventRow) error {
	switch swarm.EventKind(row.Kind) {
	case swarm.EventThreat:
		m.transitions.WithLabelValues(row.From, row.To).Inc()
		m.timeDecision(row)
	case swarm.EventSlot:
		m.slotChanges.WithLabelValues(row.To).Inc()
	}
	return nil
}

// Observe resets the gauges from a snapshot.
func (m *Metrics) Observe(snap *swarm.Snapshot) {
	m.agents.Reset()
	for _, a := range snap.Agents {
		m.agents.WithLabelValues(string(a.Role), string(a.Status)).Inc()
	}
	counts := make(map[swarm.ThreatState]int, len(threatStates))
	for _, t := range snap.Threats {
		counts[t.State]++
	}
	for _, s := range threatStates {
		m.threats.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	m.backlog.Set(float64(counts[swarm.ThreatAuthorized]))
	busy := 0
	for _, slot := range snap.Pool {
		if slot.Status != swarm.SlotIdle {
			busy++
		}
	}
	m.busySlots.Set(float64(busy))
}

func (m *Metrics) timeDecision(row sink.EventRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.To == string(swarm.ThreatPendingAuthorization) {
		m.pending[row.ThreatID] = row.Timestamp
		return
	}
	if row.From != string(swarm.ThreatPendingAuthorization) {
		return
	}
	since, ok := m.pending[row.ThreatID]
	if !ok {
		return
	}
	delete(m.pending, row.ThreatID)
	if d := row.Timestamp.Sub(since); d >= 0 {
		m.decisionLag.Observe(d.Seconds())
	}
}
