package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c-po/frr/bfd"
)

type metrics struct {
	registry *prometheus.Registry

	transactionsTotal *prometheus.CounterVec
	sessions          prometheus.GaugeFunc
	profiles          prometheus.GaugeFunc
	sessionApplies    prometheus.CounterFunc
	profileUpdates    prometheus.CounterFunc
	registrations     prometheus.CounterFunc
	sessionsFreed     prometheus.CounterFunc
}

// newMetrics builds a per-server registry so tests can run several
// servers in one process.
func newMetrics(bs *bfd.Server) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		transactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfdd_nb_transactions_total",
				Help: "Configuration transactions, by result.",
			},
			[]string{"result"},
		),
		sessions: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "bfdd_sessions",
				Help: "Registered BFD sessions.",
			},
			func() float64 { return float64(bs.Sessions().Len()) },
		),
		profiles: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "bfdd_profiles",
				Help: "Registered BFD profiles.",
			},
			func() float64 { return float64(bs.Profiles().Len()) },
		),
		sessionApplies: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "bfdd_session_applies_total",
				Help: "Session parameter re-evaluations by the engine.",
			},
			func() float64 { return float64(bs.Stats().SessionApplies) },
		),
		profileUpdates: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "bfdd_profile_updates_total",
				Help: "Profile update notifications fired.",
			},
			func() float64 { return float64(bs.Stats().ProfileUpdates) },
		),
		registrations: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "bfdd_session_registrations_total",
				Help: "Sessions registered with the engine.",
			},
			func() float64 { return float64(bs.Stats().Registrations) },
		),
		sessionsFreed: prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "bfdd_sessions_freed_total",
				Help: "Sessions torn down by the engine.",
			},
			func() float64 { return float64(bs.Stats().SessionsFreed) },
		),
	}
	m.registry.MustRegister(m.transactionsTotal, m.sessions, m.profiles,
		m.sessionApplies, m.profileUpdates, m.registrations, m.sessionsFreed)
	// Both labels present from the start, so dashboards see zeroes.
	m.transactionsTotal.WithLabelValues("committed")
	m.transactionsTotal.WithLabelValues("aborted")
	return m
}
