package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts engine activity. A nil *Metrics records nothing.
type Metrics struct {
	mutations *prometheus.CounterVec
	writes    *prometheus.CounterVec
	reads     *prometheus.CounterVec
	reconcile *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notegrid_mutations_total",
			Help: "Local mutations applied, by operation.",
		}, []string{"op"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notegrid_remote_writes_total",
			Help: "Remote writes attempted, by result.",
		}, []string{"result"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notegrid_remote_reads_total",
			Help: "Remote reads attempted, by result.",
		}, []string{"result"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notegrid_reconcile_total",
			Help: "Reconciliation outcomes.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.mutations, m.writes, m.reads, m.reconcile)
	}
	return m
}

func (m *Metrics) mutation(op string) {
	if m != nil {
		m.mutations.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) write(err error) {
	if m != nil {
		m.writes.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) read(err error) {
	if m != nil {
		m.reads.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) reconciled(outcome Outcome) {
	if m != nil {
		m.reconcile.WithLabelValues(string(outcome)).Inc()
	}
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
