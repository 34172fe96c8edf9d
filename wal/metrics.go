package wal

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	commits     prometheus.Counter
	committed   prometheus.Counter
	absorbed    prometheus.Counter
	waits       prometheus.Counter
	recovered   prometheus.Counter
	outstanding prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fslog",
		Subsystem: "wal",
		Name:      name,
		Help:      help,
	})
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		commits:   counter("commits_total", "Transactions committed."),
		committed: counter("committed_blocks_total", "Blocks installed by commits."),
		absorbed:  counter("absorbed_writes_total", "Writes to an already logged block."),
		waits:     counter("admission_waits_total", "Operations that waited in BeginOp."),
		recovered: counter("recovered_blocks_total", "Blocks installed by recovery."),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fslog",
			Subsystem: "wal",
			Name:      "outstanding_ops",
			Help:      "Operations between BeginOp and EndOp.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.commits, m.committed, m.absorbed, m.waits,
			m.recovered, m.outstanding)
	}
	return m
}
