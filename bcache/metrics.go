package bcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	reads     prometheus.Counter
	writes    prometheus.Counter
	pinned    prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fslog",
		Subsystem: "bcache",
		Name:      name,
		Help:      help,
	})
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		hits:      counter("hits_total", "Lookups served by a cached buffer."),
		misses:    counter("misses_total", "Lookups that bound a recycled buffer."),
		evictions: counter("evictions_total", "Cached blocks dropped to make room."),
		reads:     counter("disk_reads_total", "Blocks read from disk."),
		writes:    counter("disk_writes_total", "Blocks written to disk."),
		pinned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fslog",
			Subsystem: "bcache",
			Name:      "pinned_buffers",
			Help:      "Buffers pinned by the log.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.evictions, m.reads, m.writes, m.pinned)
	}
	return m
}
