package httpserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statline/statline/internal/monitor"
)

type usageCollector struct {
	monitor  *monitor.Manager
	provider Provider
	metrics  []usageMetric

	strategyDesc *prometheus.Desc
	memoryDesc   *prometheus.Desc
}

type usageMetric struct {
	desc    *prometheus.Desc
	extract func(snapshot monitor.Snapshot) (float64, bool)
}

func newUsageCollector(monitorManager *monitor.Manager, provider Provider) prometheus.Collector {
	if monitorManager == nil {
		return nil
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName("statline", "usage", name),
			help,
			nil,
			nil,
		)
	}

	collector := &usageCollector{
		monitor:  monitorManager,
		provider: provider,
		strategyDesc: prometheus.NewDesc(
			prometheus.BuildFQName("statline", "gpu", "strategy_info"),
			"Active GPU acquisition strategy (value is always 1).",
			[]string{"strategy"},
			nil,
		),
		memoryDesc: prometheus.NewDesc(
			prometheus.BuildFQName("statline", "gpu", "memory_counter"),
			"Raw value of a held GPU memory counter.",
			[]string{"counter"},
			nil,
		),
	}

	collector.metrics = []usageMetric{
		{
			desc: desc("cpu_percent", "Current total CPU utilization percentage."),
			extract: func(snapshot monitor.Snapshot) (float64, bool) {
				return snapshot.CPUPct, true
			},
		},
		{
			desc: desc("memory_percent", "Current memory utilization percentage."),
			extract: func(snapshot monitor.Snapshot) (float64, bool) {
				return snapshot.MemPct, true
			},
		},
		{
			desc: desc("gpu_percent", "Current aggregated GPU utilization percentage."),
			extract: func(snapshot monitor.Snapshot) (float64, bool) {
				return snapshot.GPUPct, true
			},
		},
		{
			desc: desc("disk_percent", "Current disk active-time percentage."),
			extract: func(snapshot monitor.Snapshot) (float64, bool) {
				return snapshot.DiskPct, true
			},
		},
		{
			desc: desc("sample_age_seconds", "Seconds elapsed since the latest sampling pass."),
			extract: func(snapshot monitor.Snapshot) (float64, bool) {
				if snapshot.Timestamp.IsZero() {
					return 0, false
				}
				age := time.Since(snapshot.Timestamp).Seconds()
				if age < 0 {
					age = 0
				}
				return age, true
			},
		},
	}

	return collector
}

func (c *usageCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range c.metrics {
		ch <- metric.desc
	}
	ch <- c.strategyDesc
	ch <- c.memoryDesc
}

func (c *usageCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot, ok := c.monitor.Latest()
	if ok {
		for _, metric := range c.metrics {
			value, ok := metric.extract(snapshot)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(metric.desc, prometheus.GaugeValue, value)
		}
	}

	if c.provider != nil {
		ch <- prometheus.MustNewConstMetric(c.strategyDesc, prometheus.GaugeValue, 1, c.provider.Strategy().String())
		for _, reading := range c.provider.MemoryReadings() {
			ch <- prometheus.MustNewConstMetric(c.memoryDesc, prometheus.GaugeValue, reading.Value, reading.Name)
		}
	}
}

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "statline",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Current number of active WebSocket clients.",
		}, func() float64 {
			return float64(s.wsActive.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "statline",
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted since start.",
		}, func() float64 {
			return float64(s.wsTotal.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "statline",
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Total WebSocket connection attempts rejected due to capacity.",
		}, func() float64 {
			return float64(s.wsRejected.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "statline",
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total WebSocket messages sent to clients.",
		}, func() float64 {
			return float64(s.wsSent.Load())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "statline",
			Subsystem: "ws",
			Name:      "messages_dropped_total",
			Help:      "Total WebSocket messages dropped due to backpressure.",
		}, func() float64 {
			return float64(s.wsDropped.Load())
		}),
	}

	if collector := newUsageCollector(s.monitor, s.provider); collector != nil {
		collectors = append(collectors, collector)
	}

	for _, collector := range collectors {
		registry.MustRegister(collector)
	}

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
