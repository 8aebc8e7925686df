// Package metrics exports pipeline stats to Prometheus. Every metric is read
// from the components' own counters at scrape time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobeconomy.ai/internal/sim/admission"
	"jobeconomy.ai/internal/sim/dedup"
	"jobeconomy.ai/internal/sim/economy"
	"jobeconomy.ai/internal/sim/queue"
)

const namespace = "jobecon"

// Sources are polled on every scrape. Nil sources are skipped.
type Sources struct {
	Queue    func() queue.Stats
	Dedup    func() dedup.Stats
	Gate     func() admission.Stats
	Engine   func() economy.Stats
	Sessions func() int
}

func NewRegistry(src Sources) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	if src.Queue != nil {
		cs = append(cs, queueCollectors(src.Queue)...)
	}
	if src.Dedup != nil {
		cs = append(cs, dedupCollectors(src.Dedup)...)
	}
	if src.Gate != nil {
		cs = append(cs, &gateCollector{stats: src.Gate})
	}
	if src.Engine != nil {
		cs = append(cs, engineCollectors(src.Engine)...)
	}
	if src.Sessions != nil {
		cs = append(cs, gauge("transport", "sessions", "Open websocket sessions.", func() float64 {
			return float64(src.Sessions())
		}))
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func gauge(subsystem, name, help string, f func() float64) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, f)
}

func counter(subsystem, name, help string, f func() float64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, f)
}

func queueCollectors(st func() queue.Stats) []prometheus.Collector {
	return []prometheus.Collector{
		gauge("queue", "workers", "Worker goroutines.", func() float64 { return float64(st().Workers) }),
		gauge("queue", "queued", "Tasks waiting for dispatch.", func() float64 { return float64(st().Queued) }),
		gauge("queue", "pending", "Tasks submitted but not yet finished.", func() float64 { return float64(st().Pending) }),
		gauge("queue", "mailbox_depth", "Results waiting for the producer.", func() float64 { return float64(st().MailboxDepth) }),
		counter("queue", "submitted_total", "Tasks accepted.", func() float64 { return float64(st().Submitted) }),
		counter("queue", "completed_total", "Tasks that succeeded.", func() float64 { return float64(st().Completed) }),
		counter("queue", "failed_total", "Tasks that failed or panicked.", func() float64 { return float64(st().Failed) }),
		counter("queue", "dropped_total", "Tasks dropped by an immediate shutdown.", func() float64 { return float64(st().Dropped) }),
		counter("queue", "ticks_total", "Scheduled dispatch ticks.", func() float64 { return float64(st().Ticks) }),
		counter("queue", "backpressure_drains_total", "Immediate drains triggered by a deep backlog.", func() float64 {
			return float64(st().BackpressureDrains)
		}),
	}
}

func dedupCollectors(st func() dedup.Stats) []prometheus.Collector {
	return []prometheus.Collector{
		gauge("dedup", "actors", "Actors with live entries.", func() float64 { return float64(st().Actors) }),
		gauge("dedup", "entries", "Live actor/kind entries.", func() float64 { return float64(st().Entries) }),
		counter("dedup", "processed_total", "Marks recorded.", func() float64 { return float64(st().ProcessedTotal) }),
		counter("dedup", "swept_total", "Entries removed by expiry sweeps.", func() float64 { return float64(st().SweptTotal) }),
		counter("dedup", "faults_total", "Lookups that failed open.", func() float64 { return float64(st().FaultTotal) }),
	}
}

func engineCollectors(st func() economy.Stats) []prometheus.Collector {
	return []prometheus.Collector{
		gauge("engine", "inbox_depth", "Actions waiting for the next tick.", func() float64 { return float64(st().InboxDepth) }),
		gauge("engine", "online_actors", "Actors with an open session.", func() float64 { return float64(st().OnlineActors) }),
		counter("engine", "received_total", "Actions accepted into the inbox.", func() float64 { return float64(st().Received) }),
		counter("engine", "inbox_dropped_total", "Actions refused by a full inbox.", func() float64 { return float64(st().InboxDropped) }),
		counter("engine", "duplicates_total", "Actions suppressed by the dedup window.", func() float64 { return float64(st().Duplicates) }),
		counter("engine", "unrewarded_total", "Admitted actions no held track pays for.", func() float64 { return float64(st().Unrewarded) }),
		counter("engine", "level_ups_total", "Level ups delivered.", func() float64 { return float64(st().LevelUps) }),
		counter("engine", "failures_total", "Failed persistence tasks.", func() float64 { return float64(st().Failures) }),
		counter("engine", "ticks_total", "Producer ticks.", func() float64 { return float64(st().Ticks) }),
	}
}

type gateCollector struct {
	stats func() admission.Stats
}

var (
	gateAdmittedDesc = prometheus.NewDesc(namespace+"_gate_admitted_total", "Actions admitted by the gate.", nil, nil)
	gateRejectedDesc = prometheus.NewDesc(namespace+"_gate_rejected_total", "Actions rejected by the gate.", []string{"reason"}, nil)
)

func (c *gateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- gateAdmittedDesc
	ch <- gateRejectedDesc
}

func (c *gateCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()
	ch <- prometheus.MustNewConstMetric(gateAdmittedDesc, prometheus.CounterValue, float64(st.Admitted))
	for _, r := range admission.Reasons {
		ch <- prometheus.MustNewConstMetric(gateRejectedDesc, prometheus.CounterValue, float64(st.Rejected[r]), string(r))
	}
}
