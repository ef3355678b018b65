// Package arqmetrics exposes a *arq.ControlBlock's accessors as
// Prometheus metrics. It has no access to the control block's internal
// fields — only the same accessors any other caller could use — so
// adding a collector never changes engine behaviour.
package arqmetrics

import (
	"sync"

	"github.com/ARwMq9b6/arqcore/arq"
	"github.com/prometheus/client_golang/prometheus"
)

// snapshot is one gauge/counter derived from a *arq.ControlBlock.
type snapshot struct {
	desc    *prometheus.Desc
	valType prometheus.ValueType
	sample  func(cb *arq.ControlBlock) float64
}

// Collector implements prometheus.Collector over one or more tracked
// control blocks, each identified by a caller-supplied label set (e.g.
// conv id, role=client/server). Grounded on the TCPInfoCollector shape
// in the sockstats/conniver exporter packages: a Describe/Collect pair
// plus Add/Remove for the tracked set, just retargeted from kernel
// TCP_INFO at a single userspace ARQ conversation.
type Collector struct {
	mu    sync.Mutex
	conns map[*arq.ControlBlock][]string

	labelNames []string
	snapshots  []snapshot
}

// NewCollector builds a collector. labelNames are the per-conversation
// label names whose values are supplied to Add; constLabels apply to every metric this
// collector emits (e.g. {"app": "arqecho", "hostname": h}).
func NewCollector(prefix string, labelNames []string, constLabels prometheus.Labels) *Collector {
	c := &Collector{
		conns:      make(map[*arq.ControlBlock][]string),
		labelNames: labelNames,
	}
	c.addMetrics(prefix, labelNames, constLabels)
	return c
}

func (c *Collector) addMetrics(prefix string, labelNames []string, constLabels prometheus.Labels) {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prefix+"_"+name, help, labelNames, constLabels)
	}

	c.snapshots = []snapshot{
		{desc("cwnd", "Effective congestion window, in segments."), prometheus.GaugeValue,
			func(cb *arq.ControlBlock) float64 { return float64(cb.Cwnd()) }},
		{desc("rmt_wnd", "Peer's last-advertised receive window, in segments."), prometheus.GaugeValue,
			func(cb *arq.ControlBlock) float64 { return float64(cb.RmtWnd()) }},
		{desc("snd_wnd", "Local send window size, in segments."), prometheus.GaugeValue,
			func(cb *arq.ControlBlock) float64 { return float64(cb.SndWnd()) }},
		{desc("rcv_wnd", "Local receive window size, in segments."), prometheus.GaugeValue,
			func(cb *arq.ControlBlock) float64 { return float64(cb.RcvWnd()) }},
		{desc("wait_snd", "Segments queued or in flight, awaiting delivery."), prometheus.GaugeValue,
			func(cb *arq.ControlBlock) float64 { return float64(cb.WaitSnd()) }},
		{desc("xmit_total", "Total timeout-driven segment retransmissions."), prometheus.CounterValue,
			func(cb *arq.ControlBlock) float64 { return float64(cb.Xmit()) }},
		{desc("dead_link", "1 if any segment has been retransmitted past the dead-link threshold."), prometheus.GaugeValue,
			func(cb *arq.ControlBlock) float64 {
				if cb.IsDeadLink() {
					return 1
				}
				return 0
			}},
	}
}

// Add starts tracking cb, reporting labelValues on every metric this
// collector emits for it. labelValues must line up positionally with
// the labelNames passed to NewCollector.
func (c *Collector) Add(cb *arq.ControlBlock, labelValues []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[cb] = labelValues
}

// Remove stops tracking cb.
func (c *Collector) Remove(cb *arq.ControlBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, cb)
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	for _, s := range c.snapshots {
		descs <- s.desc
	}
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for cb, labels := range c.conns {
		for _, s := range c.snapshots {
			metrics <- prometheus.MustNewConstMetric(s.desc, s.valType, s.sample(cb), labels...)
		}
	}
}
