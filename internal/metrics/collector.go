package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rennerdo30/proxyreg/internal/proxy"
)

// SnapshotFunc returns the committed proxies at scrape time.
type SnapshotFunc func() []proxy.Info

// Collector reports registry contents on every scrape.
type Collector struct {
	snapshot SnapshotFunc
	proxies  *prometheus.Desc
	info     *prometheus.Desc
}

// NewCollector creates a collector reading proxies through snapshot.
func NewCollector(snapshot SnapshotFunc) *Collector {
	return &Collector{
		snapshot: snapshot,
		proxies: prometheus.NewDesc(
			"proxyreg_proxies",
			"Number of committed proxies by type",
			[]string{"type"}, nil,
		),
		info: prometheus.NewDesc(
			"proxyreg_proxy_info",
			"Committed proxy definitions (always 1)",
			[]string{"name", "type", "address", "port", "ipv6"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.proxies
	ch <- c.info
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	infos := c.snapshot()

	counts := make(map[string]int, proxy.NumTypes)
	for t := proxy.Type(0); t < proxy.NumTypes; t++ {
		counts[t.String()] = 0
	}

	for _, info := range infos {
		counts[info.Type]++
		ipv6 := "false"
		if info.IPv6 {
			ipv6 = "true"
		}
		ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
			info.Name, info.Type, info.Address, strconv.Itoa(info.Port), ipv6)
	}

	for typ, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.proxies, prometheus.GaugeValue, float64(n), typ)
	}
}

// Register adds c to the metrics registry.
func (m *Metrics) Register(c *Collector) error {
	return m.registry.Register(c)
}
