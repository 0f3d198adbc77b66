package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/MrEthical07/tabsync"
	"github.com/MrEthical07/tabsync/metrics/export/internaldefs"
)

const (
	alertDroppedName = "tabsync_alert_dropped_total"
	alertDroppedHelp = "Dropped alerts due to dispatcher backpressure."
)

type metricsSource interface {
	MetricsSnapshot() tabsync.MetricsSnapshot
	AlertDropped() uint64
}

// PrometheusExporter renders tabsync metrics in Prometheus text exposition format.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter creates an exporter reading from client.
func NewPrometheusExporter(client *tabsync.Client) *PrometheusExporter {
	return &PrometheusExporter{source: client}
}

// NewPrometheusExporterFromSource creates an exporter from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Render.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics in Prometheus text exposition format.
// Disabled metrics render as an empty string.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AlertDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		nonCumulative := internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID])
		cumulative := internaldefs.CumulativeBuckets(nonCumulative)
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}

	writeCounter(&b, alertDroppedName, alertDroppedHelp, dropped)

	return b.String()
}

// Collector adapts the exporter to a client_golang registry. Every scrape
// takes one snapshot.
func (p *PrometheusExporter) Collector() promclient.Collector {
	return &collector{source: p.source}
}

type collector struct {
	source metricsSource
}

var (
	counterDescs = func() []*promclient.Desc {
		out := make([]*promclient.Desc, len(internaldefs.CounterDefs))
		for i, def := range internaldefs.CounterDefs {
			out[i] = promclient.NewDesc(def.Name, def.Help, nil, nil)
		}
		return out
	}()
	histogramDescs = func() []*promclient.Desc {
		out := make([]*promclient.Desc, len(internaldefs.HistogramDefs))
		for i, def := range internaldefs.HistogramDefs {
			out[i] = promclient.NewDesc(def.Name, def.Help, nil, nil)
		}
		return out
	}()
	alertDroppedDesc = promclient.NewDesc(alertDroppedName, alertDroppedHelp, nil, nil)
)

func (c *collector) Describe(ch chan<- *promclient.Desc) {
	for _, d := range counterDescs {
		ch <- d
	}
	for _, d := range histogramDescs {
		ch <- d
	}
	ch <- alertDroppedDesc
}

func (c *collector) Collect(ch chan<- promclient.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for i, def := range internaldefs.CounterDefs {
		ch <- promclient.MustNewConstMetric(counterDescs[i], promclient.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
		for j, le := range internaldefs.HistogramBoundValues {
			buckets[le] = cumulative[j]
		}
		count := cumulative[len(cumulative)-1]
		ch <- promclient.MustNewConstHistogram(histogramDescs[i], count, 0, buckets)
	}

	ch <- promclient.MustNewConstMetric(alertDroppedDesc, promclient.CounterValue, float64(c.source.AlertDropped()))
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" histogram\n")

	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	count := cumulative[len(cumulative)-1]
	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(count, 10))
	b.WriteByte('\n')

	// snapshots carry bucket counts only
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
