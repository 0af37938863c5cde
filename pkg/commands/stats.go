package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const metricPrefix = "nostrbox_relay_"

// relayStats is one relay's share of the gathered metrics, keyed by metric
// name without prefix and with label values joined by "/"
type relayStats map[string]float64

func collectStats(g prometheus.Gatherer) (map[string]relayStats, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	out := make(map[string]relayStats)
	for _, mf := range families {
		name, ok := strings.CutPrefix(mf.GetName(), metricPrefix)
		if !ok {
			continue
		}
		for _, m := range mf.GetMetric() {
			url, key := "", name
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "relay" {
					url = lp.GetValue()
					continue
				}
				key += "/" + lp.GetValue()
			}
			if out[url] == nil {
				out[url] = make(relayStats)
			}
			out[url][key] += metricValue(mf.GetType(), m)
		}
	}
	return out, nil
}

func metricValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	}
	return 0
}

func (s relayStats) sum(prefix string) float64 {
	var total float64
	for k, v := range s {
		if k == prefix || strings.HasPrefix(k, prefix+"/") {
			total += v
		}
	}
	return total
}

// writeStats prints a per relay summary of connection statistics
func writeStats(w io.Writer, g prometheus.Gatherer) error {
	stats, err := collectStats(g)
	if err != nil {
		return err
	}
	urls := make([]string, 0, len(stats))
	for u := range stats {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "relay\tsent\treceived\tdiscarded\tpublished")
	for _, u := range urls {
		s := stats[u]
		fmt.Fprintf(tw, "%s\t%s msgs (%s)\t%s msgs (%s)\t%s\t%s ok, %s rejected\n",
			u,
			humanize.Comma(int64(s.sum("sent_messages_total"))),
			humanize.IBytes(uint64(s.sum("sent_bytes_total"))),
			humanize.Comma(int64(s.sum("received_messages_total"))),
			humanize.IBytes(uint64(s.sum("received_bytes_total"))),
			humanize.Comma(int64(s.sum("discarded_messages_total"))),
			humanize.Comma(int64(s["publish_results_total/accepted"])),
			humanize.Comma(int64(s["publish_results_total/rejected"])),
		)
	}
	return tw.Flush()
}
