package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jgoldverg/imgdrop/pkg/metrics"
	"github.com/pterm/pterm"
)

// MetricsDisplay prints a summary of one command's link statistics.
type MetricsDisplay struct {
	title     string
	collector *metrics.TransferCollector
}

func NewMetricsDisplay(title string, collector *metrics.TransferCollector) *MetricsDisplay {
	if strings.TrimSpace(title) == "" {
		title = "Transfer Metrics"
	}
	return &MetricsDisplay{
		title:     title,
		collector: collector,
	}
}

// Print renders the current snapshot. Nothing is printed when no bytes moved.
func (d *MetricsDisplay) Print() {
	if d == nil || d.collector == nil {
		return
	}
	snap := d.collector.Snapshot()
	if snap.BytesSent == 0 && snap.BytesReceived == 0 {
		return
	}
	pterm.Println()
	pterm.DefaultSection.Println(d.title)
	fmt.Println(metricsTable(snap))
	fmt.Printf("Elapsed: %s\n", formatDuration(snap.Elapsed))
}

func metricsTable(snap metrics.TransferSnapshot) string {
	data := pterm.TableData{
		{"Metric", "Value"},
		{"Goodput", formatMbps(snap.GoodputBps * 8 / 1e6)},
		{"RTT", formatMillis(snap.RttMs)},
		{"Jitter", formatMillis(snap.JitterMs)},
		{"Chunks Sent", fmt.Sprintf("%d", snap.ChunksSent)},
		{"Chunks Received", fmt.Sprintf("%d", snap.ChunksReceived)},
		{"Retransmissions", fmt.Sprintf("%d (%s)", snap.Retransmissions, formatPercent(snap.RetransmitRate))},
		{"Retransmitted Bytes", formatBytes(snap.BytesRetransmit)},
		{"Duplicates", fmt.Sprintf("%d", snap.Duplicates)},
		{"Bytes Sent", formatBytes(snap.BytesSent)},
		{"Bytes Received", formatBytes(snap.BytesReceived)},
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return ""
	}
	return table
}

func formatMbps(mbps float64) string {
	if mbps <= 0 {
		return "--"
	}
	return fmt.Sprintf("%.2f Mb/s", mbps)
}

func formatMillis(ms float64) string {
	if ms <= 0 {
		return "--"
	}
	return fmt.Sprintf("%.2f ms", ms)
}

func formatBytes(b uint64) string {
	const kb = 1024
	const mb = kb * 1024
	const gb = mb * 1024
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	case b > 0:
		return fmt.Sprintf("%d B", b)
	default:
		return "0 B"
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	if d < time.Second {
		return fmt.Sprintf("%d ms", d.Milliseconds())
	}
	return d.Truncate(100 * time.Millisecond).String()
}

func formatPercent(ratio float64) string {
	if ratio <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", ratio*100)
}
