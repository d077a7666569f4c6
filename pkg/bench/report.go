package bench

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	reportTitleStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("#7C3AED")).
				Foreground(lipgloss.Color("#FFFFFF")).
				Bold(true).
				Padding(0, 2)

	reportBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#94A3B8")).
			Width(22)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8FAFC")).
			Bold(true)

	goodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)
)

// Render formats the result as a bordered terminal report.
func Render(r *Result) string {
	rows := []string{
		row("Workload", fmt.Sprintf("%d readers / %d writers over %d pages",
			r.Config.Readers, r.Config.Writers, r.Config.Pages)),
		row("Elapsed", formatDuration(r.Elapsed)),
		"",
		row("Committed", goodStyle.Render(fmt.Sprintf("%d", r.Commits))),
		row("Aborted", fmt.Sprintf("%d (%.1f%%)", r.Aborts, r.AbortRate*100)),
		row("Errors", renderErrorCount(r.Errors)),
		row("Throughput", fmt.Sprintf("%.0f txn/s", r.Throughput)),
		"",
		row("Acquisitions", fmt.Sprintf("%d", r.GetCount)),
		row("Latency avg", formatDuration(r.GetAvg)),
		row("Latency p50", formatDuration(r.GetP50)),
		row("Latency p99", formatDuration(r.GetP99)),
		row("Latency max", formatDuration(r.GetMax)),
	}

	for i, sample := range r.ErrorSamples {
		if i == 0 {
			rows = append(rows, "")
		}
		if i == 3 {
			rows = append(rows, row("", fmt.Sprintf("... and %d more", len(r.ErrorSamples)-i)))
			break
		}
		safe := strings.NewReplacer("\n", " ", "\r", " ").Replace(sample)
		rows = append(rows, row("Error sample", badStyle.Render(safe)))
	}

	title := reportTitleStyle.Render("page store benchmark")
	body := reportBoxStyle.Render(strings.Join(rows, "\n"))
	return title + "\n" + body
}

func row(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func renderErrorCount(n int) string {
	if n == 0 {
		return "0"
	}
	return badStyle.Render(fmt.Sprintf("%d", n))
}

// formatDuration picks a unit that keeps the number readable.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	case d >= time.Microsecond:
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}
