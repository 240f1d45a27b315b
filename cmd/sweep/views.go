package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// failureItem implements list.Item for the failed-combinations list.
type failureItem struct {
	name        string
	description string
}

func (i failureItem) Title() string       { return i.name }
func (i failureItem) Description() string { return i.description }
func (i failureItem) FilterValue() string { return i.name }

// NewRankingTable builds the ranked-combinations table.
func NewRankingTable(summary *SweepSummary) table.Model {
	columns := []table.Column{
		{Title: "#", Width: 5},
		{Title: "Score", Width: 14},
		{Title: "Trades", Width: 8},
		{Title: "Win %", Width: 8},
		{Title: "PF", Width: 8},
		{Title: "Max DD %", Width: 10},
		{Title: "Params", Width: 48},
	}

	rows := make([]table.Row, 0, len(summary.Ranked))
	for _, entry := range summary.Ranked {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", entry.Index),
			FormatScore(entry.Score),
			fmt.Sprintf("%d", entry.Trades),
			fmt.Sprintf("%.1f", entry.Metrics.WinRate*100),
			fmt.Sprintf("%.2f", entry.Metrics.ProfitFactor),
			fmt.Sprintf("%.2f", entry.Metrics.MaxDrawdownPct),
			FormatParams(entry.Params),
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	t.SetStyles(s)

	return t
}

// NewFailureList builds the failed-combinations list.
func NewFailureList(summary *SweepSummary) list.Model {
	items := make([]list.Item, 0, len(summary.Failures))
	for _, failure := range summary.Failures {
		items = append(items, failureItem{
			name:        fmt.Sprintf("Combination #%d: %s", failure.Combination.Index, FormatParams(failure.Combination.Params)),
			description: failure.Error,
		})
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true

	l := list.New(items, delegate, 0, 0)
	l.Title = "Failures"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)

	return l
}

// FormatParams renders a combination's parameter values in stable path order.
func FormatParams(params map[string]float64) string {
	paths := make([]string, 0, len(params))
	for path := range params {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		parts = append(parts, fmt.Sprintf("%s=%g", path, params[path]))
	}

	return strings.Join(parts, " ")
}

// RenderDetail renders the full metrics of one ranked combination, plus the
// Monte Carlo bands when the combination is the sweep's best.
func RenderDetail(entry RankedEntry, summary *SweepSummary) string {
	var s strings.Builder

	line := func(label, value string) {
		s.WriteString(LabelStyle.Render(label))
		s.WriteString(value)
		s.WriteString("\n")
	}

	line("Parameters", FormatParams(entry.Params))
	line("Score", FormatScore(entry.Score))
	s.WriteString("\n")

	m := entry.Metrics
	line("Trades", fmt.Sprintf("%d (%d W / %d L / %d BE)", m.TotalTrades, m.Wins, m.Losses, m.Breakevens))
	line("Win rate", fmt.Sprintf("%.1f%%", m.WinRate*100))
	line("Net profit", fmt.Sprintf("%.2f", m.NetProfit))
	line("Profit factor", fmt.Sprintf("%.2f", m.ProfitFactor))
	line("Expectancy", fmt.Sprintf("%.2f", m.Expectancy))
	line("Sharpe / Sortino", fmt.Sprintf("%.2f / %.2f", m.Sharpe, m.Sortino))
	line("Calmar", fmt.Sprintf("%.2f", m.Calmar))
	line("Max drawdown", fmt.Sprintf("%.2f%%", m.MaxDrawdownPct))
	line("Ulcer index", fmt.Sprintf("%.2f", m.UlcerIndex))
	line("CAGR", fmt.Sprintf("%.2f%%", m.CAGR))
	line("Streaks", fmt.Sprintf("%d wins / %d losses", m.LongestWinStreak, m.LongestLossStreak))

	if summary.MonteCarlo != nil && len(summary.Ranked) > 0 && summary.Ranked[0].Index == entry.Index {
		mc := summary.MonteCarlo
		s.WriteString("\n")
		s.WriteString(TitleStyle.Render("Monte Carlo"))
		s.WriteString("\n")
		line("Iterations", fmt.Sprintf("%d", mc.Completed))
		line("P&L p5/p50/p95", fmt.Sprintf("%.2f / %.2f / %.2f", mc.PnL.P5, mc.PnL.P50, mc.PnL.P95))
		line("DD % p5/p50/p95", fmt.Sprintf("%.2f / %.2f / %.2f", mc.DrawdownPct.P5, mc.DrawdownPct.P50, mc.DrawdownPct.P95))
		for _, ruin := range mc.Ruin {
			line(fmt.Sprintf("Ruin > %.0f%%", ruin.ThresholdPct), fmt.Sprintf("%.1f%%", ruin.Probability*100))
		}
	}

	return s.String()
}
