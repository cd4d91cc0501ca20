package ui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/deskrelay/internal/signaling"
)

// StatsView renders a relay stats snapshot as a two-column table.
func StatsView(s signaling.Snapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.Style().Format.Header = text.FormatDefault
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Rooms", s.Rooms},
		{"  waiting for peer", s.Waiting},
		{"  paired", s.Paired},
		{"Connections", s.Connections},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Joins", s.Joins},
		{"Evictions", s.Evictions},
		{"Ready emitted", s.ReadyEmitted},
		{"Rooms closed", s.RoomsClosed},
		{"Signals relayed", s.SignalsRelayed},
		{"Signals dropped", s.SignalsDropped},
		{"PIN checks", s.PinChecks},
		{"PIN failures", s.PinFailures},
		{"PIN rate limited", s.PinRateLimited},
		{"Malformed events", s.MalformedEvents},
		{"Total connections", s.TotalConns},
	})
	return t.Render()
}

// ProbeSummary is what a finished probe reports.
type ProbeSummary struct {
	Room            string
	Role            string
	RTT             time.Duration
	SignalsSent     int
	SignalsReceived int
	Elapsed         time.Duration
}

func ProbeSummaryView(s ProbeSummary) string {
	rtt := "n/a"
	if s.RTT > 0 {
		rtt = s.RTT.Round(time.Microsecond).String()
	}
	rows := [][]string{
		{"Room", s.Room},
		{"Role", s.Role},
		{"Signals sent", strconv.Itoa(s.SignalsSent)},
		{"Signals received", strconv.Itoa(s.SignalsReceived)},
		{"Data channel RTT", rtt},
		{"Elapsed", fmt.Sprintf("%.2f seconds", s.Elapsed.Seconds())},
	}

	tbl := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Metric", "Value").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}
