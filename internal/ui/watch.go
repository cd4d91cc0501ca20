package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/deskrelay/internal/signaling"
)

// FetchFunc loads one stats snapshot.
type FetchFunc func(ctx context.Context) (signaling.Snapshot, error)

type snapshotMsg struct {
	snap signaling.Snapshot
	err  error
	at   time.Time
}

type pollMsg struct{}

// WatchModel is a bubbletea model that polls relay stats on an interval.
type WatchModel struct {
	fetch    FetchFunc
	interval time.Duration
	source   string
	spinner  spinner.Model

	snap     signaling.Snapshot
	have     bool
	err      error
	updated  time.Time
	quitting bool
}

func NewWatchModel(source string, interval time.Duration, fetch FetchFunc) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return WatchModel{
		fetch:    fetch,
		interval: interval,
		source:   source,
		spinner:  s,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.load())
}

func (m WatchModel) load() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.interval)
		defer cancel()
		snap, err := m.fetch(ctx)
		return snapshotMsg{snap: snap, err: err, at: time.Now()}
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.have = true
			m.updated = msg.at
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })

	case pollMsg:
		return m, m.load()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), TitleStyle.Render("Relay stats "+m.source))
	if m.have {
		b.WriteString(StatsView(m.snap))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(ErrorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	footer := "q to quit"
	if !m.updated.IsZero() {
		footer = "updated " + m.updated.Format(time.TimeOnly) + " · " + footer
	}
	b.WriteString(FooterStyle.Render(footer))
	return b.String()
}

// Watch runs the stats view until the user quits or ctx ends.
func Watch(ctx context.Context, source string, interval time.Duration, fetch FetchFunc) error {
	p := tea.NewProgram(NewWatchModel(source, interval, fetch), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
