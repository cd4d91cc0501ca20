package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/deskrelay/internal/signaling"
)

func TestStatsView(t *testing.T) {
	out := StatsView(signaling.Snapshot{Rooms: 3, Waiting: 1, Paired: 2, SignalsRelayed: 1234})

	for _, want := range []string{"Metric", "Value", "Rooms", "paired", "Signals relayed", "1234", "PIN rate limited"} {
		assert.Contains(t, out, want)
	}
}

func TestProbeSummaryView(t *testing.T) {
	out := ProbeSummaryView(ProbeSummary{Room: "42", Role: "client", SignalsSent: 3, Elapsed: 1500 * time.Millisecond})
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "n/a")
	assert.Contains(t, out, "1.50 seconds")

	out = ProbeSummaryView(ProbeSummary{Room: "42", Role: "host", RTT: 2 * time.Millisecond})
	assert.Contains(t, out, "2ms")
}

func TestRoomBanner(t *testing.T) {
	out := RoomBanner("desk-1", "host", true)
	assert.Contains(t, out, "desk-1")
	assert.Contains(t, out, "host")
	assert.Contains(t, out, "PIN")

	assert.NotContains(t, RoomBanner("desk-1", "client", false), "PIN")
}

func TestWatchModel(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context) (signaling.Snapshot, error) {
		calls++
		return signaling.Snapshot{Rooms: 7}, nil
	}
	m := NewWatchModel("http://relay/stats", time.Second, fetch)

	msg := m.load()()
	require.IsType(t, snapshotMsg{}, msg)
	assert.Equal(t, 1, calls)

	next, cmd := m.Update(msg)
	assert.NotNil(t, cmd, "a fresh snapshot schedules the next poll")
	wm := next.(WatchModel)
	assert.True(t, wm.have)
	assert.Equal(t, 7, wm.snap.Rooms)
	assert.Contains(t, wm.View(), "http://relay/stats")
	assert.Contains(t, wm.View(), "updated")

	next, _ = wm.Update(snapshotMsg{err: errors.New("connection refused"), at: time.Now()})
	wm = next.(WatchModel)
	assert.Contains(t, wm.View(), "connection refused")
	assert.Equal(t, 7, wm.snap.Rooms, "last good snapshot stays on screen")

	next, cmd = wm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Empty(t, next.(WatchModel).View())
}
