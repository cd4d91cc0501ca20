package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/deskrelay/internal/signaling"
	"github.com/BioHazard786/deskrelay/internal/version"
)

func TestStatsURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:9999", want: "http://localhost:9999/stats"},
		{in: "localhost:9999", want: "http://localhost:9999/stats"},
		{in: "ws://localhost:9999/ws", want: "http://localhost:9999/stats"},
		{in: "wss://relay.example.com/ws?x=1", want: "https://relay.example.com/stats"},
		{in: "https://relay.example.com/", want: "https://relay.example.com/stats"},
		{in: "ftp://relay.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := statsURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rooms":2,"waiting":1,"paired":1,"signals_relayed":9}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := fetchStats(ctx, srv.Client(), srv.URL+"/stats")
	require.NoError(t, err)
	assert.Equal(t, signaling.Snapshot{Rooms: 2, Waiting: 1, Paired: 1, SignalsRelayed: 9}, snap)

	_, err = fetchStats(ctx, srv.Client(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "unexpected status")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "deskrelay "+version.Version+"\n", out.String())
}

func TestProbeCommandValidatesFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "bad role", args: []string{"probe", "--role", "admin", "--room", "42"}, wantErr: "--role must be"},
		{name: "missing room", args: []string{"probe", "--role", "client", "--room", "  "}, wantErr: "--room is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			defer rootCmd.SetArgs(nil)

			err := rootCmd.ExecuteContext(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProbeOptionsFromFlags(t *testing.T) {
	fs := probeCmd.Flags()
	t.Cleanup(func() {
		require.NoError(t, fs.Set("loopback", "false"))
		flagProbeSTUN = []string{defaultSTUN}
	})

	opts := probeOptions()
	assert.False(t, opts.IncludeLoopback)
	assert.Equal(t, []string{defaultSTUN}, opts.STUNServers)

	require.NoError(t, fs.Parse([]string{"--loopback", "--stun", "stun:a.example:3478,stun:b.example:3478"}))
	opts = probeOptions()
	assert.True(t, opts.IncludeLoopback)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, opts.STUNServers)
	assert.NotNil(t, opts.Logger)
}
