package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/deskrelay/internal/signaling"
	"github.com/BioHazard786/deskrelay/internal/ui"
)

var (
	flagStatsServer   string
	flagStatsWatch    bool
	flagStatsInterval time.Duration
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the stats of a running relay",
	Long: `Fetch /stats from a running relay and print it as a table. With --watch the
table refreshes until you press q.

Examples:
  deskrelay stats
  deskrelay stats --server https://relay.example.com --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, err := statsURL(flagStatsServer)
		if err != nil {
			return err
		}
		fetch := func(ctx context.Context) (signaling.Snapshot, error) {
			return fetchStats(ctx, http.DefaultClient, endpoint)
		}

		if flagStatsWatch {
			return ui.Watch(cmd.Context(), endpoint, flagStatsInterval, fetch)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		snap, err := fetch(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.StatsView(snap))
		return nil
	},
}

// statsURL turns a relay address in any of the forms users paste (ws URL,
// http URL, bare host:port) into the /stats URL.
func statsURL(server string) (string, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid server URL: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/stats"
	u.RawQuery = ""
	return u.String(), nil
}

func fetchStats(ctx context.Context, client *http.Client, endpoint string) (signaling.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return signaling.Snapshot{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return signaling.Snapshot{}, fmt.Errorf("fetch stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return signaling.Snapshot{}, fmt.Errorf("fetch stats: unexpected status %s", resp.Status)
	}
	var snap signaling.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return signaling.Snapshot{}, fmt.Errorf("decode stats: %w", err)
	}
	return snap, nil
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringVarP(&flagStatsServer, "server", "s", "http://localhost:9999", "relay address")
	statsCmd.Flags().BoolVarP(&flagStatsWatch, "watch", "w", false, "refresh until q is pressed")
	statsCmd.Flags().DurationVarP(&flagStatsInterval, "interval", "i", 2*time.Second, "refresh interval for --watch")
}
