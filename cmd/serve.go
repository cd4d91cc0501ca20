package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/deskrelay/internal/config"
	"github.com/BioHazard786/deskrelay/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay: the websocket endpoint on /ws, a health check on / and
/health, and a JSON stats document on /stats.

Every flag can also be set in the config file or as DESKRELAY_<KEY>; the port
also honours a bare PORT.

Examples:
  deskrelay serve
  deskrelay serve --port 8080 --ping-timeout 90s
  PORT=8080 LOG_LEVEL=debug deskrelay serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}

		logger := slog.Default()
		logger.Debug("configuration resolved",
			"port", cfg.Port,
			"ping_interval", cfg.PingInterval,
			"ping_timeout", cfg.PingTimeout,
			"allowed_origins", cfg.AllowedOrigins,
			"pin_attempts_per_minute", cfg.PinAttemptsPerMinute,
		)

		return server.New(cfg, logger).Run(cmd.Context(), cfg.ShutdownTimeout)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	if err := config.BindFlags(v, serveCmd.Flags()); err != nil {
		panic(err)
	}
}
