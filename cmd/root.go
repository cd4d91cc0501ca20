package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BioHazard786/deskrelay/internal/config"
	"github.com/BioHazard786/deskrelay/internal/logging"
	"github.com/BioHazard786/deskrelay/internal/ui"
	"github.com/BioHazard786/deskrelay/internal/version"
)

var (
	flagConfig   string
	flagLogLevel string

	// v carries defaults, environment, config file and bound flags.
	v = config.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deskrelay",
		Short: "Rendezvous and signaling relay for remote desktop sessions",
		Long: `deskrelay pairs a host and a client under a shared room identifier and relays the
opaque WebRTC handshake messages between them until their direct session is up.

It also ships an end-to-end probe that runs a real data channel handshake through a
relay, and a stats viewer for a running relay.`,
		Version: version.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadFile(v, flagConfig); err != nil {
				return err
			}
			logging.Init(v.GetString(config.KeyLogLevel))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", config.DefaultLogLevel, "log level: debug, info, warn or error")
	bindPersistent(v, cmd)
	return cmd
}

func bindPersistent(v *viper.Viper, cmd *cobra.Command) {
	_ = v.BindPFlag(config.KeyLogLevel, cmd.PersistentFlags().Lookup("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
