package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/deskrelay/internal/endpoint"
	"github.com/BioHazard786/deskrelay/internal/probe"
	"github.com/BioHazard786/deskrelay/internal/signaling"
	"github.com/BioHazard786/deskrelay/internal/ui"
)

const (
	defaultRelayURL = "ws://localhost:9999/ws"
	defaultSTUN     = "stun:stun.l.google.com:19302"
)

var (
	flagProbeServer   string
	flagProbeRoom     string
	flagProbeRole     string
	flagProbePin      string
	flagProbeSTUN     []string
	flagProbeLoopback bool
	flagProbeTimeout  time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Pair with a peer through a relay and open a WebRTC data channel",
	Long: `Join a room on a relay as host or client, wait for the other side, then run a
real WebRTC handshake through the relay and measure the data channel round trip.

Run one probe as host and one as client with the same room to check a
deployment end to end.

Examples:
  deskrelay probe --role host --room 42 --pin 1234
  deskrelay probe --role client --room 42 --pin 1234
  deskrelay probe --server wss://relay.example.com/ws --role host --room demo
  deskrelay probe --role client --room 42 --stun "" --loopback`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		role := signaling.Role(flagProbeRole)
		if !role.Valid() {
			return fmt.Errorf("--role must be %q or %q", signaling.RoleHost, signaling.RoleClient)
		}
		if signaling.NormalizeRoomID(flagProbeRoom) == "" {
			return fmt.Errorf("--room is required")
		}

		var pin *string
		if cmd.Flags().Changed("pin") {
			pin = &flagProbePin
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), flagProbeTimeout)
		defer cancel()
		return runProbe(ctx, role, pin)
	},
}

func runProbe(ctx context.Context, role signaling.Role, pin *string) error {
	start := time.Now()

	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	sess, err := endpoint.Dial(ctx, flagProbeServer)
	stopSpinner()
	if err != nil {
		return err
	}
	defer sess.Close()
	ui.PrintInfof("Connected to %s", flagProbeServer)

	if err := joinRoom(ctx, sess, role, pin); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(ui.RoomBanner(sess.Room(), string(role), pin != nil))
	fmt.Println()

	stopSpinner = ui.RunWaitingSpinner(fmt.Sprintf("Waiting for the %s to join...", role.Opposite()))
	err = sess.WaitReady(ctx)
	stopSpinner()
	if err != nil {
		return err
	}
	ui.PrintSuccessf("Paired in room %s", sess.Room())

	if len(flagProbeSTUN) == 0 {
		ui.PrintWarning("No STUN servers: only host candidates will be offered")
	}
	stopSpinner = ui.RunConnectionSpinner("Negotiating data channel...")
	res, err := probe.Run(ctx, sess, probeOptions())
	stopSpinner()
	if err != nil {
		return err
	}

	ui.PrintSuccess("Data channel established")
	fmt.Println()
	fmt.Println(ui.ProbeSummaryView(ui.ProbeSummary{
		Room:            sess.Room(),
		Role:            string(role),
		RTT:             res.RTT,
		SignalsSent:     res.SignalsSent,
		SignalsReceived: res.SignalsReceived,
		Elapsed:         time.Since(start),
	}))
	return nil
}

// probeOptions maps the command line onto the handshake settings.
func probeOptions() probe.Options {
	return probe.Options{
		STUNServers:     flagProbeSTUN,
		IncludeLoopback: flagProbeLoopback,
		Logger:          slog.Default(),
	}
}

// joinRoom takes the role. A client holding a pin verifies it first, and a
// rejected pin ends the session.
func joinRoom(ctx context.Context, sess *endpoint.Session, role signaling.Role, pin *string) error {
	if role == signaling.RoleHost {
		return sess.Join(flagProbeRoom, role, pin)
	}

	if pin != nil {
		ok, err := sess.VerifyPin(ctx, flagProbeRoom, *pin)
		if err != nil {
			return err
		}
		if !ok {
			return endpoint.NewError("verify pin", endpoint.ErrPinRejected)
		}
		ui.PrintSuccess("PIN accepted")
	}
	return sess.Join(flagProbeRoom, role, nil)
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVarP(&flagProbeServer, "server", "s", defaultRelayURL, "relay websocket URL")
	probeCmd.Flags().StringVarP(&flagProbeRoom, "room", "r", "", "room identifier shared by host and client")
	probeCmd.Flags().StringVar(&flagProbeRole, "role", string(signaling.RoleHost), "role to take: host or client")
	probeCmd.Flags().StringVarP(&flagProbePin, "pin", "p", "", "room PIN (set by the host, checked by the client)")
	probeCmd.Flags().StringSliceVar(&flagProbeSTUN, "stun", []string{defaultSTUN}, "STUN servers (empty for host candidates only)")
	probeCmd.Flags().BoolVar(&flagProbeLoopback, "loopback", false, "also offer 127.0.0.1 candidates, for two probes on one machine")
	probeCmd.Flags().DurationVarP(&flagProbeTimeout, "timeout", "t", 2*time.Minute, "give up after this long")
}
