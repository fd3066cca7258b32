package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/srg/blectl/internal/config"
	"github.com/srg/blectl/internal/console"
	"github.com/srg/blectl/internal/controller"
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Drive the peripheral from a local console instead of a radio",
	Long: `Builds the peripheral from the device description on an in-process BLE stack and
connects a simulated central to it. Lines typed at the console are written to the
maintenance command characteristic, results come back as notifications. Lines starting
with ':' control the simulated central, :help lists them.

With --pty the console is served on a new pseudo-terminal so a serial terminal program can
attach to it.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

var (
	consolePTY     bool
	consolePeer    string
	consoleNoColor bool
)

func init() {
	consoleCmd.Flags().BoolVar(&consolePTY, "pty", false, "Serve the console on a pseudo-terminal")
	consoleCmd.Flags().StringVar(&consolePeer, "peer", console.DefaultPeerAddress, "Address of the simulated central")
	consoleCmd.Flags().BoolVar(&consoleNoColor, "no-color", false, "Disable colored output")
}

func runConsole(cmd *cobra.Command, _ []string) error {
	f, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, f)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	rt, err := f.Build(logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	dev := console.NewDevice(logger)
	ctrl, err := controller.New(rt.Config, dev, logger)
	if err != nil {
		return err
	}
	rt.Attach(ctrl)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)

	stopped := make(chan error, 1)
	go func() { stopped <- ctrl.Run(ctx) }()
	defer func() {
		cancel()
		<-stopped
	}()

	out := cmd.OutOrStdout()
	colors := !consoleNoColor && (consolePTY || isTerminal(out))

	con := console.New(ctrl, dev, rt, console.Options{
		PeerAddress: consolePeer,
		Output:      out,
		Colors:      colors,
		StateText:   config.EntityState,
	}, logger)

	if consolePTY {
		return con.ServePTY(ctx, func(name string) {
			fmt.Fprintf(out, "console on %s\n", name)
		})
	}
	return con.Run(ctx, cmd.InOrStdin())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
