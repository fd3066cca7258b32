package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/blectl/internal/controller"
	"github.com/srg/blectl/internal/security"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the peripheral on the local Bluetooth adapter",
	Long: `Loads the device description, registers its GATT services on the local adapter and
advertises until interrupted. Pairing, bonds, the maintenance exposure and the log level
are kept in the preferences file between runs.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	f, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, f)
	if err != nil {
		return err
	}
	if err := checkPairingSupport(f.SecurityMode); err != nil {
		return err
	}

	// Arguments are fine from here on, runtime errors should not print usage
	cmd.SilenceUsage = true

	rt, err := f.Build(logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	links := newLinkTracker(logger)
	dev, err := newPeripheral(links)
	if err != nil {
		return fmt.Errorf("failed to open BLE adapter: %w", err)
	}

	ctrl, err := controller.New(rt.Config, dev, logger)
	if err != nil {
		return err
	}
	rt.Attach(ctrl)
	links.attach(ctrl)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return ctrl.Run(ctx)
}

// checkPairingSupport rejects security modes that need pairing outcomes from the stack.
// go-ble reports neither the pass key nor the pairing result, so bond and secure peers
// could never be admitted. An unparsable mode is left to Build to report.
func checkPairingSupport(mode string) error {
	m, err := security.ParseMode(mode)
	if err != nil || m == security.ModeNone {
		return nil
	}
	return fmt.Errorf("%w: security_mode %q", ErrPairingUnsupported, mode)
}
