package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blectl",
	Short: "BLE GATT peripheral runtime",
	Long: `Runs a Bluetooth Low Energy (BLE) peripheral described by a YAML file:

- Expose sensors, switches and fans as GATT characteristics
- Answer maintenance commands written to the command characteristic
- Enforce the configured pairing mode (none, bond or secure)
- Stream the maintenance log to subscribed peers
- Drive the same runtime from a local console, with no radio, for development

Commands, listeners and entity write hooks are declared as actions in the file; Lua
actions cover anything the built-in actions do not.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "blectl.yaml", "Device description file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level, overrides log_level from the file (trace, debug, info, warn, error)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
