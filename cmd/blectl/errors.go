package main

import (
	"errors"
	"io/fs"
	"strings"
)

// Command-level errors
var (
	// ErrNoConfig is returned when --config is empty
	ErrNoConfig = errors.New("no device description given, use --config")

	// ErrUnsupportedPlatform is returned by run on systems without a go-ble peripheral stack
	ErrUnsupportedPlatform = errors.New("BLE peripheral mode is not supported on this platform, try the console command")

	// ErrPairingUnsupported is returned by run when the device description asks for pairing
	ErrPairingUnsupported = errors.New("the BLE stack does not report pairing, set security_mode: none or pair through the console command")
)

// FormatUserError renders err for the terminal. Validation reports several problems at once;
// each goes on its own line.
func FormatUserError(err error) string {
	if errors.Is(err, fs.ErrNotExist) {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return "device description not found: " + pathErr.Path
		}
	}

	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var b strings.Builder
		b.WriteString("invalid device description:")
		for _, e := range joined.Unwrap() {
			b.WriteString("\n  - ")
			b.WriteString(e.Error())
		}
		return b.String()
	}
	return err.Error()
}
