package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blectl/internal/testutils"
)

const greenhouseYAML = `
name: greenhouse
version: 2.0.1
log_level: warn
security_mode: none
maintenance_log_level: none
entities:
  - id: temperature
    kind: sensor
    name: Temperature
    initial: "21.5"
  - id: vent
    kind: switch
    name: Vent
  - id: status
    kind: text_sensor
    name: Status
services:
  - service: 6e400001-b5a3-f393-e0a9-e50e24dcca9e
    characteristics:
      - characteristic: 6e400002-b5a3-f393-e0a9-e50e24dcca9e
        exposes: temperature
      - characteristic: 6e400003-b5a3-f393-e0a9-e50e24dcca9e
        exposes: vent
        use_BLE2902: false
commands:
  - command: temp
    description: reports the temperature
    on_execute:
      - send_result:
          format: "%.1f"
          args: ["@temperature"]
`

// syncBuffer is shared by the console and the logger, which write from different goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// executeCommand runs rootCmd with args and returns everything it printed
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	// flag values outlive a single Execute
	validateJSON, consolePTY, consoleNoColor = false, false, true
	consolePeer = ""
	require.NoError(t, rootCmd.PersistentFlags().Set("log-level", ""))

	buf := &syncBuffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	joined := errors.Join(errors.New("entities[0]: id is required"), errors.New("security_mode: unknown mode \"x\""))
	assert.Equal(t,
		"invalid device description:\n  - entities[0]: id is required\n  - security_mode: unknown mode \"x\"",
		FormatUserError(joined))

	_, err := os.ReadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, strings.HasPrefix(FormatUserError(fmt.Errorf("reading config file: %w", err)), "device description not found: "))

	assert.Equal(t, "boom", FormatUserError(errors.New("boom")))
}

func TestValidate_Text(t *testing.T) {
	path := writeConfig(t, greenhouseYAML)

	out, err := executeCommand(t, "", "validate", "--config", path)
	require.NoError(t, err)

	testutils.NewTextAsserter(t).WithOptions(testutils.WithTrimSpace(true)).Assert(out, `
greenhouse 2.0.1: OK
security: none
maintenance: true
entities:
  temperature (sensor) 6e400001-b5a3-f393-e0a9-e50e24dcca9e/6e400002-b5a3-f393-e0a9-e50e24dcca9e (notify)
  vent (switch) 6e400001-b5a3-f393-e0a9-e50e24dcca9e/6e400003-b5a3-f393-e0a9-e50e24dcca9e
  status (text_sensor) not exposed
commands: temp
`)
}

func TestValidate_JSON(t *testing.T) {
	path := writeConfig(t, greenhouseYAML)

	out, err := executeCommand(t, "", "validate", "-c", path, "--json")
	require.NoError(t, err)

	testutils.NewJSONAsserter(t).Assert(out, `{
		"name": "greenhouse",
		"version": "2.0.1",
		"security_mode": "none",
		"maintenance": true,
		"entities": [
			{"id": "temperature", "kind": "sensor", "characteristic": "<<PRESENCE>>", "notify": true},
			{"id": "vent", "kind": "switch", "characteristic": "6e400003-b5a3-f393-e0a9-e50e24dcca9e"},
			{"id": "status", "kind": "text_sensor"}
		],
		"commands": ["temp"]
	}`)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	path := writeConfig(t, `
security_mode: paranoid
entities:
  - id: temperature
    kind: thermometer
commands:
  - command: help
`)

	_, err := executeCommand(t, "", "validate", "-c", path)
	require.Error(t, err)

	msg := FormatUserError(err)
	assert.True(t, strings.HasPrefix(msg, "invalid device description:"), msg)
	assert.GreaterOrEqual(t, strings.Count(msg, "\n  - "), 3, msg)
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := executeCommand(t, "", "validate", "-c", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, FormatUserError(err), "device description not found")
}

func TestConsole_ReadsStdin(t *testing.T) {
	path := writeConfig(t, greenhouseYAML)

	out, err := executeCommand(t, ":set status watering\n:state\n:quit\n", "console", "-c", path)
	require.NoError(t, err)

	assert.Contains(t, out, "console ready")
	assert.Contains(t, out, "temperature (Temperature) = 21.5")
	assert.Contains(t, out, "vent (Vent) = off")
	assert.Contains(t, out, "status (Status) = watering")
}

func TestConsole_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, greenhouseYAML)

	_, err := executeCommand(t, "", "console", "-c", path, "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level: loud")
}

func TestCommandsAreRegistered(t *testing.T) {
	names := make(map[string]*cobra.Command)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = c
	}
	for _, want := range []string{"run", "console", "validate"} {
		assert.Contains(t, names, want)
	}
}
