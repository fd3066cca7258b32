package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blectl/internal/config"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a device description without starting the peripheral",
	Long: `Parses the device description and applies every configuration-time rule: entity and
command ids, UUIDs, characteristic bindings, action shapes and Lua syntax. All problems are
reported at once.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var validateJSON bool

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output the summary as JSON")
}

type entitySummary struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Service        string `json:"service,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	Notify         bool   `json:"notify,omitempty"`
}

type summary struct {
	Name         string          `json:"name"`
	Version      string          `json:"version,omitempty"`
	SecurityMode string          `json:"security_mode"`
	Maintenance  bool            `json:"maintenance"`
	Entities     []entitySummary `json:"entities"`
	Commands     []string        `json:"commands"`
}

func summarize(f *config.File) summary {
	bound := make(map[string]entitySummary)
	for _, svc := range f.Services {
		for _, ch := range svc.Characteristics {
			bound[ch.Exposes] = entitySummary{
				Service:        svc.Service,
				Characteristic: ch.Characteristic,
				Notify:         ch.Notify,
			}
		}
	}

	s := summary{
		Name:         f.Name,
		Version:      f.Version,
		SecurityMode: f.SecurityMode,
		Maintenance:  f.Maintenance,
		Entities:     []entitySummary{},
		Commands:     []string{},
	}
	for _, e := range f.Entities {
		es := bound[e.ID]
		es.ID, es.Kind = e.ID, e.Kind
		s.Entities = append(s.Entities, es)
	}
	for _, c := range f.Commands {
		s.Commands = append(s.Commands, c.Command)
	}
	return s
}

func runValidate(cmd *cobra.Command, _ []string) error {
	f, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if err := f.Validate(); err != nil {
		return err
	}

	s := summarize(f)
	if validateJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	printSummary(cmd.OutOrStdout(), s)
	return nil
}

func printSummary(w io.Writer, s summary) {
	fmt.Fprintf(w, "%s %s: OK\n", s.Name, s.Version)
	fmt.Fprintf(w, "security: %s\n", s.SecurityMode)
	fmt.Fprintf(w, "maintenance: %t\n", s.Maintenance)
	if len(s.Entities) > 0 {
		fmt.Fprintln(w, "entities:")
	}
	for _, e := range s.Entities {
		where := "not exposed"
		if e.Characteristic != "" {
			where = e.Service + "/" + e.Characteristic
			if e.Notify {
				where += " (notify)"
			}
		}
		fmt.Fprintf(w, "  %s (%s) %s\n", e.ID, e.Kind, where)
	}
	if len(s.Commands) > 0 {
		fmt.Fprintf(w, "commands: %s\n", strings.Join(s.Commands, ", "))
	}
}
