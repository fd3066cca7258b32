package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blectl/internal/config"
)

// configureLogger creates the process logger. --log-level takes precedence over the
// log_level of the device description.
func configureLogger(cmd *cobra.Command, f *config.File) (*logrus.Logger, error) {
	var logger *logrus.Logger
	if levelStr, _ := cmd.Flags().GetString("log-level"); levelStr != "" {
		level, err := logrus.ParseLevel(levelStr)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", levelStr)
		}
		logger = config.NewLogger(level)
	} else {
		var err error
		if logger, err = f.NewLogger(); err != nil {
			return nil, err
		}
	}

	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}

// loadConfig reads the file named by --config
func loadConfig(cmd *cobra.Command) (*config.File, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return nil, ErrNoConfig
	}
	return config.Load(path)
}
