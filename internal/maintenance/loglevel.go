package maintenance

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Device log levels as shown to maintenance clients
const (
	LevelNone        = 0
	LevelError       = 1
	LevelWarn        = 2
	LevelInfo        = 3
	LevelConfig      = 4
	LevelDebug       = 5
	LevelVerbose     = 6
	LevelVeryVerbose = 7
)

var levelNames = map[string]int{
	"none":         LevelNone,
	"error":        LevelError,
	"warn":         LevelWarn,
	"info":         LevelInfo,
	"config":       LevelConfig,
	"debug":        LevelDebug,
	"verbose":      LevelVerbose,
	"very_verbose": LevelVeryVerbose,
}

// ParseLevel accepts a level name (none, error, ..., very_verbose)
func ParseLevel(name string) (int, error) {
	if level, ok := levelNames[name]; ok {
		return level, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// ValidateLevel checks that level is within 0..7
func ValidateLevel(level int) error {
	if level < LevelNone || level > LevelVeryVerbose {
		return fmt.Errorf("log level %d out of range (0=None, 4=Config, 5=Debug, 7=Very verbose)", level)
	}
	return nil
}

// ToLogrus maps a device log level onto the most verbose logrus level it includes.
// LevelNone has no logrus equivalent; it maps to PanicLevel and streams nothing.
func ToLogrus(level int) logrus.Level {
	switch {
	case level <= LevelNone:
		return logrus.PanicLevel
	case level == LevelError:
		return logrus.ErrorLevel
	case level == LevelWarn:
		return logrus.WarnLevel
	case level <= LevelConfig:
		return logrus.InfoLevel
	case level == LevelDebug:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// FromLogrus maps a logrus level onto the device scale
func FromLogrus(level logrus.Level) int {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return LevelError
	case logrus.WarnLevel:
		return LevelWarn
	case logrus.InfoLevel:
		return LevelInfo
	case logrus.DebugLevel:
		return LevelDebug
	default:
		return LevelVeryVerbose
	}
}
