package command

import (
	"fmt"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// DefaultPayloadLimit is the largest result the maintenance characteristic carries
const DefaultPayloadLimit = 512

// Channel is where results are delivered, typically the maintenance command characteristic
type Channel interface {
	Subscribers() int
	Publish(value []byte)
}

// ResultSender formats command results and delivers them to the maintenance channel.
// Results longer than the payload limit are truncated; without subscribers sending is a no-op.
type ResultSender struct {
	channel Channel
	limit   int
	logger  *logrus.Logger
}

// NewResultSender creates a sender on channel; limit <= 0 selects DefaultPayloadLimit.
func NewResultSender(channel Channel, limit int, logger *logrus.Logger) *ResultSender {
	if logger == nil {
		logger = logrus.New()
	}
	if limit <= 0 {
		limit = DefaultPayloadLimit
	}
	return &ResultSender{channel: channel, limit: limit, logger: logger}
}

// Limit returns the payload limit in bytes
func (s *ResultSender) Limit() int {
	return s.limit
}

// Send renders a printf-style format string with args and delivers the result.
func (s *ResultSender) Send(format string, args ...any) {
	goFormat, _, err := ParseFormat(format)
	if err != nil {
		s.logger.WithError(err).Warn("Invalid result format, sending it verbatim")
		s.SendString(format)
		return
	}
	s.SendString(fmt.Sprintf(goFormat, args...))
}

// SendString delivers text as is
func (s *ResultSender) SendString(text string) {
	if s.channel == nil || s.channel.Subscribers() == 0 {
		s.logger.WithField("result", text).Debug("No subscriber for command result, dropping it")
		return
	}

	payload := truncateUTF8(text, s.limit)
	if len(payload) < len(text) {
		s.logger.WithFields(logrus.Fields{
			"length": len(text),
			"limit":  s.limit,
		}).Debug("Command result truncated")
	}
	s.logger.WithField("result", payload).Info("Sending command result")
	s.channel.Publish([]byte(payload))
}

// truncateUTF8 cuts s to at most limit bytes without splitting a multi-byte rune
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
