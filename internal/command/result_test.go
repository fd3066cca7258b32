package command

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultSender_NoSubscriberIsNoop(t *testing.T) {
	channel := &recordingChannel{}
	sender := NewResultSender(channel, 0, logrus.New())

	sender.Send("value %d", 1)

	assert.Empty(t, channel.results())
}

func TestResultSender_TruncatesToLimit(t *testing.T) {
	channel := &recordingChannel{subscribers: 1}
	sender := NewResultSender(channel, 8, logrus.New())

	sender.SendString(strings.Repeat("x", 20))
	assert.Equal(t, "xxxxxxxx", channel.last())

	// the 3-byte rune straddling the limit is dropped whole
	sender.SendString("abcdef€gh")
	assert.Equal(t, "abcdef", channel.last())
}

func TestResultSender_DefaultLimit(t *testing.T) {
	channel := &recordingChannel{subscribers: 1}
	sender := NewResultSender(channel, 0, nil)

	require.Equal(t, DefaultPayloadLimit, sender.Limit())
	sender.SendString(strings.Repeat("y", 600))
	assert.Len(t, channel.last(), DefaultPayloadLimit)
}

func TestResultSender_CFormat(t *testing.T) {
	channel := &recordingChannel{subscribers: 1}
	sender := NewResultSender(channel, 0, nil)

	sender.Send("temp=%.1f count=%u id=%i name=%s %lu%%", 21.55, 3, 7, "kitchen", 42)
	assert.Equal(t, "temp=21.6 count=3 id=7 name=kitchen 42%", channel.last())
}
