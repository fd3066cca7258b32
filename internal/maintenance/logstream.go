package maintenance

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// DefaultLogBufferSize is the number of log lines kept while no one drains the stream
const DefaultLogBufferSize uint32 = 64

// LogStream is a logrus hook that forwards log lines at or above the device log level to the
// maintenance log characteristic. Lines are buffered in an overwrite-oldest ring so logging
// never blocks on BLE; Run drains the buffer.
type LogStream struct {
	logger    *logrus.Logger
	formatter logrus.Formatter
	buffer    mpmc.RichOverlappedRingBuffer[string]
	wake      chan struct{}
	level     atomic.Int32

	// entries carrying this entity id are produced while publishing and are not streamed
	ownEntity string

	overwritten atomic.Int64

	mu        sync.Mutex
	listeners []func(level int)
}

// NewLogStream creates the stream and installs it as a hook on logger
func NewLogStream(logger *logrus.Logger, level int, bufferSize uint32) *LogStream {
	if logger == nil {
		logger = logrus.New()
	}
	if bufferSize == 0 {
		bufferSize = DefaultLogBufferSize
	}
	s := &LogStream{
		logger: logger,
		formatter: &logrus.TextFormatter{
			DisableColors:    true,
			DisableTimestamp: true,
		},
		buffer:    mpmc.NewOverlappedRingBuffer[string](bufferSize),
		wake:      make(chan struct{}, 1),
		ownEntity: logEntityID,
	}
	s.level.Store(int32(clampLevel(level)))
	s.raiseLoggerLevel(clampLevel(level))
	logger.AddHook(s)
	return s
}

// Levels implements logrus.Hook
func (s *LogStream) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook
func (s *LogStream) Fire(entry *logrus.Entry) error {
	level := int(s.level.Load())
	if level == LevelNone || entry.Level > ToLogrus(level) {
		return nil
	}
	if id, ok := entry.Data["entity"]; ok && id == s.ownEntity {
		return nil
	}

	formatted, err := s.formatter.Format(entry)
	if err != nil {
		return err
	}
	line := RemoveLoggerMagic(strings.TrimRight(string(formatted), "\n"))

	overwrites, err := s.buffer.EnqueueM(line)
	if err != nil {
		return err
	}
	s.overwritten.Add(int64(overwrites))

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run publishes buffered lines until ctx is done
func (s *LogStream) Run(ctx context.Context, publish func(line string)) {
	for {
		for !s.buffer.IsEmpty() {
			line, err := s.buffer.Dequeue()
			if err != nil {
				break
			}
			publish(line)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
	}
}

// Overwritten returns how many lines were dropped because the buffer was full
func (s *LogStream) Overwritten() int64 {
	return s.overwritten.Load()
}

// LogLevel returns the device log level of the stream
func (s *LogStream) LogLevel() int {
	return int(s.level.Load())
}

// SetLogLevel changes the stream level. The logger itself is made verbose enough to produce
// the requested lines; it is never made less verbose.
func (s *LogStream) SetLogLevel(level int) error {
	if err := ValidateLevel(level); err != nil {
		return err
	}
	if int(s.level.Swap(int32(level))) == level {
		return nil
	}
	s.raiseLoggerLevel(level)

	s.logger.WithField("level", level).Info("Maintenance log level changed")

	s.mu.Lock()
	listeners := append([]func(int){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(level)
	}
	return nil
}

// OnLevelChange registers fn for level changes
func (s *LogStream) OnLevelChange(fn func(level int)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *LogStream) raiseLoggerLevel(level int) {
	if want := ToLogrus(level); level != LevelNone && want > s.logger.GetLevel() {
		s.logger.SetLevel(want)
	}
}

func clampLevel(level int) int {
	if level < LevelNone {
		return LevelNone
	}
	if level > LevelVeryVerbose {
		return LevelVeryVerbose
	}
	return level
}

// RemoveLoggerMagic strips ANSI escape sequences (ESC '[' ... 'm') from a log line
func RemoveLoggerMagic(message string) string {
	if !strings.Contains(message, "\033[") {
		return message
	}

	var sb strings.Builder
	sb.Grow(len(message))
	withinMagic := false
	for i := 0; i < len(message); i++ {
		switch {
		case !withinMagic && message[i] == '\033' && i+1 < len(message) && message[i+1] == '[':
			withinMagic = true
			i++
		case withinMagic:
			withinMagic = message[i] != 'm'
		default:
			sb.WriteByte(message[i])
		}
	}
	return sb.String()
}
