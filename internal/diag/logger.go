package diag

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

// Logger fans compiler diagnostics out to the console and an optional log
// file, each with its own threshold.
type Logger struct {
	*logrus.Logger
	file     *os.File
	warnings *countHook
}

// Options selects the diagnostic destinations.
type Options struct {
	Console      io.Writer
	ConsoleLevel string
	File         string
	FileLevel    string
}

// New creates a Logger. An empty level string means "warning" for the
// console and "debug" for the file.
func New(opts Options) (*Logger, error) {
	consoleLevel, err := parseLevel(opts.ConsoleLevel, logrus.WarnLevel)
	if err != nil {
		return nil, fmt.Errorf("console log level: %w", err)
	}
	fileLevel, err := parseLevel(opts.FileLevel, logrus.DebugLevel)
	if err != nil {
		return nil, fmt.Errorf("file log level: %w", err)
	}

	base := logrus.New()
	base.SetOutput(io.Discard)
	base.SetLevel(logrus.TraceLevel)
	base.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		TimestampFormat:  "15:04:05",
		DisableSorting:   false,
		QuoteEmptyFields: true,
	})

	l := &Logger{Logger: base, warnings: &countHook{}}
	base.AddHook(l.warnings)

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	base.AddHook(&writer.Hook{Writer: console, LogLevels: levelsUpTo(consoleLevel)})

	if opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return nil, fmt.Errorf("creating log file: %w", err)
		}
		l.file = f
		base.AddHook(&writer.Hook{Writer: f, LogLevels: levelsUpTo(fileLevel)})
	}

	return l, nil
}

// Discard returns a Logger that drops everything but still counts warnings.
func Discard() *Logger {
	l, _ := New(Options{Console: io.Discard, ConsoleLevel: "panic"})
	return l
}

// Warnings returns the number of warnings logged so far.
func (l *Logger) Warnings() int {
	if l == nil {
		return 0
	}
	return int(l.warnings.n.Load())
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func parseLevel(s string, def logrus.Level) (logrus.Level, error) {
	if s == "" {
		return def, nil
	}
	return logrus.ParseLevel(s)
}

func levelsUpTo(max logrus.Level) []logrus.Level {
	var out []logrus.Level
	for _, lvl := range logrus.AllLevels {
		if lvl <= max {
			out = append(out, lvl)
		}
	}
	return out
}

type countHook struct {
	n atomic.Int64
}

func (h *countHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.WarnLevel}
}

func (h *countHook) Fire(*logrus.Entry) error {
	h.n.Add(1)
	return nil
}
