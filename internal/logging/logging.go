// Package logging provides structured logging for the sync engine.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Options controls logger initialization.
type Options struct {
	Level string // debug, info, warn, error
	File  string // when set, log to a rotating file instead of stdout
}

// Init initializes the global logger. Safe to call more than once; only
// the first call takes effect.
func Init(opts Options) {
	once.Do(func() {
		logger = newLogger(opts)
	})
}

// L returns the global logger, initializing it with defaults if needed.
func L() *logrus.Logger {
	Init(Options{})
	return logger
}

func newLogger(opts Options) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	var out io.Writer = os.Stdout
	if opts.File != "" {
		out = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	l.SetOutput(out)

	return l
}

// WithComponent returns an entry tagged with the originating component.
func WithComponent(name string) *logrus.Entry {
	return L().WithField("component", name)
}
