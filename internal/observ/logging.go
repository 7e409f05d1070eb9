package observ

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerMu sync.RWMutex
	logger   = newLogger(os.Stdout, "info", "json")
)

func newLogger(out io.Writer, level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{logrus.FieldKeyTime: "ts"},
		})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Configure replaces the process logger. Called once from main.
func Configure(out io.Writer, level, format string) *logrus.Logger {
	l := newLogger(out, level, format)
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	return l
}

// Logger returns the process logger.
func Logger() *logrus.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// Log emits a single structured event line.
func Log(event string, kv map[string]any) {
	Logger().WithFields(logrus.Fields(kv)).Info(event)
}

// Warn is Log at warning level.
func Warn(event string, kv map[string]any) {
	Logger().WithFields(logrus.Fields(kv)).Warn(event)
}
