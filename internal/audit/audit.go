// Package audit records who looked up what as an append-only JSON stream.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/market-data/internal/observ"
)

// Entry is one audit record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	UserID    string         `json:"user_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logger formats entries with a dedicated logrus formatter so audit lines
// never mix with the operational log level or format. Lines are written
// directly so write failures reach the caller.
type Logger struct {
	log   *logrus.Logger
	mu    sync.Mutex
	out   io.Writer
	now   func() time.Time
	newID func() string
	close func() error
}

// New writes entries to out.
func New(out io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.JSONFormatter{
		DisableHTMLEscape: true,
		FieldMap:          logrus.FieldMap{logrus.FieldKeyMsg: "action", logrus.FieldKeyTime: "ts"},
	})
	return &Logger{
		log:   l,
		out:   out,
		now:   time.Now,
		newID: uuid.NewString,
		close: func() error { return nil },
	}
}

// Open appends entries to the file at path. An empty path writes to stdout.
func Open(path string) (*Logger, error) {
	if path == "" {
		return New(os.Stdout), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l := New(f)
	l.close = f.Close
	return l, nil
}

// Log records action by userID. Errors are reported, never fatal to callers.
func (l *Logger) Log(_ context.Context, userID, action string, metadata map[string]any) error {
	e := Entry{
		ID:        l.newID(),
		Timestamp: l.now().UTC(),
		Action:    action,
		UserID:    userID,
		Metadata:  metadata,
	}

	fields := logrus.Fields{
		"id":        e.ID,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"user_id":   e.UserID,
	}
	if len(e.Metadata) > 0 {
		fields["metadata"] = e.Metadata
	}
	entry := l.log.WithFields(fields)
	entry.Time = e.Timestamp
	entry.Level = logrus.InfoLevel
	entry.Message = e.Action

	line, err := l.log.Formatter.Format(entry)
	if err != nil {
		observ.IncCounter("audit_write_errors_total", map[string]string{"action": action})
		return fmt.Errorf("format audit entry: %w", err)
	}

	l.mu.Lock()
	_, err = l.out.Write(line)
	l.mu.Unlock()
	if err != nil {
		observ.IncCounter("audit_write_errors_total", map[string]string{"action": action})
		return fmt.Errorf("write audit entry: %w", err)
	}

	observ.IncCounter("audit_entries_total", map[string]string{"action": action})
	return nil
}

func (l *Logger) Close() error {
	return l.close()
}
