package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Sink is an append-only escalation log.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// FileSink appends one JSON object per line. Writers in other processes are
// serialized through an adjacent lock file.
type FileSink struct {
	path string
	lock *flock.Flock
}

// NewFileSink creates the parent directory if needed.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create escalation dir: %w", err)
	}
	return &FileSink{path: path, lock: flock.New(path + ".lock")}, nil
}

func (s *FileSink) Append(ctx context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal escalation: %w", err)
	}
	locked, err := s.lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock escalation log: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock escalation log: not acquired")
	}
	defer s.lock.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open escalation log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write escalation: %w", err)
	}
	return f.Close()
}

// Path returns the log file location.
func (s *FileSink) Path() string { return s.path }

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
