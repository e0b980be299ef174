package factstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
)

var safeThreadID = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// FileStore writes one JSON file per thread under dir. Writes go to a temp
// file renamed into place while holding the thread's lock file, so readers
// never observe a partial record.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create facts dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(threadID string) string {
	name := threadID
	if !safeThreadID.MatchString(threadID) || name == "." || name == ".." {
		sum := sha256.Sum256([]byte(threadID))
		name = "h-" + hex.EncodeToString(sum[:16])
	}
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Load(_ context.Context, threadID string) (slots.Facts, error) {
	raw, err := os.ReadFile(s.path(threadID))
	if errors.Is(err, fs.ErrNotExist) {
		record(BackendFile, "load", ErrNotFound)
		return slots.Facts{}, ErrNotFound
	}
	if err != nil {
		record(BackendFile, "load", err)
		return slots.Facts{}, fmt.Errorf("read facts: %w", err)
	}
	f, err := decodeRecord(raw)
	record(BackendFile, "load", err)
	return f, err
}

func (s *FileStore) Save(ctx context.Context, threadID string, facts slots.Facts) error {
	err := s.save(ctx, threadID, facts)
	record(BackendFile, "save", err)
	return err
}

func (s *FileStore) save(ctx context.Context, threadID string, facts slots.Facts) error {
	raw, err := encodeRecord(facts)
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}
	target := s.path(threadID)

	lock := flock.New(target + ".lock")
	locked, err := lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock facts: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock facts: not acquired")
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write facts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename facts: %w", err)
	}
	return nil
}
