package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps all slots of one namespace in a single JSON document.
//
// Writes take an exclusive lock on path+".lock", write path+".tmp" with 0600
// permissions, fsync and rename over path. Reads always hit the file so that
// several processes sharing the path observe each other's writes.
type FileStore struct {
	mu        sync.Mutex
	path      string
	namespace string
	logger    *slog.Logger
	closed    bool
}

// fileDocument is the on-disk layout.
type fileDocument struct {
	Entries map[string]string `json:"entries"`
}

// NewFileStore creates a file-backed store at path. The parent directory is
// created on first write.
func NewFileStore(path, namespace string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:      path,
		namespace: namespace,
		logger:    logger,
	}
}

// Path returns the document path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, slot Slot) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	v, ok := doc.Entries[Key(s.namespace, slot)]
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

func (s *FileStore) Set(_ context.Context, slot Slot, value []byte) error {
	return s.update(func(doc *fileDocument) {
		key := Key(s.namespace, slot)
		if len(value) == 0 {
			delete(doc.Entries, key)
			return
		}
		doc.Entries[key] = string(value)
	})
}

func (s *FileStore) Delete(_ context.Context, slot Slot) error {
	return s.update(func(doc *fileDocument) {
		delete(doc.Entries, Key(s.namespace, slot))
	})
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) load() (*fileDocument, error) {
	doc := &fileDocument{Entries: map[string]string{}}

	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat credential file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		s.logger.Warn("credential file has too-open permissions, should be 0600",
			"path", s.path,
			"mode", info.Mode().Perm().String(),
		)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]string{}
	}
	return doc, nil
}

// update runs a read-modify-write cycle under the in-process mutex and the
// cross-process file lock.
func (s *FileStore) update(mutate func(*fileDocument)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	lock, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lock.Close() }()

	if err := lockFile(lock.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer unlockFile(lock.Fd()) //nolint:errcheck

	doc, err := s.load()
	if err != nil {
		if !errors.Is(err, ErrCorrupt) {
			return err
		}
		// A corrupt document is replaced rather than blocking every write.
		s.logger.Warn("replacing corrupt credential file", "path", s.path, "error", err)
		doc = &fileDocument{Entries: map[string]string{}}
	}

	mutate(doc)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential file: %w", err)
	}
	return s.writeAtomic(data)
}

func (s *FileStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return os.Chmod(s.path, 0o600)
}
