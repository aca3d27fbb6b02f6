package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/flashbots/inbox-arena/protocol"
)

// FileStore writes one JSON file per session named
// session_<id>_<completed unix>.json. Files are created exclusively and
// never rewritten.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file archive needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) fileName(r *Record) string {
	return filepath.Join(s.dir, fmt.Sprintf("session_%s_%d.json", r.SessionID, r.CompletedAt.Unix()))
}

func (s *FileStore) find(sessionID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "session_"+sessionID+"_*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0], nil
}

func (s *FileStore) Save(_ context.Context, r *Record) error {
	if err := r.validate(); err != nil {
		return err
	}
	if strings.ContainsAny(r.SessionID, `/\*?[`) {
		return protocol.Errorf(protocol.ReasonInvalidRequest, "session id %q is not a valid file name", r.SessionID)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.find(r.SessionID)
	if err != nil {
		return err
	}
	if existing != "" {
		return protocol.Errorf(protocol.ReasonConflict, "session %s already archived", r.SessionID)
	}

	f, err := os.OpenFile(s.fileName(r), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return protocol.Errorf(protocol.ReasonConflict, "session %s already archived", r.SessionID)
		}
		return fmt.Errorf("creating archive file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing archive file: %w", err)
	}
	return f.Close()
}

func (s *FileStore) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

func (s *FileStore) Get(_ context.Context, sessionID string) (*Record, error) {
	if strings.ContainsAny(sessionID, `/\*?[`) {
		return nil, protocol.Errorf(protocol.ReasonNotFound, "session %s not archived", sessionID)
	}
	path, err := s.find(sessionID)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, protocol.Errorf(protocol.ReasonNotFound, "session %s not archived", sessionID)
	}
	return s.read(path)
}

func (s *FileStore) List(_ context.Context) ([]Summary, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "session_*.json"))
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(paths))
	for _, path := range paths {
		r, err := s.read(path)
		if err != nil {
			return nil, err
		}
		out = append(out, r.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *FileStore) Close() error { return nil }
