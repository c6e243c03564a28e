package keymap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/bobuk/gcalbridge/internal/fsutil"
)

// FileStore keeps the map in an indented JSON file.
type FileStore struct {
	path   string
	logger *log.Logger
	mu     sync.Mutex
}

// NewFileStore returns a store for the JSON file at path. If logger is nil,
// a default logger writing to stderr is used.
func NewFileStore(path string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.New(os.Stderr, "[keymap] ", log.LstdFlags)
	}
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reads the map. A missing file yields an empty map. A file that is not
// valid JSON is moved aside to <path>.corrupt-<unix time> and an empty map
// is returned; any other read error is returned as is.
func (s *FileStore) Load(ctx context.Context) (Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Map{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key map: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Map{}, nil
	}

	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			return nil, fmt.Errorf("key map is corrupt (%v) and could not be moved aside: %w", err, renameErr)
		}
		s.logger.Printf("Key map %s is corrupt (%v), moved to %s; starting with an empty map", s.path, err, aside)
		return Map{}, nil
	}
	if m == nil {
		m = Map{}
	}
	return m, nil
}

// Save rewrites the whole file atomically.
func (s *FileStore) Save(ctx context.Context, m Map) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if m == nil {
		m = Map{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode key map: %w", err)
	}
	data = append(data, '\n')
	if err := fsutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save key map: %w", err)
	}
	return nil
}
