package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileStore keeps the registry in a single JSON object file keyed by bot id.
type FileStore struct {
	path  string
	mu    sync.Mutex
	retry retrier
}

// NewFileStore returns a store backed by path. Non-positive attempts use DefaultAttempts.
func NewFileStore(path string, attempts int, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, retry: newRetrier(attempts, logger)}
}

func (s *FileStore) Load(ctx context.Context) (map[string]Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (map[string]Bot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Bot{}, nil
	}
	if err != nil {
		return nil, err
	}
	bots := map[string]Bot{}
	if len(data) == 0 {
		return bots, nil
	}
	if err := json.Unmarshal(data, &bots); err != nil {
		return nil, err
	}
	return bots, nil
}

func (s *FileStore) Save(ctx context.Context, bots map[string]Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry.do(ctx, "save", func() error { return s.write(bots) })
}

// Put inserts or replaces one bot with a read-modify-write of the file.
func (s *FileStore) Put(ctx context.Context, id string, bot Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry.do(ctx, "put", func() error {
		bots, err := s.load()
		if err != nil {
			return err
		}
		bots[id] = bot
		return s.write(bots)
	})
}

// write replaces the file atomically via a temp file in the same directory.
func (s *FileStore) write(bots map[string]Bot) error {
	data, err := json.Marshal(bots)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".bots-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) Close() error { return nil }
