package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// TomlStore keeps the catalog as an array of [[records]] tables in one file.
// Every Append rewrites the file through a temp file and rename.
type TomlStore struct {
	mu       sync.RWMutex
	filePath string
	Records  []Record `toml:"records"`
}

func NewTomlStore(filePath string) (*TomlStore, error) {
	if filePath == "" {
		return nil, errors.New("catalog file path is required")
	}
	store := &TomlStore{filePath: filePath}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, err
	}
	if err := store.loadFromFile(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *TomlStore) Path() string {
	return s.filePath
}

func (s *TomlStore) loadFromFile() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no file yet, treat as empty
		}
		return err
	}
	if err := toml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse catalog %s: %w", s.filePath, err)
	}
	return nil
}

func (s *TomlStore) saveToFile() error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.filePath), ".catalog-*.toml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.filePath); err != nil {
		return errors.New("failed to save catalog: " + err.Error())
	}
	return nil
}

func (s *TomlStore) Append(_ context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Records = append(s.Records, r)
	if err := s.saveToFile(); err != nil {
		s.Records = s.Records[:len(s.Records)-1]
		return err
	}
	return nil
}

func (s *TomlStore) All(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.Records...), nil
}

func (s *TomlStore) Find(_ context.Context, filename string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.Records {
		if r.Filename == filename {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

func (s *TomlStore) Close() error {
	return nil
}

var _ Store = (*TomlStore)(nil)
