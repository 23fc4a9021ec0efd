package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrNotProvisioned indicates the backing store holds no provisioned
	// configuration.
	ErrNotProvisioned = errors.New("not provisioned")
	// ErrLoad indicates the backing store could not be read.
	ErrLoad = errors.New("storage load failed")
	// ErrStore indicates the backing store could not be written.
	ErrStore = errors.New("storage store failed")
)

// BackingStore abstracts the persistence medium for the provisioned
// configuration.
type BackingStore interface {
	// Load reads the configuration, or ErrNotProvisioned if none exists.
	Load(ctx context.Context) (*ProvisionedConfiguration, error)
	// Store writes the configuration.
	Store(ctx context.Context, config *ProvisionedConfiguration) error
	// Clear removes any stored configuration.
	Clear(ctx context.Context) error
}

// MemoryStore keeps the configuration in memory. Used by tests and
// volatile nodes.
type MemoryStore struct {
	mu     sync.Mutex
	config *ProvisionedConfiguration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the stored configuration.
func (s *MemoryStore) Load(_ context.Context) (*ProvisionedConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return nil, ErrNotProvisioned
	}
	out := *s.config
	return &out, nil
}

// Store keeps a copy of the configuration.
func (s *MemoryStore) Store(_ context.Context, config *ProvisionedConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *config
	s.config = &out
	return nil
}

// Clear drops the stored configuration.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = nil
	return nil
}

// FileStore persists the configuration to a CBOR file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store writing to the specified path. The parent
// directory is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads and decodes the configuration file.
func (s *FileStore) Load(_ context.Context) (*ProvisionedConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNotProvisioned
	}
	if err != nil {
		return nil, errors.Join(ErrLoad, err)
	}
	config, err := DecodeConfiguration(data)
	if err != nil {
		return nil, errors.Join(ErrLoad, err)
	}
	return config, nil
}

// Store encodes and writes the configuration file.
func (s *FileStore) Store(_ context.Context, config *ProvisionedConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.Join(ErrStore, err)
	}
	data, err := EncodeConfiguration(config)
	if err != nil {
		return errors.Join(ErrStore, err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return errors.Join(ErrStore, err)
	}
	return nil
}

// Clear removes the configuration file.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Compile-time interface satisfaction checks.
var (
	_ BackingStore = (*MemoryStore)(nil)
	_ BackingStore = (*FileStore)(nil)
)
