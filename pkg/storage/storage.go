package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// sequenceSnapInterval is how far the persisted sequence baseline jumps
// ahead on startup. Numbers allocated between writes stay below the next
// baseline, so a crash cannot cause reuse.
const sequenceSnapInterval = 100

// ErrInvalidState indicates an operation requiring the opposite
// provisioning state.
var ErrInvalidState = errors.New("invalid provisioning state")

// Storage owns the node's configuration: the unprovisioned default until
// provisioning completes, the provisioned configuration afterwards. All
// mutation funnels through here so the backing store stays in sync.
type Storage struct {
	mu            sync.Mutex
	backing       BackingStore
	defaultConfig UnprovisionedConfiguration
	unprovisioned *UnprovisionedConfiguration
	provisioned   *ProvisionedConfiguration
}

// New creates a storage manager over a backing store.
func New(backing BackingStore, defaultConfig UnprovisionedConfiguration) *Storage {
	return &Storage{backing: backing, defaultConfig: defaultConfig}
}

// Init loads the persisted configuration. A stored configuration gets its
// sequence baseline snapped forward to the next multiple of 100 and is
// written back immediately; no stored configuration means the node starts
// unprovisioned with the default identity.
func (s *Storage) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	config, err := s.backing.Load(ctx)
	if errors.Is(err, ErrNotProvisioned) {
		cfg := s.defaultConfig
		s.unprovisioned = &cfg
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}

	config.Sequence = config.Sequence - config.Sequence%sequenceSnapInterval + sequenceSnapInterval
	if err := s.backing.Store(ctx, config); err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	s.provisioned = config
	return nil
}

// IsProvisioned reports the current configuration state.
func (s *Storage) IsProvisioned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provisioned != nil
}

// Unprovisioned returns the unprovisioned identity, or ErrInvalidState
// once provisioned.
func (s *Storage) Unprovisioned() (UnprovisionedConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unprovisioned == nil {
		return UnprovisionedConfiguration{}, ErrInvalidState
	}
	return *s.unprovisioned, nil
}

// Provision installs a provisioned configuration, persists it and leaves
// the unprovisioned state behind.
func (s *Storage) Provision(ctx context.Context, config *ProvisionedConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backing.Store(ctx, config); err != nil {
		return err
	}
	out := *config
	s.provisioned = &out
	s.unprovisioned = nil
	return nil
}

// ReadProvisioned calls reader with the current provisioned configuration
// under the lock.
func (s *Storage) ReadProvisioned(reader func(*ProvisionedConfiguration) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provisioned == nil {
		return ErrInvalidState
	}
	return reader(s.provisioned)
}

// ModifyProvisioned applies modifier to the provisioned configuration and
// persists the result. The modifier's error aborts without persisting.
func (s *Storage) ModifyProvisioned(ctx context.Context, modifier func(*ProvisionedConfiguration) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provisioned == nil {
		return ErrInvalidState
	}
	if err := modifier(s.provisioned); err != nil {
		return err
	}
	return s.backing.Store(ctx, s.provisioned)
}

// Reset clears all persisted state and returns the node to the
// unprovisioned default identity.
func (s *Storage) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backing.Clear(ctx); err != nil {
		return err
	}
	cfg := s.defaultConfig
	s.unprovisioned = &cfg
	s.provisioned = nil
	return nil
}
