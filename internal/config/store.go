package config

import "sync"

// Store is the concurrent-safe settings holder shared by the engine and the CLI
type Store struct {
	mu      sync.RWMutex
	cfg     *Config
	persist bool
}

// NewStore wraps cfg; updates are written to the config file
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg.Clone(), persist: true}
}

// NewMemoryStore wraps cfg without persisting updates
func NewMemoryStore(cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Store{cfg: cfg.Clone()}
}

// Get returns a snapshot of the current settings
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg.Clone()
}

// Update applies fn to a copy, validates and saves it, then publishes it
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg.Clone()
	fn(next)
	if err := next.Validate(); err != nil {
		return err
	}
	if s.persist {
		if err := next.Save(); err != nil {
			return err
		}
	}
	s.cfg = next
	return nil
}
