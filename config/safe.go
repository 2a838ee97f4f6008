package config

import (
	"sync"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
)

// SafeConfig guards a configuration for concurrent readers with
// occasional replacement. Readers always see a consistent snapshot.
type SafeConfig struct {
	mu      sync.RWMutex
	current *Config
}

// NewSafeConfig wraps an already validated configuration
func NewSafeConfig(cfg *Config) (*SafeConfig, error) {
	if cfg == nil {
		return nil, errors.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SafeConfig{current: cfg.Clone()}, nil
}

// Get returns a deep copy of the current configuration. Mutating the
// copy never affects other readers.
func (s *SafeConfig) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update validates the replacement and swaps it in. The current
// configuration is untouched when validation fails.
func (s *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = cfg.Clone()
	s.mu.Unlock()
	return nil
}
