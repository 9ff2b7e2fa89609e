package config

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Store owns the live configuration. Reload replaces it as a unit; readers
// always observe either the previous or the new snapshot, never a mix.
type Store struct {
	path     string
	verifier *Verifier

	current atomic.Pointer[Config]
}

type StoreOption func(*Store)

// WithVerifier requires every load to carry a valid detached signature at
// path+SignatureSuffix.
func WithVerifier(v *Verifier) StoreOption {
	return func(s *Store) {
		s.verifier = v
	}
}

// Open loads the initial configuration. Any failure here is fatal to the
// caller: there is no last-good config to fall back to.
func Open(ctx context.Context, path string, opts ...StoreOption) (*Store, error) {
	s := &Store{path: path}
	for _, opt := range opts {
		opt(s)
	}
	cfg, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	return s, nil
}

// NewStatic returns a Store holding cfg that never reloads from disk.
func NewStatic(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Current returns the live configuration snapshot.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Reload re-reads the backing file. On failure the previous configuration
// stays active and the error is returned for the caller to report.
func (s *Store) Reload(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	cfg, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}

func (s *Store) load(ctx context.Context) (*Config, error) {
	data, err := ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if s.verifier != nil {
		if err := s.verifier.Verify(ctx, data, s.path+SignatureSuffix); err != nil {
			return nil, fmt.Errorf("verify config %q: %w", s.path, err)
		}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", s.path, err)
	}
	return cfg, nil
}
