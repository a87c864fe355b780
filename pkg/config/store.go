// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"fmt"
	"sync/atomic"
)

// Store is a lock-free, concurrently-readable config cell: readers on the
// scheduler's hot path call Load without blocking a writer that's mid-swap,
// and a config subscriber calls Store to publish a new revision atomically.
// This replaces the reference implementation's `static mut GLOBAL_CONFIG`
// behind an `unsafe` block with sync/atomic.Pointer, the idiomatic Go
// analogue of an Arc-swap cell.
type Store struct {
	ptr atomic.Pointer[Config]
}

// NewStore returns a Store seeded with initial (defaults already applied).
func NewStore(initial Config) *Store {
	s := &Store{}
	s.Store(initial)
	return s
}

// Load returns the current configuration. Safe for concurrent use with
// Store from any number of goroutines.
func (s *Store) Load() (Config, error) {
	p := s.ptr.Load()
	if p == nil {
		return Config{}, fmt.Errorf("config: store has no configuration loaded")
	}
	return *p, nil
}

// Store atomically replaces the current configuration with cfg.
func (s *Store) Store(cfg Config) {
	s.ptr.Store(&cfg)
}
