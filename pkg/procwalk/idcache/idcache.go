// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package idcache caches a process's uid_map/gid_map file contents keyed by
// (pid, generation), so a long-lived container's namespace id maps —
// immutable from the moment a process unshares its user namespace — are
// read from /proc once per process lifetime rather than once per scheduler
// tick. Grounded on the teacher's pkg/resource/store's use of
// github.com/dgraph-io/badger/v4 as an embedded KV store.
package idcache

import (
	"errors"
	"fmt"

	"github.com/antimetal/netagent/pkg/common"
	badger "github.com/dgraph-io/badger/v4"
)

// Cache is an embedded, disk-backed (or in-memory, for tests) KV cache of
// raw uid_map/gid_map file contents.
type Cache struct {
	db *badger.DB
}

// Open opens (creating if absent) a cache rooted at dir. An empty dir opens
// an in-memory instance, useful for tests and for agents that don't want
// cache state to survive a restart.
func Open(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("idcache: open: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Generation identifies one version of a process's identity: the pid alone
// is not enough, since the kernel recycles pids. Callers should derive this
// from something that changes across pid reuse, such as the process start
// time reported in /proc/<pid>/stat.
type Generation uint64

func key(kind string, pid common.Pid, gen Generation) []byte {
	return []byte(fmt.Sprintf("%s/%d/%d", kind, pid, gen))
}

// GetUidMap returns the cached raw contents of /proc/<pid>/uid_map for the
// given generation, if present.
func (c *Cache) GetUidMap(pid common.Pid, gen Generation) ([]byte, bool) {
	return c.get(key("uid_map", pid, gen))
}

// PutUidMap caches raw as the contents of /proc/<pid>/uid_map for the given
// generation.
func (c *Cache) PutUidMap(pid common.Pid, gen Generation, raw []byte) error {
	return c.put(key("uid_map", pid, gen), raw)
}

// GetGidMap returns the cached raw contents of /proc/<pid>/gid_map for the
// given generation, if present.
func (c *Cache) GetGidMap(pid common.Pid, gen Generation) ([]byte, bool) {
	return c.get(key("gid_map", pid, gen))
}

// PutGidMap caches raw as the contents of /proc/<pid>/gid_map for the given
// generation.
func (c *Cache) PutGidMap(pid common.Pid, gen Generation, raw []byte) error {
	return c.put(key("gid_map", pid, gen), raw)
}

func (c *Cache) get(k []byte) ([]byte, bool) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *Cache) put(k, v []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}
