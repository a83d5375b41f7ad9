// Package state is the key/value layer under the authority. Committed state
// lives in badger; each command executes against a Cache whose writes reach
// the block transaction only when the command succeeds.
package state

import (
	"errors"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Reader reads keys. A missing key yields a nil value and a nil error.
type Reader interface {
	Get(key []byte) ([]byte, error)
}

// Store is a readable and writable key space.
type Store interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
}

// MemStore is a map-backed Store used by tests and genesis validation.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

func (m *MemStore) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (m *MemStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Keys returns all keys in sorted order.
func (m *MemStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BadgerTxn adapts a badger transaction. Read-only transactions from
// DB.View may be wrapped too; writes on them fail with badger's error.
type BadgerTxn struct {
	txn *badger.Txn
}

func NewBadgerTxn(txn *badger.Txn) *BadgerTxn {
	return &BadgerTxn{txn: txn}
}

func (b *BadgerTxn) Get(key []byte) ([]byte, error) {
	item, err := b.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *BadgerTxn) Set(key, value []byte) error {
	return b.txn.Set(key, value)
}

func (b *BadgerTxn) Delete(key []byte) error {
	return b.txn.Delete(key)
}

// Cache buffers writes over a parent store. Nothing reaches the parent until
// Write is called; dropping the Cache discards every change.
type Cache struct {
	parent Store
	writes map[string][]byte
	// deleted keys are tracked separately so a Get after Delete does not fall
	// through to the parent.
	deleted map[string]struct{}
}

func NewCache(parent Store) *Cache {
	return &Cache{
		parent:  parent,
		writes:  make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (c *Cache) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, gone := c.deleted[k]; gone {
		return nil, nil
	}
	if v, ok := c.writes[k]; ok {
		return append([]byte{}, v...), nil
	}
	return c.parent.Get(key)
}

func (c *Cache) Set(key, value []byte) error {
	k := string(key)
	delete(c.deleted, k)
	c.writes[k] = append([]byte{}, value...)
	return nil
}

func (c *Cache) Delete(key []byte) error {
	k := string(key)
	delete(c.writes, k)
	c.deleted[k] = struct{}{}
	return nil
}

// Dirty reports whether the cache holds pending changes.
func (c *Cache) Dirty() bool {
	return len(c.writes) > 0 || len(c.deleted) > 0
}

// Write flushes buffered changes to the parent in sorted key order and resets
// the cache.
func (c *Cache) Write() error {
	keys := make([]string, 0, len(c.writes)+len(c.deleted))
	for k := range c.writes {
		keys = append(keys, k)
	}
	for k := range c.deleted {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if v, ok := c.writes[k]; ok {
			if err := c.parent.Set([]byte(k), v); err != nil {
				return err
			}
			continue
		}
		if err := c.parent.Delete([]byte(k)); err != nil {
			return err
		}
	}
	c.writes = make(map[string][]byte)
	c.deleted = make(map[string]struct{})
	return nil
}
