package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/Skryldev/asset-manager/core"
)

type entry struct {
	asset *core.Asset
	tags  Tags
}

// Memory is a resident Storage.  Filters scan every entry.  It is safe for
// concurrent use.
type Memory[K comparable] struct {
	mu      sync.RWMutex
	order   []K
	entries map[K]entry
}

func NewMemory[K comparable]() *Memory[K] {
	return &Memory[K]{entries: make(map[K]entry)}
}

func (m *Memory[K]) Set(ctx context.Context, key K, a *core.Asset, tags Tags) error {
	if err := checkContext(ctx, "memory.set"); err != nil {
		return err
	}
	if err := checkAsset("memory.set", a); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, a, tags)
	return nil
}

func (m *Memory[K]) set(key K, a *core.Asset, tags Tags) {
	if _, ok := m.entries[key]; !ok {
		m.order = append(m.order, key)
	}
	m.entries[key] = entry{asset: a, tags: tags.Clone()}
}

func (m *Memory[K]) Get(ctx context.Context, key K) (*core.Asset, Tags, error) {
	if err := checkContext(ctx, "memory.get"); err != nil {
		return nil, nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil, keyNotFound("memory.get", key)
	}
	return e.asset, e.tags.Clone(), nil
}

func (m *Memory[K]) Delete(ctx context.Context, key K) error {
	if err := checkContext(ctx, "memory.delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.delete(key) {
		return keyNotFound("memory.delete", key)
	}
	return nil
}

func (m *Memory[K]) delete(key K) bool {
	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	m.order = slices.DeleteFunc(m.order, func(k K) bool { return k == key })
	return true
}

func (m *Memory[K]) Contains(ctx context.Context, key K) (bool, error) {
	if err := checkContext(ctx, "memory.contains"); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *Memory[K]) Keys(ctx context.Context) ([]K, error) {
	if err := checkContext(ctx, "memory.keys"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order), nil
}

func (m *Memory[K]) Len(ctx context.Context) (int, error) {
	if err := checkContext(ctx, "memory.len"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}

func (m *Memory[K]) Filter(ctx context.Context, p Predicate) ([]K, error) {
	if err := checkContext(ctx, "memory.filter"); err != nil {
		return nil, err
	}
	if err := checkPredicate("memory.filter", p); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scan(func(e entry) bool { return p.Match(e.asset.Metadata()) }), nil
}

func (m *Memory[K]) FilterByTags(ctx context.Context, tags Tags, mode TagMatch) ([]K, error) {
	if err := checkContext(ctx, "memory.filter_tags"); err != nil {
		return nil, err
	}
	if !mode.valid() {
		return nil, invalidMatch("memory.filter_tags", mode)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scan(func(e entry) bool { return mode.Matches(e.tags, tags) }), nil
}

func (m *Memory[K]) scan(keep func(entry) bool) []K {
	out := []K{}
	for _, k := range m.order {
		if keep(m.entries[k]) {
			out = append(out, k)
		}
	}
	return out
}

func (m *Memory[K]) Close() error { return nil }

// snapshot and restore let a persisting wrapper roll back a failed
// mutation.  Assets are immutable, so a shallow copy suffices.
func (m *Memory[K]) snapshot() ([]K, map[K]entry) {
	entries := make(map[K]entry, len(m.entries))
	for k, e := range m.entries {
		entries[k] = e
	}
	return slices.Clone(m.order), entries
}

func (m *Memory[K]) restore(order []K, entries map[K]entry) {
	m.order, m.entries = order, entries
}

var _ Storage[string] = (*Memory[string])(nil)
