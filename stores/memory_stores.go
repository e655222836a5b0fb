package stores

import (
	"context"
	"sort"
	"sync"

	"github.com/oarkflow/searchauthz"
)

// MemoryAuditStore keeps audit entries in memory, mainly for tests and
// development setups.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*searchauthz.AuditEntry
	nextID  int64
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{nextID: 1}
}

func (m *MemoryAuditStore) Record(_ context.Context, entry *searchauthz.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *entry
	c.ID = m.nextID
	m.nextID++
	m.entries = append(m.entries, &c)
	return nil
}

func (m *MemoryAuditStore) Query(_ context.Context, filter searchauthz.AuditFilter) ([]*searchauthz.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*searchauthz.AuditEntry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if filter.User != "" && e.User != filter.User {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		c := *e
		out = append(out, &c)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryAuditStore) Close() error { return nil }

// MemoryClusterMetadata is an in-memory view of cluster topology. It is safe
// for concurrent use; the host updates it as indices and aliases change.
type MemoryClusterMetadata struct {
	mu      sync.RWMutex
	indices map[string]bool
	aliases map[string][]string
}

func NewMemoryClusterMetadata(indices ...string) *MemoryClusterMetadata {
	m := &MemoryClusterMetadata{
		indices: make(map[string]bool, len(indices)),
		aliases: make(map[string][]string),
	}
	for _, idx := range indices {
		m.indices[idx] = true
	}
	return m
}

func (m *MemoryClusterMetadata) AddIndex(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indices[name] = true
}

func (m *MemoryClusterMetadata) RemoveIndex(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indices, name)
}

func (m *MemoryClusterMetadata) SetAlias(alias string, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(members) == 0 {
		delete(m.aliases, alias)
		return
	}
	m.aliases[alias] = append([]string(nil), members...)
}

func (m *MemoryClusterMetadata) IndexNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.indices))
	for name := range m.indices {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryClusterMetadata) ResolveAlias(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members, ok := m.aliases[name]
	if !ok {
		return nil
	}
	return append([]string(nil), members...)
}
