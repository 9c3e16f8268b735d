// Package cache holds the daemon's belief about which addresses are
// authorized on the remote side and under which authorization id.
package cache

import (
	"sync"

	"github.com/bcnelson/ipauth-sync/internal/domain"
)

// Cache maps an address to its known remote authorization id. An empty id
// means the address should be authorized but no id is known yet.
//
// The reconciler is the only writer. The mutex exists for the status API,
// which reads snapshots from HTTP handlers.
type Cache struct {
	mu      sync.RWMutex
	entries map[domain.Address]string
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[domain.Address]string)}
}

// Upsert inserts or updates the entry for addr.
func (c *Cache) Upsert(addr domain.Address, authorizationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[addr] = authorizationID
}

// Remove deletes the entry for addr. Absent addresses are ignored.
func (c *Cache) Remove(addr domain.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, addr)
}

// Lookup returns the authorization id for addr. The id is empty when the
// address is tracked without a known id; ok is false when it is not tracked.
func (c *Cache) Lookup(addr domain.Address) (id string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok = c.entries[addr]
	return id, ok
}

// Addresses returns the set of tracked addresses.
func (c *Cache) Addresses() domain.AddressSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(domain.AddressSet, len(c.entries))
	for a := range c.entries {
		out.Add(a)
	}
	return out
}

// Pending returns tracked addresses that have no authorization id.
func (c *Cache) Pending() domain.AddressSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(domain.AddressSet)
	for a, id := range c.entries {
		if id == "" {
			out.Add(a)
		}
	}
	return out
}

// Len returns the number of tracked addresses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns the entries sorted by address.
func (c *Cache) Snapshot() []domain.CacheEntry {
	addrs := c.Addresses().Sorted()

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.CacheEntry, 0, len(addrs))
	for _, a := range addrs {
		id, ok := c.entries[a]
		if !ok {
			continue
		}
		out = append(out, domain.CacheEntry{Address: string(a), AuthorizationID: id})
	}
	return out
}
