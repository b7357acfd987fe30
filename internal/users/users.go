// Package users maintains the in-memory source-address → user mapping that
// the query handler consults on every packet, plus a last-seen map consumed
// by the control plane's device-status endpoint.
//
// Reads are wait-free in the common case (a map read under a read lock);
// writes come from the control plane (upsert/remove) or from the data path
// itself (touch on every query). The cache is authoritative for the data
// path even when the durable store it was hydrated from is unreachable.
package users

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

// Cached is a snapshot of one device's identity, keyed by its tunnel address.
type Cached struct {
	UserID        string
	WalletAddress string
	DeviceID      string
	VPNAddr       netip.Addr
}

// Store is the data source consulted at boot to hydrate the cache.
type Store interface {
	LoadDevices(ctx context.Context) ([]Cached, error)
}

// Cache maps tunnel-side addresses to cached user/device identity.
type Cache struct {
	mu   sync.RWMutex
	byIP map[netip.Addr]Cached

	seenMu sync.RWMutex
	seen   map[string]time.Time // device id -> last query instant
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		byIP: make(map[netip.Addr]Cached),
		seen: make(map[string]time.Time),
	}
}

// Lookup returns a snapshot of the cached user for addr, if any.
func (c *Cache) Lookup(addr netip.Addr) (Cached, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.byIP[addr]
	return u, ok
}

// Upsert inserts or replaces the entry for u.VPNAddr.
func (c *Cache) Upsert(u Cached) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byIP[u.VPNAddr] = u
}

// Remove deletes the entry for addr, if present.
func (c *Cache) Remove(addr netip.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byIP, addr)
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byIP)
}

// Hydrate populates the cache from the durable store. Failure is non-fatal:
// the caller is expected to log and continue with whatever was loaded
// (possibly nothing) before this call returned an error.
func (c *Cache) Hydrate(ctx context.Context, store Store, logger *slog.Logger) error {
	devices, err := store.LoadDevices(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.byIP = make(map[netip.Addr]Cached, len(devices))
	for _, d := range devices {
		c.byIP[d.VPNAddr] = d
	}
	n := len(c.byIP)
	c.mu.Unlock()

	if logger != nil {
		logger.Info("user cache hydrated", "devices", n)
	}
	return nil
}

// Touch records now as the last instant a query was observed for deviceID.
func (c *Cache) Touch(deviceID string, now time.Time) {
	if deviceID == "" {
		return
	}
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	c.seen[deviceID] = now
}

// LastSeenAt returns the last-seen instant for deviceID, if known.
func (c *Cache) LastSeenAt(deviceID string) (time.Time, bool) {
	c.seenMu.RLock()
	defer c.seenMu.RUnlock()
	t, ok := c.seen[deviceID]
	return t, ok
}

// IsConnected reports whether deviceID was last seen within the last
// `minutes` minutes.
func (c *Cache) IsConnected(deviceID string, minutes float64) bool {
	t, ok := c.LastSeenAt(deviceID)
	if !ok {
		return false
	}
	return time.Since(t).Minutes() < minutes
}
