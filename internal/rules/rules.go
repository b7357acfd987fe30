// Package rules maintains the per-user set of blocked registrable domains,
// enforcing hierarchical suffix matching: blocking "example.com" also blocks
// "a.example.com" and "a.b.example.com".
//
// Each user's set is a *filtering.DomainTrie, built fresh and swapped in
// wholesale on replace, so a concurrent reader during a replace observes
// either the prior or the new trie pointer and never a partially merged one.
package rules

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/techno-hippies/heavengate/internal/filtering"
)

// Store is the data source consulted at boot to hydrate the cache.
type Store interface {
	LoadRules(ctx context.Context) (map[string][]string, error) // user id -> domains
}

// userRules is one user's block list: a trie for fast hierarchical lookup
// plus the normalised domain list it was built from, for enumeration.
type userRules struct {
	trie    *filtering.DomainTrie
	domains []string
}

// Cache is the per-user blocked-domain cache.
type Cache struct {
	mu     sync.RWMutex
	byUser map[string]userRules
}

// New returns an empty rules cache.
func New() *Cache {
	return &Cache{byUser: make(map[string]userRules)}
}

func buildUserRules(domains []string) userRules {
	trie := filtering.NewDomainTrie()
	normalised := make([]string, 0, len(domains))
	for _, d := range domains {
		d = normalize(d)
		if d == "" {
			continue
		}
		trie.Add(d, true)
		normalised = append(normalised, d)
	}
	return userRules{trie: trie, domains: normalised}
}

// Hydrate populates the cache from the durable store. Failure is non-fatal.
func (c *Cache) Hydrate(ctx context.Context, store Store, logger *slog.Logger) error {
	rows, err := store.LoadRules(ctx)
	if err != nil {
		return err
	}

	byUser := make(map[string]userRules, len(rows))
	total := 0
	for userID, domains := range rows {
		ur := buildUserRules(domains)
		byUser[userID] = ur
		total += len(ur.domains)
	}

	c.mu.Lock()
	c.byUser = byUser
	c.mu.Unlock()

	if logger != nil {
		logger.Info("rules cache hydrated", "users", len(byUser), "total_rules", total)
	}
	return nil
}

// IsBlocked reports whether name (or any of its parent domains) is blocked
// for userID. Comparisons are case-insensitive; the root label is never
// considered a suffix match.
func (c *Cache) IsBlocked(userID, name string) bool {
	c.mu.RLock()
	ur, ok := c.byUser[userID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return ur.trie.Contains(name)
}

// List returns the normalised domains blocked for userID.
func (c *Cache) List(userID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ur, ok := c.byUser[userID]
	if !ok {
		return nil
	}
	out := make([]string, len(ur.domains))
	copy(out, ur.domains)
	return out
}

// Replace atomically swaps userID's blocked set with domains, after
// normalising (trim, lowercase, drop empties). Concurrent readers observe
// either the prior userRules value or the new one, never a partial merge,
// because the map entry is replaced wholesale under the lock.
func (c *Cache) Replace(userID string, domains []string) {
	ur := buildUserRules(domains)

	c.mu.Lock()
	c.byUser[userID] = ur
	c.mu.Unlock()
}

func normalize(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
