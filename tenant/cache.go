package tenant

import (
	"github.com/tractionboard/traction-go/tokenstore"
)

// Well-known cache entry keys.
const (
	CacheKeyTheme = "theme"
)

// Cache is the tenant-scoped client cache (presentation theme and friends).
// Every lookup is keyed by the tenant id that is active right now, read
// from the store at call time. A tenant switch therefore misses naturally:
// entries written under the previous tenant stay on disk but are never
// served under the new one.
type Cache struct {
	store tokenstore.Store
}

func NewCache(store tokenstore.Store) *Cache {
	return &Cache{store: store}
}

func (c *Cache) activeTenant() string {
	id, _ := c.store.Value(tokenstore.KeyActiveOrgID)
	return id
}

// Get returns the entry for the current active tenant, if present.
func (c *Cache) Get(key string) (string, bool) {
	tenantID := c.activeTenant()
	if tenantID == "" {
		return "", false
	}
	return c.store.TenantValue(tenantID, key)
}

// Set writes an entry under the current active tenant.
func (c *Cache) Set(key, value string) error {
	tenantID := c.activeTenant()
	if tenantID == "" {
		return nil
	}
	return c.store.SetTenantValue(tenantID, key, value)
}

// Invalidate drops every entry cached for the given tenant.
func (c *Cache) Invalidate(tenantID string) error {
	return c.store.ClearTenant(tenantID)
}
