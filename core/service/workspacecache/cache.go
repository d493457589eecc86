// Package workspacecache wraps a WorkspaceReader with file-backed,
// TTL-invalidated caches for schema, companies, and users (§4.7),
// deduplicating concurrent refreshes with singleflight the way the
// teacher's bootstrap layer dedupes concurrent config loads.
package workspacecache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/atomicfile"
)

// Cache is a caching decorator over a WorkspaceReader.
type Cache struct {
	reader out.WorkspaceReader

	schemaPath    string
	companiesPath string
	usersPath     string

	group singleflight.Group
}

// New wraps reader with caches persisted under cacheDir.
func New(reader out.WorkspaceReader, cacheDir string) *Cache {
	return &Cache{
		reader:        reader,
		schemaPath:    cacheDir + "/schema.json",
		companiesPath: cacheDir + "/companies.json",
		usersPath:     cacheDir + "/users.json",
	}
}

// Schema returns the cached schema, refreshing if stale.
func (c *Cache) Schema(ctx context.Context) (domain.WorkspaceSchema, error) {
	var cached domain.WorkspaceSchema
	if err := atomicfile.ReadJSON(c.schemaPath, &cached); err == nil && !cached.Meta.Expired(time.Now()) {
		return cached, nil
	}

	v, err, _ := c.group.Do("schema", func() (any, error) {
		fresh, err := c.reader.Schema(ctx)
		if err != nil {
			return domain.WorkspaceSchema{}, err
		}
		fresh.Meta = domain.CacheMeta{CachedAt: time.Now(), TTLSeconds: domain.SchemaCacheTTLSeconds}
		_ = atomicfile.WriteJSON(c.schemaPath, fresh)
		return fresh, nil
	})
	if err != nil {
		if cached.Companies.DatabaseID != "" {
			return cached, nil // stale data beats no data on a failed refetch
		}
		return domain.WorkspaceSchema{}, err
	}
	return v.(domain.WorkspaceSchema), nil
}

type companiesSnapshot struct {
	Meta      domain.CacheMeta
	Companies map[string]domain.Company
}

// Companies returns the cached companies map, refreshing if stale.
func (c *Cache) Companies(ctx context.Context) (map[string]domain.Company, error) {
	var cached companiesSnapshot
	if err := atomicfile.ReadJSON(c.companiesPath, &cached); err == nil && !cached.Meta.Expired(time.Now()) && cached.Companies != nil {
		return cached.Companies, nil
	}

	v, err, _ := c.group.Do("companies", func() (any, error) {
		fresh, err := c.reader.Companies(ctx)
		if err != nil {
			return map[string]domain.Company(nil), err
		}
		snap := companiesSnapshot{Meta: domain.CacheMeta{CachedAt: time.Now(), TTLSeconds: domain.CompaniesCacheTTLSeconds}, Companies: fresh}
		_ = atomicfile.WriteJSON(c.companiesPath, snap)
		return fresh, nil
	})
	if err != nil {
		if cached.Companies != nil {
			return cached.Companies, nil
		}
		return nil, err
	}
	return v.(map[string]domain.Company), nil
}

type usersSnapshot struct {
	Meta  domain.CacheMeta
	Users map[string]domain.WorkspaceUser
}

// Users returns the cached users map, refreshing if stale.
func (c *Cache) Users(ctx context.Context) (map[string]domain.WorkspaceUser, error) {
	var cached usersSnapshot
	if err := atomicfile.ReadJSON(c.usersPath, &cached); err == nil && !cached.Meta.Expired(time.Now()) && cached.Users != nil {
		return cached.Users, nil
	}

	v, err, _ := c.group.Do("users", func() (any, error) {
		fresh, err := c.reader.Users(ctx)
		if err != nil {
			return map[string]domain.WorkspaceUser(nil), err
		}
		snap := usersSnapshot{Meta: domain.CacheMeta{CachedAt: time.Now(), TTLSeconds: domain.UsersCacheTTLSeconds}, Users: fresh}
		_ = atomicfile.WriteJSON(c.usersPath, snap)
		return fresh, nil
	})
	if err != nil {
		if cached.Users != nil {
			return cached.Users, nil
		}
		return nil, err
	}
	return v.(map[string]domain.WorkspaceUser), nil
}

// InvalidateCompanies forces the next Companies call to refetch, used
// after an auto-create so the new row is immediately matchable.
func (c *Cache) InvalidateCompanies() {
	_ = atomicfile.WriteJSON(c.companiesPath, companiesSnapshot{})
}
