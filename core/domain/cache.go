package domain

import "time"

// UserType distinguishes a human collaborator from an automation account in
// the workspace's Users database.
type UserType string

const (
	UserTypePerson UserType = "person"
	UserTypeBot    UserType = "bot"
)

// WorkspaceUser is one cached row from the Users database.
type WorkspaceUser struct {
	UserID string
	Name   string
	Type   UserType
	Email  string
}

// Company is one cached row from the Companies database.
type Company struct {
	ID            string
	CanonicalName string
	IsPortfolio   bool
	IsAffiliate   bool
}

// CacheMeta is the TTL metadata every file-backed cache carries alongside
// its payload.
type CacheMeta struct {
	CachedAt   time.Time
	TTLSeconds int64
}

// Expired reports whether the cache should be treated as stale and
// refetched on next read (lazy invalidation).
func (m CacheMeta) Expired(now time.Time) bool {
	if m.TTLSeconds <= 0 {
		return true
	}
	return now.Sub(m.CachedAt) >= time.Duration(m.TTLSeconds)*time.Second
}

const (
	UsersCacheTTLSeconds     = 24 * 60 * 60
	CompaniesCacheTTLSeconds = 6 * 60 * 60
	SchemaCacheTTLSeconds    = 24 * 60 * 60
)

// UsersCache is the persisted shape of data/cache/users.json.
type UsersCache struct {
	Meta  CacheMeta
	Users map[string]WorkspaceUser
}

// CompaniesCache is the persisted shape of data/cache/companies.json.
type CompaniesCache struct {
	Meta      CacheMeta
	Companies map[string]Company
}

// SchemaProperty describes one property of a workspace database, enough to
// drive the field mapper's validation rules (§4.9).
type SchemaProperty struct {
	Name string
	Type string // title, rich_text, number, select, relation, date
}

// DatabaseSchema is one database's discovered property set.
type DatabaseSchema struct {
	DatabaseID string
	Properties map[string]SchemaProperty
}

// WorkspaceSchema is the depth-1-resolved schema of all three databases the
// pipeline touches, cached 24h.
type WorkspaceSchema struct {
	Meta        CacheMeta
	Companies   DatabaseSchema
	Users       DatabaseSchema
	Collabs     DatabaseSchema
}
