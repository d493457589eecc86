package out

import (
	"context"

	"collabiq/core/domain"
)

// WorkspaceReader discovers schema and fetches Companies/Users rows (§4.7).
type WorkspaceReader interface {
	Schema(ctx context.Context) (domain.WorkspaceSchema, error)
	Companies(ctx context.Context) (map[string]domain.Company, error)
	Users(ctx context.Context) (map[string]domain.WorkspaceUser, error)
}

// PageWrite is the payload C9 builds and C10 POSTs/PATCHes.
type PageWrite struct {
	DatabaseID string
	Properties map[string]any
}

// WorkspaceWriter performs the create/update/query operations the writer
// (C10) needs against the Collaborations database and the Companies
// database (for auto-creation).
type WorkspaceWriter interface {
	// QueryByMessageID returns the existing page id for messageID, if any.
	QueryByMessageID(ctx context.Context, databaseID, messageID string) (pageID string, found bool, err error)
	CreatePage(ctx context.Context, write PageWrite) (pageID string, err error)
	UpdatePage(ctx context.Context, pageID string, write PageWrite) error
	// CreateCompany auto-creates a Companies row with title=name.
	CreateCompany(ctx context.Context, name string) (pageID string, err error)
}
