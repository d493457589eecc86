package workspacecache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"collabiq/core/domain"
)

type fakeReader struct {
	schema       domain.WorkspaceSchema
	companies    map[string]domain.Company
	users        map[string]domain.WorkspaceUser
	schemaCalls  int
	companyCalls int
	userCalls    int
	err          error
}

func (f *fakeReader) Schema(ctx context.Context) (domain.WorkspaceSchema, error) {
	f.schemaCalls++
	if f.err != nil {
		return domain.WorkspaceSchema{}, f.err
	}
	return f.schema, nil
}

func (f *fakeReader) Companies(ctx context.Context) (map[string]domain.Company, error) {
	f.companyCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.companies, nil
}

func (f *fakeReader) Users(ctx context.Context) (map[string]domain.WorkspaceUser, error) {
	f.userCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.users, nil
}

func TestCompaniesRefetchesOnFirstCallThenUsesCache(t *testing.T) {
	reader := &fakeReader{companies: map[string]domain.Company{"p1": {CanonicalName: "Acme"}}}
	c := New(reader, t.TempDir())
	ctx := context.Background()

	if _, err := c.Companies(ctx); err != nil {
		t.Fatalf("Companies: %v", err)
	}
	if _, err := c.Companies(ctx); err != nil {
		t.Fatalf("Companies: %v", err)
	}
	if reader.companyCalls != 1 {
		t.Errorf("expected the reader to be called once (second call served from cache), got %d", reader.companyCalls)
	}
}

func TestCompaniesRefetchErrorAfterInvalidationIsReturned(t *testing.T) {
	reader := &fakeReader{companies: map[string]domain.Company{"p1": {CanonicalName: "Acme"}}}
	c := New(reader, t.TempDir())
	ctx := context.Background()

	if _, err := c.Companies(ctx); err != nil {
		t.Fatalf("Companies: %v", err)
	}

	c.InvalidateCompanies()
	reader.err = errors.New("workspace unavailable")

	got, err := c.Companies(ctx)
	if err == nil {
		t.Fatal("expected an error since the invalidated cache has no stale data to fall back to")
	}
	_ = got
}

func TestInvalidateCompaniesForcesRefetch(t *testing.T) {
	reader := &fakeReader{companies: map[string]domain.Company{"p1": {CanonicalName: "Acme"}}}
	c := New(reader, t.TempDir())
	ctx := context.Background()

	if _, err := c.Companies(ctx); err != nil {
		t.Fatalf("Companies: %v", err)
	}
	c.InvalidateCompanies()
	reader.companies = map[string]domain.Company{"p2": {CanonicalName: "NewCo"}}

	got, err := c.Companies(ctx)
	if err != nil {
		t.Fatalf("Companies: %v", err)
	}
	if _, ok := got["p2"]; !ok {
		t.Errorf("expected the refetched data after invalidation, got %+v", got)
	}
	if reader.companyCalls != 2 {
		t.Errorf("expected a second reader call after invalidation, got %d", reader.companyCalls)
	}
}

func TestUsersCaches(t *testing.T) {
	reader := &fakeReader{users: map[string]domain.WorkspaceUser{"u1": {Name: "Jane"}}}
	c := New(reader, t.TempDir())
	ctx := context.Background()

	c.Users(ctx)
	c.Users(ctx)
	if reader.userCalls != 1 {
		t.Errorf("expected the reader to be called once, got %d", reader.userCalls)
	}
}

func TestSchemaCaches(t *testing.T) {
	reader := &fakeReader{schema: domain.WorkspaceSchema{Companies: domain.DatabaseSchema{DatabaseID: "db1"}}}
	c := New(reader, filepath.Join(t.TempDir()))
	ctx := context.Background()

	s1, err := c.Schema(ctx)
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	if s1.Companies.DatabaseID != "db1" {
		t.Errorf("got %+v", s1)
	}
	c.Schema(ctx)
	if reader.schemaCalls != 1 {
		t.Errorf("expected the reader to be called once, got %d", reader.schemaCalls)
	}
}
