package workspace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"collabiq/core/port/out"
	"collabiq/internal/apperr"
	"collabiq/internal/httputil"
	"collabiq/internal/ratelimit"
	"collabiq/internal/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		BaseURL:       srv.URL,
		Token:         "test-token",
		CompaniesDBID: "companies-db",
		UsersDBID:     "users-db",
		CollabsDBID:   "collabs-db",
	}, httputil.NewRegistry(), ratelimit.New(nil, ratelimit.Config{RequestsPerSecond: 1000, BurstSize: 1000}), resilience.NewRegistry())
}

func TestCompaniesPaginatesAcrossPages(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode(queryResponse{
				Results: []pageObject{{
					ID: "c1",
					Properties: map[string]propertyValue{
						"Name":      {Title: []richText{{PlainText: "Acme"}}},
						"Portfolio": {Select: &selectOption{Name: "Yes"}},
					},
				}},
				HasMore:    true,
				NextCursor: "cursor-2",
			})
			return
		}
		json.NewEncoder(w).Encode(queryResponse{
			Results: []pageObject{{
				ID:         "c2",
				Properties: map[string]propertyValue{"Name": {Title: []richText{{PlainText: "Beta"}}}},
			}},
			HasMore: false,
		})
	})

	companies, err := c.Companies(context.Background())
	if err != nil {
		t.Fatalf("Companies: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 paginated requests, got %d", calls)
	}
	if companies["c1"].CanonicalName != "Acme" || !companies["c1"].IsPortfolio {
		t.Errorf("got %+v", companies["c1"])
	}
	if companies["c2"].CanonicalName != "Beta" {
		t.Errorf("got %+v", companies["c2"])
	}
}

func TestUsersMarksBotType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queryResponse{
			Results: []pageObject{
				{ID: "u1", Properties: map[string]propertyValue{"Name": {Title: []richText{{PlainText: "Alice"}}}}},
				{ID: "u2", Properties: map[string]propertyValue{
					"Name": {Title: []richText{{PlainText: "Bot"}}},
					"Type": {Select: &selectOption{Name: "bot"}},
				}},
			},
		})
	})

	users, err := c.Users(context.Background())
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if users["u1"].Type != "person" {
		t.Errorf("got %+v", users["u1"])
	}
	if users["u2"].Type != "bot" {
		t.Errorf("got %+v", users["u2"])
	}
}

func TestQueryByMessageIDFindsExistingPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queryResponse{Results: []pageObject{{ID: "p1"}}})
	})

	id, found, err := c.QueryByMessageID(context.Background(), "collabs-db", "m1")
	if err != nil {
		t.Fatalf("QueryByMessageID: %v", err)
	}
	if !found || id != "p1" {
		t.Errorf("got id=%q found=%v", id, found)
	}
}

func TestQueryByMessageIDReturnsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queryResponse{Results: nil})
	})

	_, found, err := c.QueryByMessageID(context.Background(), "collabs-db", "m1")
	if err != nil {
		t.Fatalf("QueryByMessageID: %v", err)
	}
	if found {
		t.Error("expected found=false for an empty result set")
	}
}

func TestCreatePageReturnsNewPageID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("expected a generated idempotency key on create")
		}
		json.NewEncoder(w).Encode(pageObject{ID: "new-page"})
	})

	id, err := c.CreatePage(context.Background(), out.PageWrite{DatabaseID: "collabs-db", Properties: map[string]any{}})
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	if id != "new-page" {
		t.Errorf("got %q", id)
	}
}

func TestUpdatePageSendsPatch(t *testing.T) {
	var method string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		json.NewEncoder(w).Encode(pageObject{})
	})

	if err := c.UpdatePage(context.Background(), "p1", out.PageWrite{Properties: map[string]any{}}); err != nil {
		t.Fatalf("UpdatePage: %v", err)
	}
	if method != http.MethodPatch {
		t.Errorf("got method %q", method)
	}
}

func TestCreateCompanyBuildsTitleProperty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body createPageRequest
		json.NewDecoder(r.Body).Decode(&body)
		if body.Parent["database_id"] != "companies-db" {
			t.Errorf("expected the new page to target the companies database, got %+v", body.Parent)
		}
		json.NewEncoder(w).Encode(pageObject{ID: "new-company"})
	})

	id, err := c.CreateCompany(context.Background(), "New Co")
	if err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	if id != "new-company" {
		t.Errorf("got %q", id)
	}
}

func TestDoClassifiesServerErrorAsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, _, err := c.QueryByMessageID(context.Background(), "collabs-db", "m1")
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if apperr.CategoryOf(err) != apperr.Transient {
		t.Errorf("expected Transient, got %s", apperr.CategoryOf(err))
	}
}
