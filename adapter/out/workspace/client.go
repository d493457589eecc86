// Package workspace implements the workspace API client (C7/C10): a REST
// client over databases.query/retrieve, pages.create/update, and
// users.list, rate-limited to 3 req/s and wrapped in the shared retry +
// circuit-breaker layer.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"collabiq/core/domain"
	"collabiq/core/port/out"
	"collabiq/internal/apperr"
	"collabiq/internal/httputil"
	"collabiq/internal/ratelimit"
	"collabiq/internal/resilience"
)

const breakerKey = "workspace"

// Client talks to the workspace REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *resilience.Breaker

	companiesDBID string
	usersDBID     string
	collabsDBID   string
}

// Config configures a Client.
type Config struct {
	BaseURL       string
	Token         string
	CompaniesDBID string
	UsersDBID     string
	CollabsDBID   string
}

// New constructs a workspace Client. registry supplies the pooled HTTP
// client, limiter enforces the token bucket, breakers is the shared
// per-service breaker registry.
func New(cfg Config, registry *httputil.Registry, limiter *ratelimit.Limiter, breakers *resilience.Registry) *Client {
	return &Client{
		baseURL:       cfg.BaseURL,
		token:         cfg.Token,
		httpClient:    registry.Get(httputil.WorkspaceClientConfig()),
		limiter:       limiter,
		breaker:       breakers.Get(breakerKey),
		companiesDBID: cfg.CompaniesDBID,
		usersDBID:     cfg.UsersDBID,
		collabsDBID:   cfg.CollabsDBID,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx, "workspace"); err != nil {
		return nil, err
	}
	if !c.breaker.Allow() {
		return nil, apperr.NewTransient(breakerKey, "circuit breaker is open", nil)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, apperr.NewPermanent(breakerKey, "failed to marshal request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperr.NewPermanent(breakerKey, "failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost || method == http.MethodPatch {
		// Every request, including each retry of the same create/update,
		// carries a newly generated key, so the key does not let the
		// workspace API recognise a resent request as a duplicate.
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, apperr.NewTransient(breakerKey, "request failed", err)
	}

	if resp.StatusCode >= 400 {
		c.breaker.RecordFailure()
		category := apperr.ClassifyHTTPStatus(resp.StatusCode, resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-Auth-Failure") == "true")
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, (&apperr.Error{
			Category:   category,
			Message:    fmt.Sprintf("workspace API returned %d: %s", resp.StatusCode, string(msg)),
			HTTPStatus: resp.StatusCode,
			Service:    breakerKey,
		})
	}

	c.breaker.RecordSuccess()
	return resp, nil
}

// doWithRetry wraps do in the shared bounded-retry policy for read and
// auto-create calls (C1, §4.7): do already gates and records against the
// breaker, so retrying here only adds attempts, never double-counts an
// outcome.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body any) (*http.Response, error) {
	result, err := resilience.Do(ctx, resilience.WorkspacePolicy(), func(ctx context.Context, attempt int) (*http.Response, resilience.RetryAfterHint, error) {
		resp, err := c.do(ctx, method, path, body)
		return resp, resilience.RetryAfterHint{}, err
	})
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

type queryRequest struct {
	Filter      map[string]any `json:"filter,omitempty"`
	StartCursor string         `json:"start_cursor,omitempty"`
	PageSize    int            `json:"page_size,omitempty"`
}

type queryResponse struct {
	Results    []pageObject `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor"`
}

type pageObject struct {
	ID         string                    `json:"id"`
	Properties map[string]propertyValue  `json:"properties"`
}

type propertyValue struct {
	Type     string           `json:"type"`
	Title    []richText       `json:"title,omitempty"`
	RichText []richText       `json:"rich_text,omitempty"`
	Select   *selectOption    `json:"select,omitempty"`
	Relation []relationRef    `json:"relation,omitempty"`
	Number   *float64         `json:"number,omitempty"`
	Date     *dateValue       `json:"date,omitempty"`
	People   []personRef      `json:"people,omitempty"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type selectOption struct {
	Name string `json:"name"`
}

type relationRef struct {
	ID string `json:"id"`
}

type dateValue struct {
	Start string `json:"start"`
}

type personRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func plainText(vals []richText) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0].PlainText
}

// Schema discovers the three databases' property sets. Cached 24h by the
// caller (workspacecache), not here.
func (c *Client) Schema(ctx context.Context) (domain.WorkspaceSchema, error) {
	companies, err := c.retrieveSchema(ctx, c.companiesDBID)
	if err != nil {
		return domain.WorkspaceSchema{}, err
	}
	users, err := c.retrieveSchema(ctx, c.usersDBID)
	if err != nil {
		return domain.WorkspaceSchema{}, err
	}
	collabs, err := c.retrieveSchema(ctx, c.collabsDBID)
	if err != nil {
		return domain.WorkspaceSchema{}, err
	}
	return domain.WorkspaceSchema{
		Meta:      domain.CacheMeta{CachedAt: time.Now(), TTLSeconds: domain.SchemaCacheTTLSeconds},
		Companies: companies,
		Users:     users,
		Collabs:   collabs,
	}, nil
}

type retrieveResponse struct {
	ID         string                    `json:"id"`
	Properties map[string]schemaProperty `json:"properties"`
}

type schemaProperty struct {
	Type string `json:"type"`
}

func (c *Client) retrieveSchema(ctx context.Context, databaseID string) (domain.DatabaseSchema, error) {
	resp, err := c.doWithRetry(ctx, http.MethodGet, "/v1/databases/"+databaseID, nil)
	if err != nil {
		return domain.DatabaseSchema{}, err
	}
	defer resp.Body.Close()

	var parsed retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.DatabaseSchema{}, apperr.NewPermanent(breakerKey, "malformed schema response", err)
	}

	props := make(map[string]domain.SchemaProperty, len(parsed.Properties))
	for name, p := range parsed.Properties {
		props[name] = domain.SchemaProperty{Name: name, Type: p.Type}
	}
	return domain.DatabaseSchema{DatabaseID: databaseID, Properties: props}, nil
}

// Companies fetches every row of the Companies database, paginating.
func (c *Client) Companies(ctx context.Context) (map[string]domain.Company, error) {
	out := make(map[string]domain.Company)
	cursor := ""
	for {
		resp, err := c.queryPage(ctx, c.companiesDBID, cursor)
		if err != nil {
			return nil, err
		}
		for _, page := range resp.Results {
			name := plainText(page.Properties["Name"].Title)
			isPortfolio := false
			isAffiliate := false
			if sel := page.Properties["Portfolio"].Select; sel != nil {
				isPortfolio = sel.Name == "Yes"
			}
			if sel := page.Properties["Affiliate"].Select; sel != nil {
				isAffiliate = sel.Name == "Yes"
			}
			out[page.ID] = domain.Company{ID: page.ID, CanonicalName: name, IsPortfolio: isPortfolio, IsAffiliate: isAffiliate}
		}
		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return out, nil
}

// Users fetches every row of the Users database, paginating.
func (c *Client) Users(ctx context.Context) (map[string]domain.WorkspaceUser, error) {
	result := make(map[string]domain.WorkspaceUser)
	cursor := ""
	for {
		resp, err := c.queryPage(ctx, c.usersDBID, cursor)
		if err != nil {
			return nil, err
		}
		for _, page := range resp.Results {
			name := plainText(page.Properties["Name"].Title)
			userType := domain.UserTypePerson
			if sel := page.Properties["Type"].Select; sel != nil && sel.Name == "bot" {
				userType = domain.UserTypeBot
			}
			result[page.ID] = domain.WorkspaceUser{UserID: page.ID, Name: name, Type: userType}
		}
		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return result, nil
}

func (c *Client) queryPage(ctx context.Context, databaseID, cursor string) (queryResponse, error) {
	resp, err := c.doWithRetry(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", queryRequest{StartCursor: cursor, PageSize: 100})
	if err != nil {
		return queryResponse{}, err
	}
	defer resp.Body.Close()

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return queryResponse{}, apperr.NewPermanent(breakerKey, "malformed query response", err)
	}
	return parsed, nil
}

// QueryByMessageID looks up an existing Collaborations row by its hidden
// message_id property.
func (c *Client) QueryByMessageID(ctx context.Context, databaseID, messageID string) (string, bool, error) {
	filter := map[string]any{
		"property": "message_id",
		"rich_text": map[string]any{
			"equals": messageID,
		},
	}
	resp, err := c.doWithRetry(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", queryRequest{Filter: filter, PageSize: 1})
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, apperr.NewPermanent(breakerKey, "malformed query response", err)
	}
	if len(parsed.Results) == 0 {
		return "", false, nil
	}
	return parsed.Results[0].ID, true, nil
}

type createPageRequest struct {
	Parent     map[string]string `json:"parent"`
	Properties map[string]any    `json:"properties"`
}

// CreatePage POSTs a new page under databaseID.
func (c *Client) CreatePage(ctx context.Context, write out.PageWrite) (string, error) {
	body := createPageRequest{
		Parent:     map[string]string{"database_id": write.DatabaseID},
		Properties: write.Properties,
	}
	resp, err := c.do(ctx, http.MethodPost, "/v1/pages", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed pageObject
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.NewPermanent(breakerKey, "malformed create-page response", err)
	}
	return parsed.ID, nil
}

// UpdatePage PATCHes an existing page's properties.
func (c *Client) UpdatePage(ctx context.Context, pageID string, write out.PageWrite) error {
	resp, err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, map[string]any{"properties": write.Properties})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// CreateCompany auto-creates a Companies row with title=name, under the
// same bounded-retry policy as a create_collabiq_entry write (§4.7).
func (c *Client) CreateCompany(ctx context.Context, name string) (string, error) {
	properties := map[string]any{
		"Name": map[string]any{
			"title": []map[string]any{{"text": map[string]string{"content": name}}},
		},
	}
	result, err := resilience.Do(ctx, resilience.WorkspacePolicy(), func(ctx context.Context, attempt int) (string, resilience.RetryAfterHint, error) {
		id, err := c.CreatePage(ctx, out.PageWrite{DatabaseID: c.companiesDBID, Properties: properties})
		return id, resilience.RetryAfterHint{}, err
	})
	if err != nil {
		return "", err
	}
	return result.Value, nil
}
