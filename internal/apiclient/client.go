// Package apiclient is the HTTP client for the table API used by the
// terminal browser.
package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"resume-backend/internal/metadata"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error is a non-2xx response decoded from the error envelope.
type Error struct {
	Status  int
	Code    string
	Message string
	Details []ErrorDetail
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Filter is one column filter of a list request.
type Filter struct {
	Column   string                  `json:"column"`
	Operator metadata.FilterOperator `json:"operator"`
	Value    any                     `json:"value"`
}

// ListParams are the query parameters of a list or export. Page is 1-based;
// zero values are omitted.
type ListParams struct {
	Sort          string
	Order         string
	Search        string
	SearchColumns []string
	Page          int
	PageSize      int
	Filters       []Filter
}

func (p ListParams) values() url.Values {
	v := url.Values{}
	if p.Sort != "" {
		v.Set("sort", p.Sort)
		if p.Order != "" {
			v.Set("order", p.Order)
		}
	}
	if p.Search != "" {
		v.Set("search", p.Search)
		if len(p.SearchColumns) > 0 {
			v.Set("searchColumns", strings.Join(p.SearchColumns, ","))
		}
	}
	if p.Page > 0 {
		v.Set("page", strconv.Itoa(p.Page))
	}
	if p.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(p.PageSize))
	}
	if len(p.Filters) > 0 {
		raw, _ := json.Marshal(p.Filters)
		v.Set("filters", string(raw))
	}
	return v
}

type Pagination struct {
	TotalItems  int `json:"totalItems"`
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
}

type Page struct {
	Items      []map[string]any `json:"items"`
	Pagination Pagination       `json:"pagination"`
}

// DeleteResult reports a delete. Found is false when the id did not exist.
type DeleteResult struct {
	DeletedCount   int      `json:"deletedCount"`
	Deleted        []string `json:"deleted"`
	NotFound       []string `json:"notFound"`
	CleanupPending bool     `json:"cleanupPending"`
	Message        string   `json:"-"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type envelope struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Data    jsoniter.RawMessage `json:"data"`
	Error   *struct {
		Code    string        `json:"code"`
		Message string        `json:"message"`
		Details []ErrorDetail `json:"details"`
	} `json:"error"`
}

// Client talks to one server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a client for baseURL, e.g. http://localhost:8080.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login exchanges credentials for tokens and keeps the access token.
func (c *Client) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	var pair TokenPair
	_, err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", nil,
		map[string]string{"email": email, "password": password}, &pair)
	if err != nil {
		return nil, err
	}
	c.SetToken(pair.AccessToken)
	return &pair, nil
}

// Tables lists the table configurations the caller may read.
func (c *Client) Tables(ctx context.Context) ([]*metadata.TableConfig, error) {
	var tables []*metadata.TableConfig
	_, err := c.doJSON(ctx, http.MethodGet, "/table", nil, nil, &tables)
	return tables, err
}

// Config fetches one table configuration.
func (c *Client) Config(ctx context.Context, slug string) (*metadata.TableConfig, error) {
	var t metadata.TableConfig
	if _, err := c.doJSON(ctx, http.MethodGet, "/table/"+url.PathEscape(slug)+"/config", nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// List fetches one page of records.
func (c *Client) List(ctx context.Context, slug string, p ListParams) (*Page, error) {
	var page Page
	if _, err := c.doJSON(ctx, http.MethodGet, "/table/"+url.PathEscape(slug), p.values(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Create inserts a record and returns the stored, redacted form.
func (c *Client) Create(ctx context.Context, slug string, body map[string]any) (map[string]any, error) {
	var rec map[string]any
	_, err := c.doJSON(ctx, http.MethodPost, "/table/"+url.PathEscape(slug), nil, body, &rec)
	return rec, err
}

// Update merges body into the record. found is false when it does not exist.
func (c *Client) Update(ctx context.Context, slug, id string, body map[string]any) (rec map[string]any, found bool, err error) {
	q := url.Values{"id": {id}}
	if _, err = c.doJSON(ctx, http.MethodPut, "/table/"+url.PathEscape(slug), q, body, &rec); err != nil {
		return nil, false, err
	}
	if f, ok := rec["found"].(bool); ok && !f {
		return nil, false, nil
	}
	return rec, true, nil
}

// Delete removes one record.
func (c *Client) Delete(ctx context.Context, slug, id string) (*DeleteResult, error) {
	var data map[string]any
	msg, err := c.doJSON(ctx, http.MethodDelete, "/table/"+url.PathEscape(slug), url.Values{"id": {id}}, nil, &data)
	if err != nil {
		return nil, err
	}
	res := &DeleteResult{Message: msg}
	if f, ok := data["found"].(bool); ok && !f {
		res.NotFound = []string{id}
		return res, nil
	}
	res.DeletedCount = 1
	res.Deleted = []string{id}
	res.CleanupPending, _ = data["cleanupPending"].(bool)
	return res, nil
}

// BulkDelete removes every id and reports which were missing.
func (c *Client) BulkDelete(ctx context.Context, slug string, ids []string) (*DeleteResult, error) {
	var res DeleteResult
	msg, err := c.doJSON(ctx, http.MethodPost, "/table/"+url.PathEscape(slug),
		url.Values{"action": {"bulk-delete"}}, map[string]any{"ids": ids}, &res)
	if err != nil {
		return nil, err
	}
	res.Message = msg
	return &res, nil
}

// BulkUpdate applies updates to every id and returns the ids updated.
func (c *Client) BulkUpdate(ctx context.Context, slug string, ids []string, updates map[string]any) ([]string, error) {
	var res struct {
		Updated []string `json:"updated"`
	}
	_, err := c.doJSON(ctx, http.MethodPost, "/table/"+url.PathEscape(slug),
		url.Values{"action": {"bulk-update"}}, map[string]any{"ids": ids, "updates": updates}, &res)
	return res.Updated, err
}

// Import uploads a CSV file and returns the number of inserted records.
func (c *Client) Import(ctx context.Context, slug, filename string, r io.Reader) (int, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/table/"+url.PathEscape(slug), url.Values{"action": {"import"}}, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	var res struct {
		InsertedCount int `json:"insertedCount"`
	}
	_, err = c.send(req, &res)
	return res.InsertedCount, err
}

// Export downloads the records matching p in format (csv, excel or pdf).
func (c *Client) Export(ctx context.Context, slug, format string, p ListParams) (filename string, body []byte, err error) {
	q := p.values()
	q.Del("page")
	q.Del("pageSize")
	q.Set("action", "export")
	q.Set("format", format)
	req, err := c.newRequest(ctx, http.MethodGet, "/table/"+url.PathEscape(slug), q, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("export %s: %w", slug, err)
	}
	defer resp.Body.Close()
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read export: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", nil, decodeError(resp.StatusCode, body)
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	if filename == "" {
		filename = slug + "." + format
	}
	return filename, body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doJSON sends body as JSON and decodes the envelope's data into out,
// returning the envelope message.
func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, q, reader)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", decodeError(resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("decode response data: %w", err)
		}
	}
	return env.Message, nil
}

func decodeError(status int, raw []byte) error {
	e := &Error{Status: status, Message: http.StatusText(status)}
	var env envelope
	if json.Unmarshal(raw, &env) == nil {
		if env.Message != "" {
			e.Message = env.Message
		}
		if env.Error != nil {
			e.Code = env.Error.Code
			e.Details = env.Error.Details
		}
	}
	return e
}
