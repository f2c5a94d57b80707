// Package wordpress is a small REST client for the destination CMS. Records
// are posts of a custom post type addressed by slug, with typed meta fields.
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/esisync/internal/metrics"
)

// ErrNotFound indicates the post does not exist or is trashed.
var ErrNotFound = errors.New("wordpress: post not found")

// APIError is a non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wordpress: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps 404 and 410 to ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone {
		return ErrNotFound
	}
	return nil
}

// Rendered is a WordPress text field.
type Rendered struct {
	Rendered string `json:"rendered"`
	Raw      string `json:"raw,omitempty"`
}

// Post is a destination record.
type Post struct {
	ID       int64          `json:"id"`
	Slug     string         `json:"slug"`
	Status   string         `json:"status"`
	Title    Rendered       `json:"title"`
	Content  Rendered       `json:"content"`
	Meta     map[string]any `json:"meta"`
	Modified string         `json:"modified,omitempty"`
}

// MetaString returns a meta value as a string.
func (p *Post) MetaString(key string) string {
	if p == nil || p.Meta == nil {
		return ""
	}
	switch v := p.Meta[key].(type) {
	case string:
		return v
	case []any:
		// Non-single meta comes back as a list.
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
	return ""
}

// PostInput is the body for create and update.
type PostInput struct {
	Title   string         `json:"title,omitempty"`
	Slug    string         `json:"slug,omitempty"`
	Status  string         `json:"status,omitempty"`
	Content string         `json:"content,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Config holds the site address and application password credentials.
type Config struct {
	BaseURL     string // site root, e.g. https://example.com
	User        string
	AppPassword string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client talks to the WordPress REST API.
type Client struct {
	base       string
	user       string
	password   string
	httpClient *http.Client
	log        *slog.Logger
	metrics    *metrics.Collector
}

// DefaultPerPage is the page size used when listing; 100 is the API maximum.
const DefaultPerPage = 100

// New creates a client. log and m may be nil.
func New(cfg Config, log *slog.Logger, m *metrics.Collector) *Client {
	if log == nil {
		log = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:       strings.TrimSuffix(cfg.BaseURL, "/") + "/wp-json/wp/v2",
		user:       cfg.User,
		password:   strings.ReplaceAll(cfg.AppPassword, " ", ""),
		httpClient: httpClient,
		log:        log.With("component", "wordpress"),
		metrics:    m,
	}
}

// List returns one page of posts of postType in any status, with the total page count.
func (c *Client) List(ctx context.Context, postType string, page, perPage int) ([]Post, int, error) {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	q := url.Values{
		"context":  {"edit"},
		"status":   {"any"},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
		"orderby":  {"id"},
		"order":    {"asc"},
	}
	var posts []Post
	header, err := c.do(ctx, metrics.OpDestRead, http.MethodGet, "/"+postType, q, nil, &posts)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s page %d: %w", postType, page, err)
	}
	total, _ := strconv.Atoi(header.Get("X-WP-TotalPages"))
	return posts, total, nil
}

// ListAll returns every post of postType.
func (c *Client) ListAll(ctx context.Context, postType string) ([]Post, error) {
	var all []Post
	for page := 1; ; page++ {
		posts, total, err := c.List(ctx, postType, page, DefaultPerPage)
		if err != nil {
			return nil, err
		}
		all = append(all, posts...)
		if page >= total || len(posts) == 0 {
			c.log.Debug("listed posts", "post_type", postType, "posts", len(all), "pages", page)
			return all, nil
		}
	}
}

// Get returns a post by ID. Trashed posts count as not found.
func (c *Client) Get(ctx context.Context, postType string, id int64) (*Post, error) {
	var p Post
	q := url.Values{"context": {"edit"}}
	if _, err := c.do(ctx, metrics.OpDestRead, http.MethodGet, fmt.Sprintf("/%s/%d", postType, id), q, nil, &p); err != nil {
		return nil, fmt.Errorf("get %s %d: %w", postType, id, err)
	}
	if p.Status == "trash" {
		return nil, fmt.Errorf("get %s %d: %w", postType, id, ErrNotFound)
	}
	return &p, nil
}

// FindBySlug returns the post with exactly this slug.
func (c *Client) FindBySlug(ctx context.Context, postType, slug string) (*Post, error) {
	q := url.Values{
		"context": {"edit"},
		"status":  {"any"},
		"slug":    {slug},
	}
	var posts []Post
	if _, err := c.do(ctx, metrics.OpDestRead, http.MethodGet, "/"+postType, q, nil, &posts); err != nil {
		return nil, fmt.Errorf("find %s %q: %w", postType, slug, err)
	}
	for i := range posts {
		if posts[i].Slug == slug {
			return &posts[i], nil
		}
	}
	return nil, fmt.Errorf("find %s %q: %w", postType, slug, ErrNotFound)
}

// Create creates a post.
func (c *Client) Create(ctx context.Context, postType string, in PostInput) (*Post, error) {
	var p Post
	if _, err := c.do(ctx, metrics.OpDestWrite, http.MethodPost, "/"+postType, nil, in, &p); err != nil {
		return nil, fmt.Errorf("create %s %q: %w", postType, in.Slug, err)
	}
	return &p, nil
}

// Update replaces the given fields of a post.
func (c *Client) Update(ctx context.Context, postType string, id int64, in PostInput) (*Post, error) {
	var p Post
	if _, err := c.do(ctx, metrics.OpDestWrite, http.MethodPost, fmt.Sprintf("/%s/%d", postType, id), nil, in, &p); err != nil {
		return nil, fmt.Errorf("update %s %d: %w", postType, id, err)
	}
	return &p, nil
}

// Delete permanently deletes a post, bypassing the trash.
func (c *Client) Delete(ctx context.Context, postType string, id int64) error {
	q := url.Values{"force": {"true"}}
	if _, err := c.do(ctx, metrics.OpDestWrite, http.MethodDelete, fmt.Sprintf("/%s/%d", postType, id), q, nil, nil); err != nil {
		return fmt.Errorf("delete %s %d: %w", postType, id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (_ http.Header, err error) {
	defer func(start time.Time) { c.metrics.Time(op, start, err) }(time.Now())

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.Header, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var wpErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &wpErr) == nil {
			apiErr.Code = wpErr.Code
			apiErr.Message = wpErr.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return resp.Header, apiErr
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.Header, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return resp.Header, nil
}
