// Package wordpresstest provides an in-memory WordPress REST server for tests.
package wordpresstest

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/raphaelgruber/esisync/internal/wordpress"
)

// Server stores posts per post type and counts write requests.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	nextID int64
	posts  map[string]map[int64]*wordpress.Post
	writes int
	reads  int
}

// NewServer starts a server. Close it when done.
func NewServer() *Server {
	s := &Server{nextID: 100, posts: make(map[string]map[int64]*wordpress.Post)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// WPClient returns a wordpress client pointed at the server.
func (s *Server) WPClient() *wordpress.Client {
	return wordpress.New(wordpress.Config{BaseURL: s.URL, User: "admin", AppPassword: "abcd efgh"}, nil, nil)
}

// Seed inserts a post directly and returns its ID. Titles are stored HTML-escaped,
// the way WordPress renders them.
func (s *Server) Seed(postType string, in wordpress.PostInput) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(postType, in)
}

// Posts returns a snapshot of the posts of postType ordered by ID.
func (s *Server) Posts(postType string) []wordpress.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wordpress.Post
	for _, p := range s.posts[postType] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Writes returns the number of create, update and delete requests served.
func (s *Server) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// ResetCounts zeroes the request counters.
func (s *Server) ResetCounts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = 0
	s.reads = 0
}

func (s *Server) insert(postType string, in wordpress.PostInput) int64 {
	s.nextID++
	p := &wordpress.Post{ID: s.nextID, Status: "publish"}
	apply(p, in)
	if p.Slug == "" {
		p.Slug = strconv.FormatInt(p.ID, 10)
	}
	if s.posts[postType] == nil {
		s.posts[postType] = make(map[int64]*wordpress.Post)
	}
	s.posts[postType][p.ID] = p
	return p.ID
}

func apply(p *wordpress.Post, in wordpress.PostInput) {
	if in.Title != "" {
		p.Title = wordpress.Rendered{Raw: in.Title, Rendered: html.EscapeString(in.Title)}
	}
	if in.Slug != "" {
		p.Slug = in.Slug
	}
	if in.Status != "" {
		p.Status = in.Status
	}
	if in.Content != "" {
		p.Content = wordpress.Rendered{Raw: in.Content, Rendered: in.Content}
	}
	if in.Meta != nil {
		if p.Meta == nil {
			p.Meta = make(map[string]any)
		}
		for k, v := range in.Meta {
			// Round-trip through JSON like the real API.
			b, _ := json.Marshal(v)
			var decoded any
			_ = json.Unmarshal(b, &decoded)
			p.Meta[k] = decoded
		}
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	const prefix = "/wp-json/wp/v2/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusNotFound, "rest_no_route", "No route")
		return
	}
	if user, _, ok := r.BasicAuth(); !ok || user == "" {
		writeError(w, http.StatusUnauthorized, "rest_not_logged_in", "Not logged in")
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"), "/")
	postType := parts[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.reads++
			s.list(w, r, postType)
		case http.MethodPost:
			s.writes++
			var in wordpress.PostInput
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				writeError(w, http.StatusBadRequest, "rest_invalid_json", err.Error())
				return
			}
			id := s.insert(postType, in)
			writeJSON(w, http.StatusCreated, s.posts[postType][id])
		default:
			writeError(w, http.StatusMethodNotAllowed, "rest_no_route", "method")
		}
		return
	}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "rest_no_route", "No route")
		return
	}
	p, ok := s.posts[postType][id]
	if !ok {
		writeError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.reads++
		writeJSON(w, http.StatusOK, p)
	case http.MethodPost:
		s.writes++
		var in wordpress.PostInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "rest_invalid_json", err.Error())
			return
		}
		apply(p, in)
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		s.writes++
		if r.URL.Query().Get("force") != "true" {
			p.Status = "trash"
			writeJSON(w, http.StatusOK, p)
			return
		}
		delete(s.posts[postType], id)
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "previous": p})
	default:
		writeError(w, http.StatusMethodNotAllowed, "rest_no_route", "method")
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, postType string) {
	q := r.URL.Query()
	var matched []*wordpress.Post
	for _, p := range s.posts[postType] {
		if slug := q.Get("slug"); slug != "" && p.Slug != slug {
			continue
		}
		if q.Get("status") != "any" && p.Status != "publish" {
			continue
		}
		if p.Status == "trash" {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 {
		perPage = 10
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page <= 0 {
		page = 1
	}
	totalPages := (len(matched) + perPage - 1) / perPage
	if totalPages == 0 {
		totalPages = 1
	}
	start := (page - 1) * perPage
	if start > len(matched) {
		writeError(w, http.StatusBadRequest, "rest_post_invalid_page_number", "page out of range")
		return
	}
	end := min(start+perPage, len(matched))

	w.Header().Set("X-WP-Total", strconv.Itoa(len(matched)))
	w.Header().Set("X-WP-TotalPages", strconv.Itoa(totalPages))
	writeJSON(w, http.StatusOK, matched[start:end])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": code, "message": msg, "data": map[string]int{"status": status}})
}

// String describes the server state for test failure messages.
func (s *Server) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("wordpresstest: %d post types, %d writes, %d reads", len(s.posts), s.writes, s.reads)
}
