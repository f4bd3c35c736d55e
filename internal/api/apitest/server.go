// Package apitest provides an in-process fake of the moderation API for
// tests: the user feeds, /user/{id} and /classify/{id}.
package apitest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slices"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
)

// DefaultPageSize is how many users a feed returns per request.
const DefaultPageSize = 5

// Request is one request seen by the server.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// Server is a fake API backed by in-memory records. Every feed serves the
// same user population filtered by the records' groups: newcomers are the
// users with no classification group, legit and suspect the users in those
// groups, and admin everyone.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	users    map[int64]api.UserRecord
	failures map[string]int
	requests []Request
	hold     chan struct{}
	pageSize int
}

// New starts a server holding recs.
func New(recs ...api.UserRecord) *Server {
	s := &Server{
		users:    make(map[int64]api.UserRecord),
		failures: make(map[string]int),
		pageSize: DefaultPageSize,
	}
	for _, rec := range recs {
		s.users[rec.ID] = rec
	}

	r := chi.NewRouter()
	r.Use(s.record)
	r.Get("/data/{source}", s.listUsers)
	r.Get("/user/{id}", s.getUser)
	r.Post("/classify/{id}", s.classify)
	s.Server = httptest.NewServer(r)
	return s
}

// Client returns an api.Client talking to this server.
func (s *Server) Client() *api.Client {
	return api.NewClient(s.URL, s.Server.Client())
}

// SetPageSize changes the number of users returned per feed request.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// Put adds or replaces a user record.
func (s *Server) Put(rec api.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[rec.ID] = rec
}

// Fail makes requests to path answer status until cleared with status 0.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = status
}

// Hold blocks every feed request until the returned release func is
// called.
func (s *Server) Hold() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.hold = nil
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Requests returns the requests seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// Classified returns the classification last submitted for id.
func (s *Server) Classified(id int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		return "", false
	}
	for _, g := range rec.Groups {
		if g == "legit" || g == "suspect" {
			return g, true
		}
	}
	return "", false
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			var raw json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&raw); err == nil {
				body = raw
			}
		}
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(body),
		})
		status := s.failures[r.URL.Path]
		s.mu.Unlock()

		if status != 0 {
			http.Error(w, http.StatusText(status), status)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	src, err := api.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	hold := s.hold
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	q := r.URL.Query()
	before, hasBefore, err := intParam(q.Get("before_user_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	after, hasAfter, err := intParam(q.Get("after_user_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	var page []api.UserRecord
	for _, rec := range s.users {
		if !inSource(rec, src) {
			continue
		}
		if hasBefore && rec.ID >= before {
			continue
		}
		if hasAfter && rec.ID <= after {
			continue
		}
		page = append(page, rec)
	}
	size := s.pageSize
	s.mu.Unlock()

	desc := q.Get("order") != string(api.OrderAsc)
	slices.SortFunc(page, func(a, b api.UserRecord) int {
		if desc {
			a, b = b, a
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if len(page) > size {
		page = page[:size]
	}
	if page == nil {
		page = []api.UserRecord{}
	}
	writeJSON(w, http.StatusOK, api.UserPage{Users: page})
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	rec, ok := s.users[id]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// classify moves the user into the submitted group and clears its pending
// flag, the way the real server settles a classification.
func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var action string
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil || (action != "legit" && action != "suspect") {
		http.Error(w, "bad classification", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	groups := []string{action}
	for _, g := range rec.Groups {
		if g != "legit" && g != "suspect" && g != "auto_suspect" && g != "auto_legit" {
			groups = append(groups, g)
		}
	}
	rec.Groups = groups
	rec.Pending = false
	s.users[id] = rec
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func inSource(rec api.UserRecord, src api.Source) bool {
	switch src {
	case api.SourceLegit, api.SourceSuspect:
		return slices.Contains(rec.Groups, string(src))
	case api.SourceNewcomers:
		return !slices.Contains(rec.Groups, "legit") && !slices.Contains(rec.Groups, "suspect")
	}
	return true
}

func intParam(v string) (int64, bool, error) {
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
