package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestUserRecordDecode verifies that a server payload decodes into every
// consumed field.
func TestUserRecordDecode(t *testing.T) {
	payload := `{
		"id": 42, "screen_name": "spammer", "location": "nowhere",
		"about_me": "<p>cheap pills</p>", "who_am_i": "", "what_i_would_like_to_do": "",
		"tags": ["pills"], "links": [{"url": "http://pills.example", "title": "shop"}],
		"avatar_id": 7, "created": "2024-01-15T10:00:00Z", "had_created": "2024-01-15T10:00:00Z",
		"last_update": "2024-01-16T10:00:00Z", "tokens": {"cheap": 2},
		"next_inspection": null, "inspections": 3, "pending": true, "url": "http://site/42",
		"groups": ["auto_suspect"],
		"hostnames": {"pills.example": {"id": 5, "site_score": -4, "site_count": 2, "user_count": 1}},
		"words": {"cheap": {"id": 9, "site_score": -3, "site_count": 3, "user_count": 2}},
		"word_adj": [{"proceeding_id": 9, "following_id": 10, "proceeding": "cheap", "following": "pills",
			"site_score": -1, "site_count": 1, "user_count": 1}]
	}`

	var rec UserRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		t.Fatalf("Failed to decode UserRecord: %v", err)
	}

	if rec.ID != 42 || rec.ScreenName != "spammer" {
		t.Errorf("Unexpected identity: %d %q", rec.ID, rec.ScreenName)
	}
	if rec.AvatarID == nil || *rec.AvatarID != 7 {
		t.Errorf("Expected avatar_id 7, got %v", rec.AvatarID)
	}
	if rec.NextInspection != nil {
		t.Errorf("Expected null next_inspection, got %v", *rec.NextInspection)
	}
	if !rec.Pending || rec.Inspections != 3 {
		t.Errorf("Unexpected inspection state: pending=%v inspections=%d", rec.Pending, rec.Inspections)
	}
	if got := rec.Hostnames["pills.example"]; got.ID != 5 || got.SiteScore != -4 || got.SiteCount != 2 {
		t.Errorf("Unexpected hostname stat: %+v", got)
	}
	if got := rec.Words["cheap"]; got.ID != 9 || got.UserCount != 2 {
		t.Errorf("Unexpected word stat: %+v", got)
	}
	if len(rec.WordAdjacencies) != 1 || rec.WordAdjacencies[0].FollowingID != 10 {
		t.Errorf("Unexpected word_adj: %+v", rec.WordAdjacencies)
	}
	if len(rec.Links) != 1 || rec.Links[0].Title != "shop" {
		t.Errorf("Unexpected links: %+v", rec.Links)
	}
}

// TestPageQueryValues checks the cursor parameters sent to feeds.
func TestPageQueryValues(t *testing.T) {
	before, after := int64(100), int64(50)

	tests := []struct {
		name  string
		query PageQuery
		want  string
	}{
		{"unbounded", PageQuery{}, ""},
		{"older page", PageQuery{Before: &before, Order: OrderDesc}, "before_user_id=100&order=desc"},
		{"newer page", PageQuery{After: &after, Order: OrderAsc}, "after_user_id=50&order=asc"},
		{"window", PageQuery{Before: &before, After: &after}, "after_user_id=50&before_user_id=100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.Values().Encode(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

// TestParseSource tests feed name parsing
func TestParseSource(t *testing.T) {
	for _, src := range Sources {
		got, err := ParseSource(string(src))
		if err != nil || got != src {
			t.Errorf("ParseSource(%q) = %q, %v", src, got, err)
		}
	}
	if _, err := ParseSource("everyone"); err == nil {
		t.Error("Expected error for unknown source")
	}
	if SourceSuspect.Path() != "/data/suspect" {
		t.Errorf("Unexpected path %q", SourceSuspect.Path())
	}
}

// TestPostJSON tests the PostJSON function with various scenarios
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    interface{}
		responseBody   interface{}
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    "legit",
			responseBody:   &map[string]string{},
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			requestBody:    "suspect",
		},
		{
			name:           "accepted counts as success",
			serverResponse: http.StatusAccepted,
			requestBody:    "suspect",
		},
		{
			name:           "server error response",
			serverResponse: http.StatusInternalServerError,
			serverBody:     `{"error":"internal error"}`,
			requestBody:    "legit",
			expectError:    true,
		},
		{
			name:           "forbidden",
			serverResponse: http.StatusForbidden,
			requestBody:    "legit",
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    "legit",
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			requestBody:    make(chan int),
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST method, got %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Expected Content-Type application/json, got %s", ct)
				}
				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 1*time.Millisecond)
				defer cancel()
			}

			err := PostJSON(ctx, server.Client(), server.URL, tt.requestBody, tt.responseBody)

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

// TestGetJSONStatus verifies non-2xx responses surface as *HTTPError
func TestGetJSONStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var out map[string]any
	err := GetJSON(context.Background(), server.Client(), server.URL+"/x", &out)

	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("Expected *HTTPError, got %T (%v)", err, err)
	}
	if herr.Status != http.StatusServiceUnavailable || herr.Method != http.MethodGet {
		t.Errorf("Unexpected error fields: %+v", herr)
	}
}

// TestGetJSONInvalid covers malformed bodies and unreachable servers
func TestGetJSONInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{invalid json}`))
	}))
	defer server.Close()

	var out map[string]any
	if err := GetJSON(context.Background(), server.Client(), server.URL, &out); err == nil {
		t.Error("Expected decode error, got none")
	}
	if err := GetJSON(context.Background(), http.DefaultClient, "http://localhost:99999", &out); err == nil {
		t.Error("Expected error for unreachable server, got none")
	}
}

// TestClientEndpoints exercises the typed client methods against a stub
func TestClientEndpoints(t *testing.T) {
	var classifyBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/data/newcomers", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("before_user_id"); got != "10" {
			t.Errorf("Expected before_user_id=10, got %q", got)
		}
		w.Write([]byte(`{"users":[{"id":9},{"id":8}]}`))
	})
	mux.HandleFunc("/user/9", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":9,"screen_name":"nine","groups":["legit"]}`))
	})
	mux.HandleFunc("/classify/9", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		classifyBody = string(b)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/classify/8", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL+"/", server.Client())
	ctx := context.Background()

	before := int64(10)
	users, err := client.ListUsers(ctx, SourceNewcomers, PageQuery{Before: &before, Order: OrderDesc})
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 2 || users[0].ID != 9 {
		t.Errorf("Unexpected users: %+v", users)
	}

	rec, err := client.GetUser(ctx, 9)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if rec.ScreenName != "nine" || len(rec.Groups) != 1 {
		t.Errorf("Unexpected record: %+v", rec)
	}

	if err := client.Classify(ctx, 9, "legit"); err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if classifyBody != `"legit"` {
		t.Errorf("Expected JSON string body, got %s", classifyBody)
	}

	err = client.Classify(ctx, 8, "suspect")
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.Status != http.StatusBadGateway {
		t.Errorf("Expected wrapped HTTPError 502, got %v", err)
	}

	if _, err := client.GetUser(ctx, 404); err == nil {
		t.Error("Expected error for unknown user")
	}
}

// TestNewClientDefaults tests the default HTTP client timeout
func TestNewClientDefaults(t *testing.T) {
	c := NewClient("http://example.org//", nil)
	if c.hc.Timeout != DefaultTimeout {
		t.Errorf("Expected timeout %v, got %v", DefaultTimeout, c.hc.Timeout)
	}
	if c.BaseURL() != "http://example.org" {
		t.Errorf("Expected trailing slashes trimmed, got %q", c.BaseURL())
	}
}
