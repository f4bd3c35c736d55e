package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds every request made through a Client.
const DefaultTimeout = 10 * time.Second

// HTTPError reports a response outside the 2xx range.
type HTTPError struct {
	Method string
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %s %s: %d", e.Method, e.URL, e.Status)
}

// PostJSON encodes body as JSON, posts it to url and decodes the response
// into out unless out is nil. Any status outside 2xx is an *HTTPError.
func PostJSON(ctx context.Context, hc *http.Client, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Method: http.MethodPost, URL: url, Status: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, hc *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Method: http.MethodGet, URL: url, Status: resp.StatusCode}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Client talks to the moderation API rooted at BaseURL.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient creates a client for the API at baseURL. A nil hc gets a
// client with DefaultTimeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      hc,
	}
}

// BaseURL returns the API root this client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListUsers fetches one page of users from a feed.
func (c *Client) ListUsers(ctx context.Context, src Source, q PageQuery) ([]UserRecord, error) {
	u := c.baseURL + src.Path()
	if v := q.Values(); len(v) > 0 {
		u += "?" + v.Encode()
	}
	var page UserPage
	if err := GetJSON(ctx, c.hc, u, &page); err != nil {
		return nil, fmt.Errorf("list %s: %w", src, err)
	}
	return page.Users, nil
}

// GetUser fetches the canonical record of a single user.
func (c *Client) GetUser(ctx context.Context, id int64) (UserRecord, error) {
	var rec UserRecord
	u := c.baseURL + "/user/" + strconv.FormatInt(id, 10)
	if err := GetJSON(ctx, c.hc, u, &rec); err != nil {
		return UserRecord{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return rec, nil
}

// Classify submits a classification for a user. The body is the bare JSON
// string of the action, e.g. "legit".
func (c *Client) Classify(ctx context.Context, id int64, action string) error {
	u := c.baseURL + "/classify/" + strconv.FormatInt(id, 10)
	if err := PostJSON(ctx, c.hc, u, action, nil); err != nil {
		return fmt.Errorf("classify user %d as %s: %w", id, action, err)
	}
	return nil
}
