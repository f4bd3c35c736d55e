package api

import (
	"fmt"
	"net/url"
	"strconv"
)

// Source names one of the server-filtered user feeds.
type Source string

const (
	// SourceNewcomers lists recently registered, unclassified users
	SourceNewcomers Source = "newcomers"
	// SourceLegit lists users classified as legitimate
	SourceLegit Source = "legit"
	// SourceSuspect lists users classified as suspect
	SourceSuspect Source = "suspect"
	// SourceAdmin lists the administrators' feed
	SourceAdmin Source = "admin"
)

// Sources is every selectable feed, in display order.
var Sources = []Source{SourceNewcomers, SourceLegit, SourceSuspect, SourceAdmin}

// ParseSource returns the Source named s, or an error for unknown names.
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Path is the request path serving this feed.
func (s Source) Path() string {
	return "/data/" + string(s)
}

// Order is the sort order requested from a feed.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// PageQuery bounds a feed request. Before and After are exclusive user id
// bounds; nil means unbounded on that side.
type PageQuery struct {
	Before *int64
	After  *int64
	Order  Order
}

// Values encodes the query as before_user_id, after_user_id and order.
func (q PageQuery) Values() url.Values {
	v := url.Values{}
	if q.Before != nil {
		v.Set("before_user_id", strconv.FormatInt(*q.Before, 10))
	}
	if q.After != nil {
		v.Set("after_user_id", strconv.FormatInt(*q.After, 10))
	}
	if q.Order != "" {
		v.Set("order", string(q.Order))
	}
	return v
}

// Link is a profile link.
type Link struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// SiteStat is the server's accumulated statistics for a word or hostname,
// plus how often this user used it.
type SiteStat struct {
	ID        int64   `json:"id"`
	SiteScore float64 `json:"site_score"`
	SiteCount int     `json:"site_count"`
	UserCount int     `json:"user_count"`
}

// WordAdjacencyStat is the server's accumulated statistics for an ordered
// pair of words.
type WordAdjacencyStat struct {
	ProceedingID int64   `json:"proceeding_id"`
	FollowingID  int64   `json:"following_id"`
	Proceeding   string  `json:"proceeding"`
	Following    string  `json:"following"`
	SiteScore    float64 `json:"site_score"`
	SiteCount    int     `json:"site_count"`
	UserCount    int     `json:"user_count"`
}

// UserRecord is one user as served by the feeds and by /user/{id}.
type UserRecord struct {
	ID                 int64               `json:"id"`
	ScreenName         string              `json:"screen_name"`
	Location           string              `json:"location"`
	AboutMe            string              `json:"about_me"`
	WhoAmI             string              `json:"who_am_i"`
	WhatIWouldLikeToDo string              `json:"what_i_would_like_to_do"`
	Tags               []string            `json:"tags"`
	Links              []Link              `json:"links"`
	AvatarID           *int64              `json:"avatar_id"`
	Created            string              `json:"created"`
	HadCreated         string              `json:"had_created"`
	LastUpdate         string              `json:"last_update"`
	Tokens             map[string]int      `json:"tokens"`
	NextInspection     *string             `json:"next_inspection"`
	Inspections        int                 `json:"inspections"`
	Pending            bool                `json:"pending"`
	URL                string              `json:"url"`
	Groups             []string            `json:"groups"`
	Hostnames          map[string]SiteStat `json:"hostnames"`
	Words              map[string]SiteStat `json:"words"`
	WordAdjacencies    []WordAdjacencyStat `json:"word_adj"`
}

// UserPage is the envelope returned by the feeds.
type UserPage struct {
	Users []UserRecord `json:"users"`
}
