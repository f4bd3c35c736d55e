package session

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/pagination"
)

// Query parameter names of a persisted State.
const (
	ParamSource = "source"
	ParamOldest = "oldest_uid"
	ParamNewest = "newest_uid"
)

// State is the resumable part of a session: the active source and its
// cursor window.
type State struct {
	Source api.Source
	Oldest *int64
	Newest *int64
}

// FromController captures the controller's current source and window.
func FromController(c *pagination.Controller) State {
	return NewState(c.Source(), c.Window())
}

// NewState builds a State from a source and window.
func NewState(src api.Source, w pagination.Window) State {
	w = w.Clone()
	return State{Source: src, Oldest: w.Oldest, Newest: w.Newest}
}

// Window returns the state's cursor window.
func (s State) Window() pagination.Window {
	return pagination.Window{Oldest: s.Oldest, Newest: s.Newest}.Clone()
}

// Values encodes s with one parameter per set field.
func (s State) Values() url.Values {
	v := url.Values{}
	if s.Source != "" {
		v.Set(ParamSource, string(s.Source))
	}
	if s.Oldest != nil {
		v.Set(ParamOldest, strconv.FormatInt(*s.Oldest, 10))
	}
	if s.Newest != nil {
		v.Set(ParamNewest, strconv.FormatInt(*s.Newest, 10))
	}
	return v
}

// Fragment is Values encoded for a URL fragment, e.g.
// "#newest_uid=90&oldest_uid=40&source=newcomers".
func (s State) Fragment() string {
	return "#" + s.Values().Encode()
}

// ParseState decodes v. Missing parameters stay unset; an unknown source
// or a malformed id is an error.
func ParseState(v url.Values) (State, error) {
	var s State
	if name := v.Get(ParamSource); name != "" {
		src, err := api.ParseSource(name)
		if err != nil {
			return State{}, err
		}
		s.Source = src
	}
	var err error
	if s.Oldest, err = parseID(v, ParamOldest); err != nil {
		return State{}, err
	}
	if s.Newest, err = parseID(v, ParamNewest); err != nil {
		return State{}, err
	}
	if s.Oldest != nil && s.Newest != nil && *s.Oldest > *s.Newest {
		return State{}, fmt.Errorf("%s %d is after %s %d", ParamOldest, *s.Oldest, ParamNewest, *s.Newest)
	}
	return s, nil
}

// ParseFragment decodes a query string or fragment, with or without its
// leading "?" or "#".
func ParseFragment(raw string) (State, error) {
	raw = strings.TrimLeft(raw, "?#")
	v, err := url.ParseQuery(raw)
	if err != nil {
		return State{}, fmt.Errorf("parse state %q: %w", raw, err)
	}
	return ParseState(v)
}

func parseID(v url.Values, key string) (*int64, error) {
	raw := v.Get(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &n, nil
}
