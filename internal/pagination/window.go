package pagination

import (
	"fmt"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
)

// Direction selects which side of the cursor window a fetch extends.
type Direction int

const (
	// Older fetches users strictly before the oldest one seen.
	Older Direction = iota
	// Newer fetches users strictly after the newest one seen.
	Newer
	// Reset refetches the current window, or the first page if there is
	// none, and recomputes the bounds from the result.
	Reset
)

func (d Direction) String() string {
	switch d {
	case Older:
		return "older"
	case Newer:
		return "newer"
	case Reset:
		return "reset"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection returns the Direction named s.
func ParseDirection(s string) (Direction, error) {
	for _, d := range []Direction{Older, Newer, Reset} {
		if d.String() == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Window is the range of user ids materialized from the active source.
// A nil bound means nothing has been seen on that side yet.
type Window struct {
	Oldest *int64
	Newest *int64
}

// IsZero reports whether neither bound is set.
func (w Window) IsZero() bool {
	return w.Oldest == nil && w.Newest == nil
}

// Bounded reports whether both bounds are set.
func (w Window) Bounded() bool {
	return w.Oldest != nil && w.Newest != nil
}

// Clone returns a copy that shares no pointers with w.
func (w Window) Clone() Window {
	return Window{Oldest: clonePtr(w.Oldest), Newest: clonePtr(w.Newest)}
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", fmtBound(w.Oldest), fmtBound(w.Newest))
}

// query builds the feed request for a fetch in direction d.
func (w Window) query(d Direction) api.PageQuery {
	switch d {
	case Older:
		return api.PageQuery{Before: clonePtr(w.Oldest), Order: api.OrderDesc}
	case Newer:
		return api.PageQuery{After: clonePtr(w.Newest), Order: api.OrderAsc}
	}
	if !w.Bounded() {
		return api.PageQuery{Order: api.OrderDesc}
	}
	// both bounds are exclusive on the wire
	after, before := *w.Oldest-1, *w.Newest+1
	return api.PageQuery{After: &after, Before: &before, Order: api.OrderDesc}
}

// extend widens w to cover ids, as a fetch in direction d does: older
// lowers Oldest, newer raises Newest, and the opposite bound is only set
// if it was still nil.
func (w Window) extend(d Direction, ids []int64) Window {
	if len(ids) == 0 {
		return w
	}
	lo, hi := span(ids)
	out := w.Clone()
	switch d {
	case Newer:
		if out.Newest == nil || hi > *out.Newest {
			out.Newest = &hi
		}
		if out.Oldest == nil {
			out.Oldest = &lo
		}
	default:
		if out.Oldest == nil || lo < *out.Oldest {
			out.Oldest = &lo
		}
		if out.Newest == nil {
			out.Newest = &hi
		}
	}
	return out
}

// exactWindow is the window spanning exactly ids, or the zero window.
func exactWindow(ids []int64) Window {
	if len(ids) == 0 {
		return Window{}
	}
	lo, hi := span(ids)
	return Window{Oldest: &lo, Newest: &hi}
}

func span(ids []int64) (lo, hi int64) {
	lo, hi = ids[0], ids[0]
	for _, id := range ids[1:] {
		if id < lo {
			lo = id
		}
		if id > hi {
			hi = id
		}
	}
	return lo, hi
}

func clonePtr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func fmtBound(p *int64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprint(*p)
}
