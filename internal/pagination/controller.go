package pagination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/entity"
)

var (
	// ErrFetchInFlight is returned when a fetch is requested while another
	// one has not completed.
	ErrFetchInFlight = errors.New("fetch already in flight")
	// ErrCoolingDown is returned when a fetch is requested too soon after a
	// transport failure.
	ErrCoolingDown = errors.New("fetch cooling down after failure")
	// ErrStale is returned when the source changed while a fetch was in
	// flight. Nothing from that fetch is merged.
	ErrStale = errors.New("fetch result is stale")
)

const (
	// DefaultMaxChain bounds how many pages one Fetch reads while every
	// returned user is hidden from display.
	DefaultMaxChain = 10
	// DefaultRetryCooldown is the wait imposed after a transport failure.
	DefaultRetryCooldown = 5 * time.Second
)

// Lister reads one page of a user feed. *api.Client implements it.
type Lister interface {
	ListUsers(ctx context.Context, src api.Source, q api.PageQuery) ([]api.UserRecord, error)
}

// Options tunes a Controller. Zero values select the defaults.
type Options struct {
	MaxChain      int
	RetryCooldown time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
	// OnFetch, if set, is called after every Fetch with its outcome.
	OnFetch func(Result, error)
}

// Result describes one completed Fetch.
type Result struct {
	Direction Direction
	// Added holds the displayable users merged by this fetch, ascending id.
	Added []*entity.User
	// Received counts raw records across all pages read.
	Received int
	Pages    int
	// Exhausted is set when the server returned an empty page.
	Exhausted bool
}

// Controller pages through one user feed at a time, merging each page into
// the entity store and tracking the cursor window and the visible view.
//
// Thread-safe: at most one fetch runs at a time; concurrent requests are
// rejected with ErrFetchInFlight rather than queued.
type Controller struct {
	store  *entity.Store
	lister Lister
	opts   Options
	logger *slog.Logger

	// applyMu serialises merging a page with switching source, so a page is
	// never merged into a source that is no longer active.
	applyMu sync.Mutex

	mu         sync.Mutex
	source     api.Source
	window     Window
	generation uint64
	inFlight   bool
	coolUntil  time.Time
	view       []*entity.User
	onWindow   func(api.Source, Window)
}

// New creates a controller reading src into store.
func New(store *entity.Store, lister Lister, src api.Source, opts Options) *Controller {
	if opts.MaxChain <= 0 {
		opts.MaxChain = DefaultMaxChain
	}
	if opts.RetryCooldown <= 0 {
		opts.RetryCooldown = DefaultRetryCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:  store,
		lister: lister,
		opts:   opts,
		logger: logger.With("component", "pagination"),
		source: src,
	}
}

// SetOnWindowChange registers fn to be called after every change of source
// or window, e.g. to persist them.
func (c *Controller) SetOnWindowChange(fn func(api.Source, Window)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWindow = fn
}

// Source returns the active feed.
func (c *Controller) Source() api.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Window returns a copy of the cursor window.
func (c *Controller) Window() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window.Clone()
}

// Generation is bumped on every source switch or restore.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// InFlight reports whether a fetch is running.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Visible returns the displayable users of the view in ascending id order.
// Users that are pending review but carry no scored signal are hidden.
func (c *Controller) Visible() []*entity.User {
	c.mu.Lock()
	view := slices.Clone(c.view)
	c.mu.Unlock()
	out := view[:0]
	for _, u := range view {
		if Displayable(u) {
			out = append(out, u)
		}
	}
	return out
}

// Displayable reports whether u is shown to the reviewer.
func Displayable(u *entity.User) bool {
	return !u.Profile().Pending || u.HasSignal()
}

// Remove drops a user from the view. It reports whether it was present.
func (c *Controller) Remove(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, found := c.find(id)
	if !found {
		return false
	}
	c.view = slices.Delete(c.view, i, i+1)
	return true
}

// SetSource switches to another feed. The window is cleared, users viewed
// from the previous source are removed from the store and any fetch still
// in flight becomes stale.
func (c *Controller) SetSource(src api.Source) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	c.source = src
	c.window = Window{}
	c.generation++
	old := c.view
	c.view = nil
	fn := c.onWindow
	c.mu.Unlock()

	for _, u := range old {
		// a user already removed elsewhere is fine
		_ = c.store.RemoveUser(u.ID())
	}
	c.logger.Info("source switched", "source", src, "dropped", len(old))
	if fn != nil {
		fn(src, Window{})
	}
}

// Restore resumes a persisted source and window without fetching. The
// view is left empty until the next Fetch, typically Reset.
func (c *Controller) Restore(src api.Source, w Window) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = src
	c.window = w.Clone()
	c.generation++
	c.view = nil
}

// Fetch reads the next page in direction d and merges it. If every record
// of a non-empty page is hidden from display another page is read in the
// same direction (Reset continues as Older), up to MaxChain pages.
//
// Errors:
//   - ErrFetchInFlight: another fetch is running
//   - ErrCoolingDown: the last fetch failed less than RetryCooldown ago
//   - ErrStale: the source changed before the fetch completed
//   - transport errors from the Lister, with the store untouched
//   - entity.ErrInvalidRecord if the server sent a malformed page
func (c *Controller) Fetch(ctx context.Context, d Direction) (Result, error) {
	res, err := c.fetch(ctx, d)
	if c.opts.OnFetch != nil {
		c.opts.OnFetch(res, err)
	}
	return res, err
}

func (c *Controller) fetch(ctx context.Context, d Direction) (Result, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return Result{Direction: d}, ErrFetchInFlight
	}
	if now := c.opts.Now(); now.Before(c.coolUntil) {
		c.mu.Unlock()
		return Result{Direction: d}, ErrCoolingDown
	}
	c.inFlight = true
	gen, src, win := c.generation, c.source, c.window.Clone()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	log := c.logger.With("fetch_id", uuid.NewString(), "source", src, "direction", d)
	res := Result{Direction: d}
	step := d
	for {
		q := win.query(step)
		log.Debug("requesting page", "window", win.String())
		recs, err := c.lister.ListUsers(ctx, src, q)
		if err != nil {
			c.mu.Lock()
			c.coolUntil = c.opts.Now().Add(c.opts.RetryCooldown)
			c.mu.Unlock()
			log.Warn("fetch failed", "error", err, "cooldown", c.opts.RetryCooldown)
			return res, fmt.Errorf("fetch %s %s: %w", src, step, err)
		}
		res.Pages++
		res.Received += len(recs)

		if step == Newer {
			// merged oldest first whatever order the server used
			sortRecords(recs)
		}
		added, next, err := c.merge(gen, src, step, win, recs)
		if err != nil {
			if errors.Is(err, ErrStale) {
				log.Info("discarding stale page", "records", len(recs))
			}
			return res, err
		}
		win = next
		res.Added = append(res.Added, added...)

		if len(recs) == 0 {
			res.Exhausted = true
			break
		}
		if len(res.Added) > 0 || res.Pages >= c.opts.MaxChain {
			break
		}
		log.Debug("page fully hidden, chaining", "records", len(recs))
		if step == Reset {
			step = Older
		}
	}
	sortByID(res.Added)
	log.Info("fetch complete", "pages", res.Pages, "received", res.Received,
		"added", len(res.Added), "exhausted", res.Exhausted, "window", win.String())
	return res, nil
}

// merge applies one page under applyMu, checking for staleness first, and
// returns the displayable users it added and the updated window.
func (c *Controller) merge(gen uint64, src api.Source, step Direction, win Window, recs []api.UserRecord) ([]*entity.User, Window, error) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	stale := gen != c.generation || src != c.source
	c.mu.Unlock()
	if stale {
		return nil, win, ErrStale
	}

	users, err := c.store.ApplyPage(recs)
	if err != nil {
		return nil, win, fmt.Errorf("merge %s page: %w", src, err)
	}
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID()
	}

	first := step == Reset
	if first {
		win = exactWindow(ids)
	} else {
		win = win.extend(step, ids)
	}

	c.mu.Lock()
	if first {
		c.view = nil
	}
	for _, u := range users {
		c.insert(u)
	}
	c.window = win.Clone()
	fn := c.onWindow
	c.mu.Unlock()

	if fn != nil {
		fn(src, win.Clone())
	}

	var added []*entity.User
	for _, u := range users {
		if Displayable(u) {
			added = append(added, u)
		}
	}
	return added, win, nil
}

// find locates id in the sorted view. Callers hold mu.
func (c *Controller) find(id int64) (int, bool) {
	return slices.BinarySearchFunc(c.view, id, func(u *entity.User, id int64) int {
		switch {
		case u.ID() < id:
			return -1
		case u.ID() > id:
			return 1
		}
		return 0
	})
}

// insert adds u to the view keeping ascending id order. Callers hold mu.
func (c *Controller) insert(u *entity.User) {
	i, found := c.find(u.ID())
	if found {
		c.view[i] = u
		return
	}
	c.view = slices.Insert(c.view, i, u)
}

func sortRecords(recs []api.UserRecord) {
	slices.SortStableFunc(recs, func(a, b api.UserRecord) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

func sortByID(users []*entity.User) {
	slices.SortFunc(users, func(a, b *entity.User) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
}
