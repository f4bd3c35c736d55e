package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/entity"
)

const (
	// DefaultCooldown is how long a committed user stays visible before it
	// is removed from the view.
	DefaultCooldown = 3 * time.Second
	// DefaultConcurrency bounds the per-user commit flows run at once.
	DefaultConcurrency = 8
)

// Gateway submits classifications and refreshes users. *api.Client
// implements it.
type Gateway interface {
	Classify(ctx context.Context, id int64, action string) error
	GetUser(ctx context.Context, id int64) (api.UserRecord, error)
}

// View is the caller-visible list committed users are removed from.
// *pagination.Controller implements it.
type View interface {
	Remove(id int64) bool
}

// Options tunes a Workflow. Zero values select the defaults.
type Options struct {
	// Cooldown is the delay between refresh and removal from the view. A
	// negative value disables it.
	Cooldown    time.Duration
	Concurrency int
	Logger      *slog.Logger
	// Refill is called after CommitAll when nothing is left staged,
	// typically to fetch more users.
	Refill func(ctx context.Context) error
	// OnResult is called once per settled or failed user flow.
	OnResult func(id int64, action entity.Action, err error)
}

// Summary reports the outcome of one CommitAll.
type Summary struct {
	Attempted int
	Succeeded int
	Failed    int
	// Skipped counts snapshot entries already being committed by an
	// earlier CommitAll.
	Skipped int
	Errors  map[int64]error
	// RefillErr is the error returned by Options.Refill, if it ran.
	RefillErr error
}

// Workflow stages classifications locally and commits them to the server.
//
// A user moves through unset → staged(action) → committing → settled or
// failed. Only unset and staged are visible to callers: a failed commit
// leaves the user staged for the next CommitAll.
type Workflow struct {
	store  *entity.Store
	gw     Gateway
	view   View
	opts   Options
	logger *slog.Logger

	pending *Index

	mu         sync.Mutex
	committing map[int64]struct{}
	onPending  func(count int)
}

// New creates a workflow. view may be nil.
func New(store *entity.Store, gw Gateway, view View, opts Options) *Workflow {
	if opts.Cooldown < 0 {
		opts.Cooldown = 0
	} else if opts.Cooldown == 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		store:      store,
		gw:         gw,
		view:       view,
		opts:       opts,
		logger:     logger.With("component", "classify"),
		pending:    NewIndex(),
		committing: make(map[int64]struct{}),
	}
}

// SetOnPendingChange registers fn, called with the new pending count
// whenever the pending index changes.
func (w *Workflow) SetOnPendingChange(fn func(count int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onPending = fn
}

// Stage records action for u. Staging the action u already has is a no-op;
// ActionNone unstages it. An invalid action panics with an
// *entity.UsageError.
func (w *Workflow) Stage(u *entity.User, action entity.Action) {
	w.store.SetPendingAction(u, action)
	var changed bool
	if action == entity.ActionNone {
		changed = w.pending.Delete(u.ID())
	} else {
		changed = w.pending.Put(Entry{User: u, Action: action})
	}
	if changed {
		w.logger.Debug("staged", "user_id", u.ID(), "action", action)
		w.notifyPending()
	}
}

// Pending returns the staged entries in ascending user id order.
func (w *Workflow) Pending() []Entry {
	return w.pending.Snapshot()
}

// PendingCount returns the number of staged users.
func (w *Workflow) PendingCount() int {
	return w.pending.Len()
}

// Committing returns the ids of users whose commit is in progress.
func (w *Workflow) Committing() []int64 {
	w.mu.Lock()
	ids := make([]int64, 0, len(w.committing))
	for id := range w.committing {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// CommitAll submits every user staged at call time. Users run concurrently
// up to Options.Concurrency; each one is classified, refreshed from the
// server, held for the cooldown and then unstaged and removed from the
// view. A failure affects only its own user, which stays staged. Users
// staged after the call starts wait for the next CommitAll.
//
// CommitAll returns once every flow has settled. It returns an error only
// if ctx is done before any flow could start.
func (w *Workflow) CommitAll(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	snap := w.pending.Snapshot()

	w.mu.Lock()
	todo := snap[:0]
	skipped := 0
	for _, e := range snap {
		if _, busy := w.committing[e.ID()]; busy {
			skipped++
			continue
		}
		w.committing[e.ID()] = struct{}{}
		todo = append(todo, e)
	}
	w.mu.Unlock()

	sum := Summary{Attempted: len(todo), Skipped: skipped, Errors: map[int64]error{}}
	w.logger.Info("commit started", "users", len(todo), "skipped", skipped)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(w.opts.Concurrency)
	for _, e := range todo {
		g.Go(func() error {
			err := w.commitOne(ctx, e)

			w.mu.Lock()
			delete(w.committing, e.ID())
			w.mu.Unlock()

			mu.Lock()
			if err != nil {
				sum.Failed++
				sum.Errors[e.ID()] = err
			} else {
				sum.Succeeded++
			}
			mu.Unlock()

			if w.opts.OnResult != nil {
				w.opts.OnResult(e.ID(), e.Action, err)
			}
			// failures are reported in the summary, never to siblings
			return nil
		})
	}
	_ = g.Wait()

	w.logger.Info("commit finished", "succeeded", sum.Succeeded, "failed", sum.Failed)
	if w.pending.Len() == 0 && w.opts.Refill != nil {
		if err := w.opts.Refill(ctx); err != nil {
			w.logger.Warn("refill failed", "error", err)
			sum.RefillErr = err
		}
	}
	return sum, nil
}

// commitOne runs submit → refresh → cooldown → settle for one user.
func (w *Workflow) commitOne(ctx context.Context, e Entry) error {
	id := e.ID()
	log := w.logger.With("user_id", id, "action", e.Action)

	if err := w.gw.Classify(ctx, id, string(e.Action)); err != nil {
		log.Warn("classification failed", "error", err)
		return err
	}
	rec, err := w.gw.GetUser(ctx, id)
	if err != nil {
		log.Warn("refresh after classification failed", "error", err)
		return fmt.Errorf("refresh user %d: %w", id, err)
	}
	u, err := w.store.UpdateUser(e.User, rec)
	if err != nil {
		log.Warn("refreshed record rejected", "error", err)
		return fmt.Errorf("refresh user %d: %w", id, err)
	}

	if w.opts.Cooldown > 0 {
		t := time.NewTimer(w.opts.Cooldown)
		select {
		case <-t.C:
		case <-ctx.Done():
			// already classified server-side; settle without the delay
			t.Stop()
		}
	}

	if w.pending.DeleteIf(id, e.Action) {
		w.store.SetPendingAction(u, entity.ActionNone)
		w.notifyPending()
	}
	if w.view != nil {
		w.view.Remove(id)
	}
	log.Info("classified")
	return nil
}

func (w *Workflow) notifyPending() {
	w.mu.Lock()
	fn := w.onPending
	w.mu.Unlock()
	if fn != nil {
		fn(w.pending.Len())
	}
}
