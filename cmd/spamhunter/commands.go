package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/entity"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/pagination"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/session"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/textutil"
)

const aboutWidth = 48

// withApp builds the app for cmd, runs fn and closes the app.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func newFetchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [older|newer|reset]",
		Short: "Fetch a page of users and list them, most suspicious first",
		Long: `Fetch reads one page of the current feed and lists the users it added.

Without an argument it continues with older users, or loads the first page
if nothing has been fetched yet. Users are sorted by composite score,
lowest (most suspicious) first.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"older", "newer", "reset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				d := pagination.Older
				if a.ctrl.Window().IsZero() {
					d = pagination.Reset
				}
				if len(args) == 1 {
					var err error
					if d, err = pagination.ParseDirection(args[0]); err != nil {
						return err
					}
				}
				res, err := a.ctrl.Fetch(ctx, d)
				if err != nil {
					return err
				}
				staged, err := a.sess.LoadStaged(ctx)
				if err != nil {
					return err
				}
				if err := a.printUsers(res.Added, staged); err != nil {
					return err
				}
				suffix := ""
				if res.Exhausted {
					suffix = ", end of feed"
				}
				fmt.Fprintf(a.out, "%d shown of %d received from %s, window %s%s\n",
					len(res.Added), res.Received, a.ctrl.Source(), a.ctrl.Window(), suffix)
				return nil
			})
		},
	}
}

// printUsers writes users as a table sorted by composite score, then id.
func (a *app) printUsers(users []*entity.User, staged map[int64]entity.Action) error {
	scored := slices.Clone(users)
	scores := make(map[int64]float64, len(scored))
	for _, u := range scored {
		scores[u.ID()] = a.store.CompositeScore(u)
	}
	slices.SortFunc(scored, func(x, y *entity.User) int {
		sx, sy := scores[x.ID()], scores[y.ID()]
		switch {
		case sx < sy:
			return -1
		case sx > sy:
			return 1
		case x.ID() < y.ID():
			return -1
		case x.ID() > y.ID():
			return 1
		}
		return 0
	})

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCORE\tSTAGED\tNAME\tGROUPS\tABOUT")
	for _, u := range scored {
		p := u.Profile()
		action, ok := staged[u.ID()]
		if !ok || action == entity.ActionNone {
			action = u.PendingAction()
		}
		if action == entity.ActionNone {
			action = "-"
		}
		var groups []string
		for _, g := range u.Groups() {
			groups = append(groups, g.Name())
		}
		fmt.Fprintf(tw, "%d\t%.2f\t%s\t%s\t%s\t%s\n",
			u.ID(), scores[u.ID()], action, p.ScreenName, strings.Join(groups, ","),
			textutil.Excerpt(textutil.HTMLToText(p.AboutMe), aboutWidth))
	}
	return tw.Flush()
}

func newStageCmd(opts *options) *cobra.Command {
	var legit, suspect, none []int64
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Stage classifications for the next commit",
		Example: `  spamhunter stage --suspect 41,42 --legit 40
  spamhunter stage --none 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			staged, err := stagedActions(legit, suspect, none)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.sess.SaveStaged(ctx, staged); err != nil {
					return err
				}
				all, err := a.sess.LoadStaged(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%d users staged\n", len(all))
				return nil
			})
		},
	}
	cmd.Flags().Int64SliceVar(&legit, "legit", nil, "user ids to classify as legit")
	cmd.Flags().Int64SliceVar(&suspect, "suspect", nil, "user ids to classify as suspect")
	cmd.Flags().Int64SliceVar(&none, "none", nil, "user ids to unstage")
	return cmd
}

// stagedActions merges the per-action id lists. An id may appear in only
// one list.
func stagedActions(legit, suspect, none []int64) (map[int64]entity.Action, error) {
	staged := map[int64]entity.Action{}
	for _, set := range []struct {
		action entity.Action
		ids    []int64
	}{
		{entity.ActionLegit, legit},
		{entity.ActionSuspect, suspect},
		{entity.ActionNone, none},
	} {
		for _, id := range set.ids {
			if id <= 0 {
				return nil, fmt.Errorf("invalid user id %d", id)
			}
			if prev, dup := staged[id]; dup && prev != set.action {
				return nil, fmt.Errorf("user %d staged twice", id)
			}
			staged[id] = set.action
		}
	}
	if len(staged) == 0 {
		return nil, errors.New("nothing to stage: use --legit, --suspect or --none")
	}
	return staged, nil
}

func newCommitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "commit",
		Short: "Submit every staged classification",
		Long: `Commit submits each staged classification, then refreshes the user from
the server. Users that fail stay staged for the next commit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, runCommit)
		},
	}
}

func runCommit(ctx context.Context, a *app) error {
	staged, err := a.sess.LoadStaged(ctx)
	if err != nil {
		return err
	}
	if len(staged) == 0 {
		fmt.Fprintln(a.out, "nothing staged")
		return nil
	}

	ids := make([]int64, 0, len(staged))
	for id := range staged {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	failures := map[int64]error{}
	for _, id := range ids {
		rec, err := a.client.GetUser(ctx, id)
		if err == nil {
			var u *entity.User
			if u, err = a.store.UpsertUser(rec); err == nil {
				a.wf.Stage(u, staged[id])
				continue
			}
		}
		a.logger.Warn("loading staged user failed", "user_id", id, "error", err)
		a.rec.ObserveCommit(err)
		failures[id] = err
	}

	sum, err := a.wf.CommitAll(ctx)
	if err != nil {
		return err
	}
	for id, err := range sum.Errors {
		failures[id] = err
	}

	for _, id := range ids {
		if err, failed := failures[id]; failed {
			fmt.Fprintf(a.out, "%d\t%s\tfailed: %v\n", id, staged[id], err)
		} else {
			fmt.Fprintf(a.out, "%d\t%s\tok\n", id, staged[id])
		}
	}
	snap := a.rec.Snapshot()
	fmt.Fprintf(a.out, "%d of %d committed, %d still staged\n", len(ids)-len(failures), len(ids), len(failures))
	if len(failures) > 0 {
		return fmt.Errorf("%d classifications failed, last: %s", snap.Failed, snap.LastFailure)
	}
	return nil
}

func newWatchCmd(opts *options) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the feed for new users and serve /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if metricsAddr != "" {
					a.cfg.MetricsAddr = metricsAddr
				}
				return runWatch(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics and /health")
	return cmd
}

func runWatch(ctx context.Context, a *app) error {
	ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.MetricsAddr, err)
	}

	poller := pagination.NewPoller(a.ctrl, a.cfg.PollInterval, a.logger)
	poller.SetOnNew(func(users []*entity.User) {
		if err := a.printUsers(users, nil); err != nil {
			a.logger.Warn("printing users failed", "error", err)
		}
	})
	poller.SetOnUnhealthy(func(err error) {
		a.logger.Error("feed unhealthy", "source", a.ctrl.Source(), "error", err)
	})

	srv := &http.Server{Handler: a.handler(poller), ReadHeaderTimeout: 5 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("metrics listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	polling := make(chan struct{})
	go func() {
		poller.Start(ctx)
		close(polling)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}
	poller.Stop()
	<-polling

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.logger.Info("watch stopped")
	return runErr
}

// handler serves /metrics from the app's registry and /health from the
// poller status. /health answers 503 while the poller is unhealthy.
func (a *app) handler(poller *pagination.Poller) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := poller.Status()
		lastErr := ""
		if st.LastError != nil {
			lastErr = st.LastError.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		if !st.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(healthReport{
			Healthy:          st.Healthy,
			LastPoll:         st.LastPoll,
			ConsecutiveFails: st.ConsecutiveFails,
			LastError:        lastErr,
			Pending:          a.rec.Snapshot().Outstanding,
			Cached:           a.store.Len(),
		})
	})
	return mux
}

type healthReport struct {
	Healthy          bool      `json:"healthy"`
	LastPoll         time.Time `json:"last_poll"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	LastError        string    `json:"last_error,omitempty"`
	Pending          int       `json:"pending"`
	Cached           int       `json:"cached"`
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				st := session.FromController(a.ctrl)
				staged, err := a.sess.LoadStaged(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "session  %s\n", a.sess.ID())
				fmt.Fprintf(a.out, "api      %s\n", a.client.BaseURL())
				fmt.Fprintf(a.out, "source   %s\n", st.Source)
				fmt.Fprintf(a.out, "window   %s\n", st.Window())
				fmt.Fprintf(a.out, "resume   %s\n", st.Fragment())
				ids := make([]int64, 0, len(staged))
				for id := range staged {
					ids = append(ids, id)
				}
				slices.Sort(ids)
				fmt.Fprintf(a.out, "staged   %d\n", len(ids))
				for _, id := range ids {
					fmt.Fprintf(a.out, "  %d\t%s\n", id, staged[id])
				}
				return nil
			})
		},
	}
}
