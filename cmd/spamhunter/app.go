package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/classify"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/config"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/entity"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/logging"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/metrics"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/pagination"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/session"
)

// app wires every component for one command invocation.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	out    io.Writer

	reg    *prometheus.Registry
	rec    *metrics.Recorder
	store  *entity.Store
	client *api.Client
	sess   *session.SQLiteStore
	ctrl   *pagination.Controller
	wf     *classify.Workflow
}

func newApp(ctx context.Context, opts *options, out, errOut io.Writer) (*app, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: errOut})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	sess, err := session.Open(cfg.State)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		out:    out,
		reg:    reg,
		rec:    rec,
		store:  entity.NewStore(),
		client: api.NewClient(cfg.API, &http.Client{Timeout: cfg.RequestTimeout}),
		sess:   sess,
	}
	a.store.SetOnChange(func(entity.Change) { rec.SetCached(a.store.Len()) })

	a.ctrl = pagination.New(a.store, a.client, cfg.Source, pagination.Options{
		MaxChain:      cfg.MaxChain,
		RetryCooldown: cfg.RetryCooldown,
		Logger:        logger,
		OnFetch: func(res pagination.Result, err error) {
			rec.ObserveFetch(res.Direction, err)
		},
	})
	if err := a.resume(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	a.ctrl.SetOnWindowChange(func(src api.Source, w pagination.Window) {
		if err := sess.SaveState(context.Background(), session.NewState(src, w)); err != nil {
			logger.Warn("saving window failed", "error", err)
		}
	})

	cooldown := cfg.CommitCooldown
	if cooldown == 0 {
		cooldown = -1
	}
	a.wf = classify.New(a.store, a.client, a.ctrl, classify.Options{
		Cooldown:    cooldown,
		Concurrency: cfg.CommitConcurrency,
		Logger:      logger,
		OnResult:    a.committed,
	})
	a.wf.SetOnPendingChange(rec.SetPending)
	return a, nil
}

// resume restores the saved window if it belongs to the configured feed.
// Switching feed starts from an empty window.
func (a *app) resume(ctx context.Context) error {
	st, ok, err := a.sess.LoadState(ctx)
	if err != nil {
		return err
	}
	if !ok || st.Source != a.cfg.Source {
		return nil
	}
	a.ctrl.Restore(st.Source, st.Window())
	a.logger.Debug("session resumed", "session_id", a.sess.ID(), "source", st.Source, "window", st.Window().String())
	return nil
}

// committed forgets a successfully committed user's staged action.
func (a *app) committed(id int64, action entity.Action, err error) {
	a.rec.ObserveCommit(err)
	if err != nil {
		return
	}
	if err := a.sess.ClearStaged(context.Background(), id); err != nil {
		a.logger.Warn("clearing staged action failed", "user_id", id, "action", action, "error", err)
	}
}

func (a *app) Close() error {
	return a.sess.Close()
}
