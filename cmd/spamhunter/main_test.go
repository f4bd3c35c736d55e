package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api/apitest"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/config"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/entity"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/pagination"
)

// user builds a visible user whose only word scores raw/1.
func user(id int64, raw float64) api.UserRecord {
	return api.UserRecord{
		ID:         id,
		ScreenName: "user",
		AboutMe:    "<p>I sell <b>things</b></p>",
		Words: map[string]api.SiteStat{
			"w": {ID: 1000 + id, SiteScore: raw, SiteCount: 1, UserCount: 1},
		},
	}
}

type harness struct {
	srv    *apitest.Server
	config string
	state  string
}

func newHarness(t *testing.T, recs ...api.UserRecord) *harness {
	t.Helper()
	for _, k := range []string{config.EnvAPI, config.EnvSource, config.EnvState, config.EnvLogLevel, config.EnvLogFormat, config.EnvMetricsAddr} {
		t.Setenv(k, "")
	}
	srv := apitest.New(recs...)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := filepath.Join(dir, "spamhunter.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
log_level: error
poll_interval: 20ms
retry_cooldown: 1ms
commit_cooldown: 0s
metrics_addr: 127.0.0.1:0
`), 0o600))
	return &harness{srv: srv, config: cfg, state: filepath.Join(dir, "state.db")}
}

func (h *harness) run(ctx context.Context, args ...string) (string, error) {
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", h.config, "--api", h.srv.URL, "--state", h.state}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// dataLines returns the id column of every table row in out.
func dataLines(out string) []string {
	var ids []string
	for _, l := range strings.Split(out, "\n") {
		f := strings.Fields(l)
		if len(f) < 2 || f[1] == "shown" {
			continue
		}
		if _, err := strconv.ParseInt(f[0], 10, 64); err == nil {
			ids = append(ids, f[0])
		}
	}
	return ids
}

func TestFetchSortsByScoreAndResumes(t *testing.T) {
	h := newHarness(t, user(1, 0), user(2, 1), user(3, -1), user(4, 0.5), user(5, -0.5))
	h.srv.SetPageSize(3)
	ctx := context.Background()

	out, err := h.run(ctx, "fetch")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "5", "4"}, dataLines(out), "newest page, lowest score first")
	assert.Contains(t, out, "window [3, 5]")
	assert.Contains(t, out, "I sell things")

	// the next invocation resumes the saved window and continues older
	out, err = h.run(ctx, "fetch")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, dataLines(out))
	assert.Contains(t, out, "window [1, 5]")
	assert.Equal(t, "before_user_id=3&order=desc", h.srv.Requests()[1].Query)

	out, err = h.run(ctx, "fetch", "older")
	require.NoError(t, err)
	assert.Contains(t, out, "end of feed")
}

// stagedColumn maps each table row's id to its STAGED cell.
func stagedColumn(out string) map[string]string {
	cols := map[string]string{}
	for _, l := range strings.Split(out, "\n") {
		f := strings.Fields(l)
		if len(f) < 3 || f[1] == "shown" {
			continue
		}
		if _, err := strconv.ParseInt(f[0], 10, 64); err == nil {
			cols[f[0]] = f[2]
		}
	}
	return cols
}

func TestFetchShowsStagedColumn(t *testing.T) {
	h := newHarness(t, user(1, 0), user(2, 0), user(3, 0))
	ctx := context.Background()

	_, err := h.run(ctx, "stage", "--suspect", "2")
	require.NoError(t, err)
	out, err := h.run(ctx, "fetch")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "-", "2": "suspect", "3": "-"}, stagedColumn(out))
}

func TestSwitchingSourceStartsFresh(t *testing.T) {
	h := newHarness(t, user(1, 0), user(2, 0))
	ctx := context.Background()

	_, err := h.run(ctx, "fetch")
	require.NoError(t, err)
	out, err := h.run(ctx, "--source", "admin", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "source   admin")
	assert.Contains(t, out, "window   [-, -]")

	out, err = h.run(ctx, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "window   [1, 2]")
	assert.Contains(t, out, "resume   #newest_uid=2&oldest_uid=1&source=newcomers")
}

func TestFetchRejectsUnknownDirection(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(context.Background(), "fetch", "sideways")
	assert.ErrorContains(t, err, "unknown direction")
}

func TestStageAndCommit(t *testing.T) {
	h := newHarness(t, user(1, 0), user(2, 0), user(3, 0))
	ctx := context.Background()

	out, err := h.run(ctx, "stage", "--suspect", "1,3", "--legit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "3 users staged")
	out, err = h.run(ctx, "stage", "--none", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "2 users staged")

	out, err = h.run(ctx, "commit")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 2 committed, 0 still staged")

	action, ok := h.srv.Classified(1)
	require.True(t, ok)
	assert.Equal(t, "suspect", action)
	action, _ = h.srv.Classified(2)
	assert.Equal(t, "legit", action)
	_, ok = h.srv.Classified(3)
	assert.False(t, ok)

	out, err = h.run(ctx, "commit")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing staged")
}

func TestCommitFailureKeepsUserStaged(t *testing.T) {
	h := newHarness(t, user(1, 0), user(2, 0), user(3, 0))
	h.srv.Fail("/classify/2", http.StatusBadGateway)
	h.srv.Fail("/user/3", http.StatusNotFound)
	ctx := context.Background()

	_, err := h.run(ctx, "stage", "--suspect", "1,2,3")
	require.NoError(t, err)
	out, err := h.run(ctx, "commit")
	require.Error(t, err)
	assert.Contains(t, out, "1 of 3 committed, 2 still staged")
	assert.Contains(t, out, "2\tsuspect\tfailed")

	out, err = h.run(ctx, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "staged   2")
	assert.Contains(t, out, "  2\tsuspect")
	assert.Contains(t, out, "  3\tsuspect")

	h.srv.Fail("/classify/2", 0)
	h.srv.Fail("/user/3", 0)
	out, err = h.run(ctx, "commit")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 2 committed")
}

func TestStagedActions(t *testing.T) {
	got, err := stagedActions([]int64{1}, []int64{2, 3}, []int64{4})
	require.NoError(t, err)
	assert.Equal(t, map[int64]entity.Action{
		1: entity.ActionLegit, 2: entity.ActionSuspect, 3: entity.ActionSuspect, 4: entity.ActionNone,
	}, got)

	_, err = stagedActions([]int64{1}, []int64{1}, nil)
	assert.ErrorContains(t, err, "staged twice")
	_, err = stagedActions(nil, []int64{0}, nil)
	assert.ErrorContains(t, err, "invalid user id")
	_, err = stagedActions(nil, nil, nil)
	assert.Error(t, err)
}

func TestWatchPrintsNewUsers(t *testing.T) {
	h := newHarness(t, user(1, -1), user(2, 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := h.run(ctx, "watch")
		done <- result{out, err}
	}()

	requested := func(query string) func() bool {
		return func() bool {
			for _, r := range h.srv.Requests() {
				if strings.Contains(r.Query, query) {
					return true
				}
			}
			return false
		}
	}
	// the first page is in once the poller asks for newer users
	require.Eventually(t, requested("after_user_id=2"), 2*time.Second, 5*time.Millisecond)
	h.srv.Put(user(3, -2))
	require.Eventually(t, requested("after_user_id=3"), 2*time.Second, 5*time.Millisecond)
	cancel()

	res := <-done
	require.NoError(t, res.err)
	ids := dataLines(res.out)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestHealthAndMetricsHandler(t *testing.T) {
	h := newHarness(t, user(1, 0))
	opts := &options{configPath: h.config, api: h.srv.URL, state: h.state}
	a, err := newApp(context.Background(), opts, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	defer a.Close()

	poller := pagination.NewPoller(a.ctrl, time.Hour, a.logger)
	poller.Poll(context.Background())
	handler := a.handler(poller)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var report healthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.True(t, report.Healthy)
	assert.Equal(t, 1, report.Cached)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `spamhunter_fetches_total{direction="reset",result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "spamhunter_cached_users 1")

	h.srv.Fail("/data/newcomers", http.StatusInternalServerError)
	for i := 0; i < pagination.DefaultMaxFailures; i++ {
		time.Sleep(5 * time.Millisecond) // past the retry cooldown
		poller.Poll(context.Background())
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
