package integration

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/api/apitest"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/classify"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/entity"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/logging"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/pagination"
	"github.com/sjlongland/hackaday.io-spam-hunter/internal/session"
)

const (
	spamWord  = 100
	makerWord = 200
	spamHost  = 10
)

// TestSystem is one reviewer session against a fake moderation API.
type TestSystem struct {
	t     *testing.T
	srv   *apitest.Server
	store *entity.Store
	ctrl  *pagination.Controller
	wf    *classify.Workflow
	sess  *session.SQLiteStore
	path  string

	mu      sync.Mutex
	results map[int64]error
}

// seed returns eight newcomers: odd ids look like spam, even ids like
// makers.
func seed() []api.UserRecord {
	var recs []api.UserRecord
	for id := int64(1); id <= 8; id++ {
		rec := api.UserRecord{ID: id, ScreenName: "newcomer", Pending: true}
		if id%2 == 1 {
			rec.Groups = []string{"auto_suspect"}
			rec.AboutMe = "<p>cheap watches at spam.example</p>"
			rec.Words = map[string]api.SiteStat{"cheap": {ID: spamWord, SiteScore: -3, SiteCount: 4, UserCount: 4}}
			rec.Hostnames = map[string]api.SiteStat{"spam.example": {ID: spamHost, SiteScore: -2, SiteCount: 2, UserCount: 4}}
		} else {
			rec.Words = map[string]api.SiteStat{"maker": {ID: makerWord, SiteScore: 2, SiteCount: 2, UserCount: 4}}
		}
		recs = append(recs, rec)
	}
	return recs
}

func NewTestSystem(t *testing.T) *TestSystem {
	srv := apitest.New(seed()...)
	srv.SetPageSize(3)
	t.Cleanup(srv.Close)

	ts := &TestSystem{t: t, srv: srv, path: filepath.Join(t.TempDir(), "session.db"), results: map[int64]error{}}
	ts.open(t, api.SourceNewcomers)
	return ts
}

// open wires a fresh store, controller and workflow to the session file,
// resuming its saved window if it belongs to src.
func (ts *TestSystem) open(t *testing.T, src api.Source) {
	sess, err := session.Open(ts.path)
	require.NoError(t, err)
	ts.t.Cleanup(func() { sess.Close() })

	logger := logging.Discard()
	ts.sess = sess
	ts.store = entity.NewStore()
	ts.ctrl = pagination.New(ts.store, ts.srv.Client(), src, pagination.Options{Logger: logger})
	if st, ok, err := sess.LoadState(context.Background()); err == nil && ok && st.Source == src {
		ts.ctrl.Restore(st.Source, st.Window())
	}
	ts.ctrl.SetOnWindowChange(func(src api.Source, w pagination.Window) {
		assert.NoError(ts.t, sess.SaveState(context.Background(), session.NewState(src, w)))
	})
	ts.wf = classify.New(ts.store, ts.srv.Client(), ts.ctrl, classify.Options{
		Cooldown: -1,
		Logger:   logger,
		OnResult: func(id int64, _ entity.Action, err error) {
			ts.mu.Lock()
			ts.results[id] = err
			ts.mu.Unlock()
			if err == nil {
				assert.NoError(ts.t, sess.ClearStaged(context.Background(), id))
			}
		},
	})
}

func (ts *TestSystem) fetch(t *testing.T, d pagination.Direction) pagination.Result {
	t.Helper()
	res, err := ts.ctrl.Fetch(context.Background(), d)
	require.NoError(t, err)
	return res
}

func ids(users []*entity.User) []int64 {
	out := make([]int64, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID())
	}
	return out
}

func TestTriageFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ts := NewTestSystem(t)

	t.Run("FirstPage", func(t *testing.T) {
		testFirstPage(t, ts)
	})
	t.Run("OlderPages", func(t *testing.T) {
		testOlderPages(t, ts)
	})
	t.Run("Scores", func(t *testing.T) {
		testScores(t, ts)
	})
	t.Run("StageAndCommit", func(t *testing.T) {
		testStageAndCommit(t, ts)
	})
	t.Run("ResumeSession", func(t *testing.T) {
		testResumeSession(t, ts)
	})
	t.Run("SwitchSource", func(t *testing.T) {
		testSwitchSource(t, ts)
	})
}

// testFirstPage loads the newest page and indexes its relations.
func testFirstPage(t *testing.T, ts *TestSystem) {
	res := ts.fetch(t, pagination.Reset)
	assert.Equal(t, []int64{6, 7, 8}, ids(res.Added))
	assert.Equal(t, "[6, 8]", ts.ctrl.Window().String())

	w, ok := ts.store.Word(makerWord)
	require.True(t, ok)
	assert.ElementsMatch(t, []int64{6, 8}, ids(w.Users()))
}

// testOlderPages walks the feed to its end. The window only grows.
func testOlderPages(t *testing.T, ts *TestSystem) {
	res := ts.fetch(t, pagination.Older)
	assert.Equal(t, []int64{3, 4, 5}, ids(res.Added))
	res = ts.fetch(t, pagination.Older)
	assert.Equal(t, []int64{1, 2}, ids(res.Added))
	res = ts.fetch(t, pagination.Older)
	assert.True(t, res.Exhausted)
	assert.Empty(t, res.Added)

	assert.Equal(t, "[1, 8]", ts.ctrl.Window().String())
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, ids(ts.ctrl.Visible()))

	w, _ := ts.store.Word(spamWord)
	assert.ElementsMatch(t, []int64{1, 3, 5, 7}, ids(w.Users()))
	h, _ := ts.store.Hostname(spamHost)
	assert.Len(t, h.Users(), 4)
}

// testScores checks composite scores and their propagation.
func testScores(t *testing.T, ts *TestSystem) {
	spammer, _ := ts.store.User(1)
	maker, _ := ts.store.User(2)
	assert.Equal(t, -1.75, ts.store.CompositeScore(spammer))
	assert.Equal(t, 1.0, ts.store.CompositeScore(maker))

	w, _ := ts.store.Word(spamWord)
	ts.store.UpdateScore(w, -8, 4)
	assert.Equal(t, -3.0, ts.store.CompositeScore(spammer))
	assert.Equal(t, 1.0, ts.store.CompositeScore(maker))
}

// testStageAndCommit classifies the spammers and checks that they leave the
// view and the persisted staging.
func testStageAndCommit(t *testing.T, ts *TestSystem) {
	ctx := context.Background()
	staged := map[int64]entity.Action{}
	for _, u := range ts.ctrl.Visible() {
		if ts.store.CompositeScore(u) < 0 {
			ts.wf.Stage(u, entity.ActionSuspect)
			staged[u.ID()] = entity.ActionSuspect
		}
	}
	require.NoError(t, ts.sess.SaveStaged(ctx, staged))
	require.Equal(t, 4, ts.wf.PendingCount())

	sum, err := ts.wf.CommitAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Succeeded)
	assert.Zero(t, sum.Failed)
	assert.Zero(t, ts.wf.PendingCount())
	assert.Len(t, ts.results, 4)

	for _, id := range []int64{1, 3, 5, 7} {
		action, ok := ts.srv.Classified(id)
		assert.True(t, ok)
		assert.Equal(t, "suspect", action)

		u, _ := ts.store.User(id)
		assert.True(t, u.InGroup("suspect"), "refreshed from the server")
		assert.False(t, u.InGroup("auto_suspect"))
		assert.Equal(t, entity.ActionNone, u.PendingAction())
	}
	assert.Equal(t, []int64{2, 4, 6, 8}, ids(ts.ctrl.Visible()))

	left, err := ts.sess.LoadStaged(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

// testResumeSession reopens the session file and refetches the saved
// window. Classified users have left the newcomers feed.
func testResumeSession(t *testing.T, ts *TestSystem) {
	ts.open(t, api.SourceNewcomers)
	assert.Equal(t, "[1, 8]", ts.ctrl.Window().String())

	res := ts.fetch(t, pagination.Reset)
	assert.Equal(t, []int64{4, 6, 8}, ids(res.Added))
	assert.Equal(t, "[4, 8]", ts.ctrl.Window().String())

	reqs := ts.srv.Requests()
	assert.Equal(t, "after_user_id=0&before_user_id=9&order=desc", reqs[len(reqs)-1].Query)
}

// testSwitchSource moves to the suspect feed. Users viewed on newcomers
// leave the store along with their back-references.
func testSwitchSource(t *testing.T, ts *TestSystem) {
	ts.ctrl.SetSource(api.SourceSuspect)
	assert.True(t, ts.ctrl.Window().IsZero())
	assert.Empty(t, ts.ctrl.Visible())

	for _, id := range []int64{4, 6, 8} {
		_, ok := ts.store.User(id)
		assert.False(t, ok)
	}
	w, ok := ts.store.Word(makerWord)
	require.True(t, ok)
	assert.Empty(t, w.Users())

	res := ts.fetch(t, pagination.Reset)
	assert.Equal(t, []int64{3, 5, 7}, ids(res.Added))

	st, ok, err := ts.sess.LoadState(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, api.SourceSuspect, st.Source)
	assert.Equal(t, "[3, 7]", st.Window().String())
}
