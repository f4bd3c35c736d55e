// Package metrics exposes the triage status surface: how many users are
// cached and staged, and how fetches and commits have fared.
//
// A Recorder registers its collectors on a caller-provided registry so
// tests can use a private one and the watch command can serve it with
// promhttp.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/pagination"
)

const namespace = "spamhunter"

// Fetch and commit result label values.
const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultStale       = "stale"
	ResultInFlight    = "in_flight"
	ResultCoolingDown = "cooling_down"
)

// Snapshot is the status line shown by the CLI.
type Snapshot struct {
	Cached      int
	Outstanding int // staged, not yet committed
	Failed      int // commit failures since start
	LastFailure string
}

// Recorder records fetch and commit outcomes.
type Recorder struct {
	fetches *prometheus.CounterVec
	commits *prometheus.CounterVec
	pending prometheus.Gauge
	cached  prometheus.Gauge

	mu   sync.Mutex
	snap Snapshot
}

// NewRecorder creates a recorder and registers its collectors on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Feed fetches by direction and result",
		}, []string{"direction", "result"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Per-user classification commits by result",
		}, []string{"result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_users",
			Help:      "Users staged for classification",
		}),
		cached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_users",
			Help:      "Users held in the entity cache",
		}),
	}
	for _, c := range []prometheus.Collector{r.fetches, r.commits, r.pending, r.cached} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ObserveFetch counts one completed Fetch.
func (r *Recorder) ObserveFetch(d pagination.Direction, err error) {
	r.fetches.WithLabelValues(d.String(), fetchResult(err)).Inc()
}

func fetchResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, pagination.ErrStale):
		return ResultStale
	case errors.Is(err, pagination.ErrFetchInFlight):
		return ResultInFlight
	case errors.Is(err, pagination.ErrCoolingDown):
		return ResultCoolingDown
	default:
		return ResultError
	}
}

// ObserveCommit counts one settled or failed user commit.
func (r *Recorder) ObserveCommit(err error) {
	if err == nil {
		r.commits.WithLabelValues(ResultOK).Inc()
		return
	}
	r.commits.WithLabelValues(ResultError).Inc()
	r.mu.Lock()
	r.snap.Failed++
	r.snap.LastFailure = err.Error()
	r.mu.Unlock()
}

// SetPending records the number of staged users.
func (r *Recorder) SetPending(n int) {
	r.pending.Set(float64(n))
	r.mu.Lock()
	r.snap.Outstanding = n
	r.mu.Unlock()
}

// SetCached records the number of cached users.
func (r *Recorder) SetCached(n int) {
	r.cached.Set(float64(n))
	r.mu.Lock()
	r.snap.Cached = n
	r.mu.Unlock()
}

// Snapshot returns the current counts.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}
