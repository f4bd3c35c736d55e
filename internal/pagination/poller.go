package pagination

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sjlongland/hackaday.io-spam-hunter/internal/entity"
)

// DefaultMaxFailures is how many consecutive failed polls mark a Poller
// unhealthy.
const DefaultMaxFailures = 3

// PollStatus is a snapshot of a Poller's progress.
type PollStatus struct {
	LastPoll         time.Time // last attempt
	LastSuccess      time.Time // last attempt that completed without error
	ConsecutiveFails int
	Healthy          bool
	LastError        error
}

// Poller periodically fetches newer users so that newly registered
// accounts appear without reviewer interaction.
//
// Thread-safe: All methods are safe for concurrent access.
type Poller struct {
	ctrl        *Controller
	interval    time.Duration
	maxFailures int
	logger      *slog.Logger

	onNew       func(users []*entity.User)
	onUnhealthy func(err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	status PollStatus
}

// NewPoller creates a poller driving ctrl every interval. The poller starts
// healthy and becomes unhealthy after DefaultMaxFailures consecutive
// failures.
//
// Example:
//
//	p := pagination.NewPoller(ctrl, 30*time.Second, logger)
//	p.SetOnNew(func(users []*entity.User) { ... })
//	go p.Start(ctx)
//	defer p.Stop()
func NewPoller(ctrl *Controller, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		ctrl:        ctrl,
		interval:    interval,
		maxFailures: DefaultMaxFailures,
		logger:      logger.With("component", "poller"),
		ctx:         ctx,
		cancel:      cancel,
		status:      PollStatus{Healthy: true},
	}
}

// SetOnNew sets the callback invoked with the displayable users each
// successful poll adds. It is not called for empty polls.
func (p *Poller) SetOnNew(fn func(users []*entity.User)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNew = fn
}

// SetOnUnhealthy sets the callback invoked once when consecutive failures
// reach the threshold.
func (p *Poller) SetOnUnhealthy(fn func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUnhealthy = fn
}

// Start polls until ctx or the poller is cancelled. It polls once
// immediately and blocks.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.interval)
	p.Poll(ctx)
	for {
		select {
		case <-ticker.C:
			p.Poll(ctx)
		case <-ctx.Done():
			p.logger.Info("poller stopping", "reason", "context")
			return
		case <-p.ctx.Done():
			p.logger.Info("poller stopping", "reason", "stop")
			return
		}
	}
}

// Stop cancels Start and waits for it to return.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Poll runs one fetch. With no window yet it loads the first page,
// otherwise it asks for newer users. A fetch skipped because another is in
// flight or the controller is cooling down counts as neither success nor
// failure.
func (p *Poller) Poll(ctx context.Context) {
	d := Newer
	if p.ctrl.Window().IsZero() {
		d = Reset
	}
	res, err := p.ctrl.Fetch(ctx, d)
	if errors.Is(err, ErrFetchInFlight) || errors.Is(err, ErrCoolingDown) {
		p.logger.Debug("poll skipped", "reason", err)
		return
	}

	p.mu.Lock()
	now := time.Now()
	p.status.LastPoll = now
	var (
		onNew       func([]*entity.User)
		onUnhealthy func(error)
	)
	if err != nil {
		p.status.ConsecutiveFails++
		p.status.LastError = err
		p.logger.Warn("poll failed", "attempt", p.status.ConsecutiveFails, "max", p.maxFailures, "error", err)
		if p.status.ConsecutiveFails >= p.maxFailures && p.status.Healthy {
			p.status.Healthy = false
			onUnhealthy = p.onUnhealthy
		}
	} else {
		if !p.status.Healthy {
			p.logger.Info("poller recovered")
		}
		p.status.Healthy = true
		p.status.ConsecutiveFails = 0
		p.status.LastError = nil
		p.status.LastSuccess = now
		if len(res.Added) > 0 {
			onNew = p.onNew
		}
	}
	p.mu.Unlock()

	// callbacks run without holding the lock
	if onUnhealthy != nil {
		onUnhealthy(err)
	}
	if onNew != nil {
		onNew(res.Added)
	}
}

// Status returns a copy of the poller's status.
func (p *Poller) Status() PollStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}
