package syncsvc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-groceries/backend/internal/groceries"
	"go.uber.org/zap"
)

// defaultDebounce is the quiet period after the last local mutation before an
// automatic outbound sync fires.
const defaultDebounce = 5 * time.Second

// OutboundSyncer is the slice of the outbound controller the scheduler needs.
type OutboundSyncer interface {
	SyncTo(ctx context.Context, existing *Location, automatic bool) (string, error)
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Registry *Registry
	Outbound OutboundSyncer
	Debounce time.Duration
	// OnResult, when set, receives the outcome of each debounced sync attempt.
	OnResult func(url string, err error)
	Logger   *zap.Logger
}

// Scheduler coalesces bursts of local mutations into one automatic outbound
// sync. Register Notify as a store mutation observer; every tracked write
// restarts the debounce window, and when the window elapses uninterrupted a
// single sync-to runs with the queue cleared regardless of its outcome.
type Scheduler struct {
	registry *Registry
	outbound OutboundSyncer
	debounce time.Duration
	onResult func(url string, err error)
	log      *zap.Logger

	mu      sync.Mutex
	queue   []groceries.Mutation
	timer   *time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler validates the configuration and returns a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("syncsvc: registry is required")
	}
	if cfg.Outbound == nil {
		return nil, errors.New("syncsvc: outbound controller is required")
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		registry: cfg.Registry,
		outbound: cfg.Outbound,
		debounce: debounce,
		onResult: cfg.OnResult,
		log:      logger,
	}, nil
}

// Notify appends one mutation to the queue and (re)starts the debounce
// window. It satisfies groceries.MutationObserver.
func (s *Scheduler) Notify(mutation groceries.Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.queue = append(s.queue, mutation)

	if s.timer != nil && s.timer.Stop() {
		// The pending window was cancelled before firing; release its waiter.
		s.wg.Done()
	}
	s.wg.Add(1)
	s.timer = time.AfterFunc(s.debounce, func() {
		defer s.wg.Done()
		s.fire()
	})
}

// Pending returns a copy of the queued mutations, for status surfaces.
func (s *Scheduler) Pending() []groceries.Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make([]groceries.Mutation, len(s.queue))
	copy(pending, s.queue)
	return pending
}

// Stop cancels any pending debounce timer and waits for an in-flight firing
// to finish. After Stop the scheduler ignores further notifications.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.timer != nil {
		if s.timer.Stop() {
			// Timer cancelled before firing; release its waiter.
			s.wg.Done()
		}
		s.timer = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("debounce scheduler stopped")
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	pending := len(s.queue)
	s.queue = s.queue[:0]
	s.timer = nil
	s.mu.Unlock()

	if pending == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	location, err := s.registry.Find(ctx, DirectionTo)
	if err != nil {
		s.report("", err)
		return
	}
	if location == nil || !location.Automatic {
		s.log.Debug("debounced sync skipped, automatic outbound sync not configured",
			zap.Int("mutations", pending))
		return
	}

	s.log.Info("debounced sync triggered", zap.Int("mutations", pending))
	url, err := s.outbound.SyncTo(ctx, location, true)
	if err != nil {
		s.log.Warn("debounced sync failed", zap.Error(err))
	}
	s.report(url, err)
}

func (s *Scheduler) report(url string, err error) {
	if s.onResult != nil {
		s.onResult(url, err)
	}
}
