package renew

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/dashauth/token"
)

// Target is the session the scheduler keeps alive.
type Target interface {
	IsAuthenticated() bool
	AccessToken(ctx context.Context) (string, error)
	Renew(ctx context.Context) error
}

// Config sets the tick period and the renewal window.
type Config struct {
	Interval  time.Duration
	Threshold time.Duration
}

// DefaultConfig ticks every 4 minutes and renews tokens with 5 minutes or
// less remaining.
func DefaultConfig() Config {
	return Config{
		Interval:  4 * time.Minute,
		Threshold: 5 * time.Minute,
	}
}

// TickResult describes one tick.
type TickResult struct {
	// Skipped is true when the target was not authenticated.
	Skipped bool
	// Renewed is true when the target was asked to renew.
	Renewed bool
	// Undecodable is true when the credential had no readable expiry.
	Undecodable bool
	Remaining   time.Duration
	// Err is the token read or renewal error, if any.
	Err error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithObserver is called after every tick.
func WithObserver(fn func(TickResult)) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// Scheduler owns at most one background loop at a time.
type Scheduler struct {
	cfg      Config
	target   Target
	now      func() time.Time
	logger   *slog.Logger
	observer func(TickResult)

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped scheduler. Zero config fields take the defaults.
func New(cfg Config, target Target, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	s := &Scheduler{
		cfg:    cfg,
		target: target,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Start launches the loop unless one is already running. It reports whether
// a new loop was started. The loop ends when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.gen++
	gen := s.gen
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(runCtx, gen)
	s.logger.Debug("renewal scheduler started", "interval", s.cfg.Interval, "threshold", s.cfg.Threshold)
	return true
}

// Stop cancels the running loop without waiting for it. It is safe to call
// from inside a tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.logger.Debug("renewal scheduler stopped")
}

// Wait blocks until every loop started so far has exited. It must not be
// called from inside a tick.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Running reports whether a loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if s.gen == gen && s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.Tick(ctx)
		}
	}
}

// Tick runs one check synchronously.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	res := s.tick(ctx)
	if s.observer != nil {
		s.observer(res)
	}
	return res
}

func (s *Scheduler) tick(ctx context.Context) TickResult {
	if !s.target.IsAuthenticated() {
		return TickResult{Skipped: true}
	}

	raw, err := s.target.AccessToken(ctx)
	if err != nil {
		s.logger.Warn("renewal tick could not read credential", "error", err)
		return TickResult{Err: err}
	}

	renew, remaining, decodable := Due(raw, s.cfg.Threshold, s.now())
	res := TickResult{Remaining: remaining, Undecodable: !decodable}
	if !renew {
		return res
	}

	res.Renewed = true
	if err := s.target.Renew(ctx); err != nil {
		res.Err = err
		s.logger.Info("scheduled renewal failed", "remaining", remaining, "error", err)
	}
	return res
}

// Due reports whether raw should be renewed at now. A credential without a
// decodable expiry is always due.
func Due(raw string, threshold time.Duration, now time.Time) (due bool, remaining time.Duration, decodable bool) {
	info, ok := token.DecodeAt(raw, now)
	if !ok || info.ExpiresAt.IsZero() {
		return true, 0, false
	}
	remaining = info.Remaining(now)
	return info.ExpiresWithin(threshold, now), remaining, true
}
