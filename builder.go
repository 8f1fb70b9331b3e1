package dashauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/MrEthical07/dashauth/internal/audit"
	"github.com/MrEthical07/dashauth/renew"
	"github.com/MrEthical07/dashauth/store"
	"github.com/MrEthical07/dashauth/transport"
)

// Builder assembles a [Manager].
//
// Builder instances are configured during initialization and used once.
type Builder struct {
	config     Config
	store      store.Store
	redis      redis.UniversalClient
	api        Transport
	httpClient *http.Client
	auditSink  AuditSink
	notifier   Notifier
	logger     *slog.Logger
	clock      func() time.Time

	built bool
}

// New starts a Builder with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore supplies the credential store. The manager does not close a
// store it was given.
//
// WithStore overrides Config.Storage.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis supplies the client used by the redis storage backend.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithTransport replaces the backend client. Config.API is ignored when a
// transport is supplied.
func (b *Builder) WithTransport(t Transport) *Builder {
	b.api = t
	return b
}

// WithHTTPClient sets the HTTP client of the default transport. It should
// carry a cookie jar, or refresh will never see the refresh cookie. Only a
// *transport.SessionJar lets the refresh cookie be saved across restarts.
func (b *Builder) WithHTTPClient(hc *http.Client) *Builder {
	b.httpClient = hc
	return b
}

// WithAuditSink enables audit events and routes them to sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// WithNotifier receives notices for user-initiated actions.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides time.Now for expiry decisions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, opens the credential store and seeds
// the session from its snapshot.
//
// The seeded session is only trusted when the stored credential and user
// are both present; otherwise the manager starts unauthenticated. Build
// starts no renewal loop: that happens once a transition reaches
// authenticated, typically via [Manager.Initialize].
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.clock
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.Timeout)
	defer cancel()

	backing, closers, err := b.openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	b.built = true

	baseCtx, cancelBase := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		creds:      store.NewCredentials(backing),
		logger:     logger,
		metrics:    NewMetrics(cfg.Metrics),
		notify:     b.notifier,
		now:        now,
		closers:    closers,
		baseCtx:    baseCtx,
		cancelBase: cancelBase,
		state:      Session{Status: StatusIdle},
	}

	m.api = b.api
	if m.api == nil {
		opts := []transport.Option{
			transport.WithBaseURL(cfg.API.BaseURL),
			transport.WithTimeout(cfg.API.Timeout),
			transport.WithLogger(logger),
			transport.WithTokenSource(transport.TokenSourceFunc(m.creds.Token)),
			transport.WithObserver(func(_ string, elapsed time.Duration, _ transport.Kind) {
				m.metrics.Observe(MetricTransportLatency, elapsed)
			}),
		}
		if cfg.API.UserAgent != "" {
			opts = append(opts, transport.WithUserAgent(cfg.API.UserAgent))
		}
		if b.httpClient != nil {
			opts = append(opts, transport.WithHTTPClient(b.httpClient))
		}
		m.api = transport.NewClient(opts...)
	}

	if cfg.Audit.Enabled {
		m.audit = internalaudit.NewDispatcher(internalaudit.Config{
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink)
	}

	m.renewer = renew.New(
		renew.Config{Interval: cfg.Renewal.Interval, Threshold: cfg.Renewal.Threshold},
		renewTarget{m: m},
		renew.WithLogger(logger),
		renew.WithClock(now),
		renew.WithObserver(func(r renew.TickResult) {
			if r.Skipped {
				return
			}
			m.metrics.Inc(MetricRenewalTick)
			if r.Renewed {
				m.metrics.Inc(MetricRenewalTriggered)
			}
		}),
	)

	m.seed(ctx)
	return m, nil
}

// openStore returns the configured backend and the resources the manager
// must close.
func (b *Builder) openStore(ctx context.Context, cfg StorageConfig, logger *slog.Logger) (store.Store, []io.Closer, error) {
	if b.store != nil {
		return b.store, nil, nil
	}

	switch cfg.Backend {
	case BackendMemory:
		s := store.NewMemoryStore(cfg.Namespace)
		return s, []io.Closer{s}, nil
	case BackendFile:
		s := store.NewFileStore(cfg.Path, cfg.Namespace, logger)
		return s, []io.Closer{s}, nil
	case BackendSQLite:
		s, err := store.OpenSQLite(ctx, cfg.DSN, store.WithNamespace(cfg.Namespace))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, []io.Closer{s}, nil
	case BackendRedis:
		rdb := b.redis
		var closers []io.Closer
		if rdb == nil {
			if cfg.RedisAddr == "" {
				return nil, nil, fmt.Errorf("%w: redis backend requires WithRedis or Storage.RedisAddr", ErrInvalidConfig)
			}
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
			rdb = client
			closers = append(closers, client)
		}
		s := store.NewRedisStore(rdb, cfg.Namespace, cfg.RedisTTL)
		if _, err := s.Ping(ctx); err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, nil, err
		}
		return s, append(closers, s), nil
	}
	return nil, nil, fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, cfg.Backend)
}

// seed restores the last persisted session, then drops it again unless the
// credential and user slots back it.
func (m *Manager) seed(ctx context.Context) {
	snap, err := m.creds.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, store.ErrMalformedSnapshot) || errors.Is(err, store.ErrCorrupt) {
			m.metrics.Inc(MetricMalformedLocalData)
		}
		m.logger.Warn("ignoring unreadable session snapshot", "error", err)
		snap = nil
	}

	restored, err := Restore(snap)
	if err != nil {
		m.metrics.Inc(MetricMalformedLocalData)
		m.logger.Warn("ignoring malformed session snapshot", "error", err)
	}
	if restored.Status != StatusAuthenticated {
		m.state = restored
		return
	}

	if _, err := m.loadCredentials(ctx); err != nil {
		if !localDataAbsent(err) {
			// Leave storage alone; Initialize retries the read.
			m.state = Session{Status: StatusIdle}
			return
		}
		if cerr := m.creds.ClearAll(ctx); cerr != nil {
			m.logger.Warn("clearing stale session failed", "error", cerr)
		}
		m.state = Session{Status: StatusUnauthenticated}
		return
	}
	m.restoreCookies(ctx)
	m.state = restored
}
