package renew

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/goleak"

	"github.com/MrEthical07/dashauth/token"
)

var testNow = time.Unix(1_700_000_000, 0)

type fakeTarget struct {
	mu       sync.Mutex
	authed   bool
	tok      string
	tokErr   error
	renewErr error
	renewed  atomic.Int32
	onRenew  func()
}

func (f *fakeTarget) IsAuthenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed
}

func (f *fakeTarget) AccessToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tok, f.tokErr
}

func (f *fakeTarget) Renew(context.Context) error {
	f.renewed.Add(1)
	if f.onRenew != nil {
		f.onRenew()
	}
	return f.renewErr
}

func tokenExpiringIn(t *testing.T, d time.Duration) string {
	t.Helper()
	raw, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, token.Claims{
		UserID:           "u-1",
		RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(testNow.Add(d))},
	}).SignedString([]byte("renew-secret-renew-secret-renew-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func newTestScheduler(target Target, opts ...Option) *Scheduler {
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	return New(DefaultConfig(), target, opts...)
}

func TestTickThresholdBoundary(t *testing.T) {
	cases := []struct {
		name      string
		remaining time.Duration
		renew     bool
	}{
		{"exactly at threshold", 5 * time.Minute, true},
		{"one second outside", 5*time.Minute + time.Second, false},
		{"well inside", time.Minute, true},
		{"already expired", -time.Minute, true},
		{"fresh", 15 * time.Minute, false},
	}

	for _, tc := range cases {
		target := &fakeTarget{authed: true, tok: tokenExpiringIn(t, tc.remaining)}
		res := newTestScheduler(target).Tick(context.Background())
		if res.Renewed != tc.renew {
			t.Fatalf("%s: expected renewed=%v, got %+v", tc.name, tc.renew, res)
		}
		if got := target.renewed.Load() == 1; got != tc.renew {
			t.Fatalf("%s: renew calls mismatch", tc.name)
		}
		if res.Remaining != tc.remaining {
			t.Fatalf("%s: expected remaining %v, got %v", tc.name, tc.remaining, res.Remaining)
		}
	}
}

func TestTickSkipsWhenUnauthenticated(t *testing.T) {
	target := &fakeTarget{tok: tokenExpiringIn(t, time.Minute)}
	res := newTestScheduler(target).Tick(context.Background())
	if !res.Skipped || res.Renewed {
		t.Fatalf("expected skipped tick, got %+v", res)
	}
	if target.renewed.Load() != 0 {
		t.Fatal("unauthenticated target must not be renewed")
	}
}

func TestTickRenewsUndecodableCredential(t *testing.T) {
	for _, raw := range []string{"", "not-a-token", "a.b"} {
		target := &fakeTarget{authed: true, tok: raw}
		res := newTestScheduler(target).Tick(context.Background())
		if !res.Renewed || !res.Undecodable {
			t.Fatalf("%q: expected renewal of undecodable credential, got %+v", raw, res)
		}
	}
}

func TestTickReportsErrors(t *testing.T) {
	readErr := errors.New("disk gone")
	target := &fakeTarget{authed: true, tokErr: readErr}
	res := newTestScheduler(target).Tick(context.Background())
	if !errors.Is(res.Err, readErr) || res.Renewed {
		t.Fatalf("expected read error without renewal, got %+v", res)
	}

	renewErr := errors.New("backend down")
	target = &fakeTarget{authed: true, tok: tokenExpiringIn(t, time.Minute), renewErr: renewErr}
	res = newTestScheduler(target).Tick(context.Background())
	if !res.Renewed || !errors.Is(res.Err, renewErr) {
		t.Fatalf("expected renew error, got %+v", res)
	}
}

func TestObserverSeesEveryTick(t *testing.T) {
	var seen []TickResult
	target := &fakeTarget{authed: true, tok: tokenExpiringIn(t, time.Hour)}
	s := newTestScheduler(target, WithObserver(func(r TickResult) { seen = append(seen, r) }))

	s.Tick(context.Background())
	s.Tick(context.Background())
	if len(seen) != 2 || seen[0].Renewed {
		t.Fatalf("unexpected observations: %+v", seen)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{}, &fakeTarget{})
	if s.Config() != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", s.Config())
	}
}

func TestLoopRenewsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	renewed := make(chan struct{}, 1)
	target := &fakeTarget{authed: true, tok: tokenExpiringIn(t, time.Minute)}
	target.onRenew = func() {
		select {
		case renewed <- struct{}{}:
		default:
		}
	}

	s := New(Config{Interval: 5 * time.Millisecond, Threshold: time.Minute}, target,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return testNow }),
	)
	if !s.Start(context.Background()) {
		t.Fatal("expected first Start to launch a loop")
	}
	if s.Start(context.Background()) {
		t.Fatal("second Start must not launch another loop")
	}

	select {
	case <-renewed:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never renewed")
	}

	s.Stop()
	s.Wait()
	if s.Running() {
		t.Fatal("scheduler still running after Stop")
	}
}

func TestStopFromInsideTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		s    *Scheduler
		once sync.Once
	)
	done := make(chan struct{})
	target := &fakeTarget{authed: true, tok: "undecodable"}
	target.onRenew = func() {
		s.Stop()
		once.Do(func() { close(done) })
	}

	s = New(Config{Interval: 5 * time.Millisecond, Threshold: time.Minute}, target,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Start(context.Background())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never ran")
	}
	s.Wait()
	if got := target.renewed.Load(); got != 1 {
		t.Fatalf("expected exactly one renewal before stop, got %d", got)
	}
}

func TestLoopEndsWithParentContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{Interval: time.Hour, Threshold: time.Minute}, &fakeTarget{},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Start(ctx)
	cancel()
	s.Wait()
	if s.Running() {
		t.Fatal("loop must clear its state when the parent context ends")
	}
	if !s.Start(context.Background()) {
		t.Fatal("expected restart after parent cancellation")
	}
	s.Stop()
	s.Wait()
}
