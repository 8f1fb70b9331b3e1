package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newRedisTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "test", ttl), mr
}

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "creds.db")
	s, err := OpenSQLite(context.Background(), dsn, WithNamespace("test"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	rs, _ := newRedisTestStore(t, 0)
	return map[string]Store{
		"memory": NewMemoryStore("test"),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "creds.json"), "test", testLogger()),
		"redis":  rs,
		"sqlite": newSQLiteTestStore(t),
	}
}

func TestStoreSlotSemantics(t *testing.T) {
	ctx := context.Background()
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := st.Get(ctx, SlotToken)
			if err != nil || got != nil {
				t.Fatalf("absent slot: got %q err %v", got, err)
			}

			if err := st.Set(ctx, SlotToken, []byte("tok-1")); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := st.Set(ctx, SlotUser, []byte(`{"id":"u1"}`)); err != nil {
				t.Fatalf("set user: %v", err)
			}
			if err := st.Set(ctx, SlotToken, []byte("tok-2")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}

			got, err = st.Get(ctx, SlotToken)
			if err != nil || string(got) != "tok-2" {
				t.Fatalf("expected tok-2, got %q err %v", got, err)
			}

			if err := st.Set(ctx, SlotToken, nil); err != nil {
				t.Fatalf("set nil: %v", err)
			}
			if got, _ := st.Get(ctx, SlotToken); got != nil {
				t.Fatalf("set(nil) must clear the slot, got %q", got)
			}

			user, _ := st.Get(ctx, SlotUser)
			if string(user) != `{"id":"u1"}` {
				t.Fatalf("clearing one slot must not touch another, got %q", user)
			}

			if err := st.Delete(ctx, SlotUser); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := st.Delete(ctx, SlotUser); err != nil {
				t.Fatalf("second delete must be a no-op: %v", err)
			}
		})
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.json")
	a := NewFileStore(path, "a", testLogger())
	b := NewFileStore(path, "b", testLogger())

	if err := a.Set(ctx, SlotToken, []byte("A")); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if got, _ := b.Get(ctx, SlotToken); got != nil {
		t.Fatalf("namespace b must not see a's token, got %q", got)
	}
	if Key("", SlotToken) != "dashauth:accessToken" {
		t.Fatalf("unexpected default key %q", Key("", SlotToken))
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "creds.json")

	first := NewFileStore(path, "", testLogger())
	if err := first.Set(ctx, SlotToken, []byte("persisted")); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = first.Close()

	second := NewFileStore(path, "", testLogger())
	got, err := second.Get(ctx, SlotToken)
	if err != nil || string(got) != "persisted" {
		t.Fatalf("expected value after reopen, got %q err %v", got, err)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	st := NewFileStore(path, "", testLogger())
	if _, err := st.Get(ctx, SlotToken); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}

	if err := st.Set(ctx, SlotToken, []byte("fresh")); err != nil {
		t.Fatalf("write over corrupt file: %v", err)
	}
	if got, err := st.Get(ctx, SlotToken); err != nil || !bytes.Equal(got, []byte("fresh")) {
		t.Fatalf("expected fresh, got %q err %v", got, err)
	}
}

func TestClosedStoresReject(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore("")
	_ = mem.Close()
	if _, err := mem.Get(ctx, SlotToken); !errors.Is(err, ErrClosed) {
		t.Fatalf("memory: expected ErrClosed, got %v", err)
	}

	file := NewFileStore(filepath.Join(t.TempDir(), "c.json"), "", testLogger())
	_ = file.Close()
	if err := file.Set(ctx, SlotToken, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("file: expected ErrClosed, got %v", err)
	}
}

func TestRedisStoreAppliesTTL(t *testing.T) {
	ctx := context.Background()
	st, mr := newRedisTestStore(t, time.Minute)

	if err := st.Set(ctx, SlotToken, []byte("tok")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := mr.TTL(Key("test", SlotToken)); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if got, err := st.Get(ctx, SlotToken); err != nil || got != nil {
		t.Fatalf("expected expired slot, got %q err %v", got, err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	st, mr := newRedisTestStore(t, 0)
	mr.Close()

	_, err := st.Get(context.Background(), SlotToken)
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestSQLiteRejectsBadTableName(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "x.db")
	if _, err := OpenSQLite(context.Background(), dsn, WithTable("kv; DROP TABLE kv")); err == nil {
		t.Fatal("expected invalid identifier error")
	}
}

func TestCredentialsTypedAccess(t *testing.T) {
	ctx := context.Background()
	creds := NewCredentials(NewMemoryStore(""))

	if tok, err := creds.Token(ctx); err != nil || tok != "" {
		t.Fatalf("expected empty token, got %q err %v", tok, err)
	}
	if err := creds.SetToken(ctx, "abc"); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if err := creds.SetUser(ctx, []byte(`{"id":"1"}`)); err != nil {
		t.Fatalf("set user: %v", err)
	}
	if err := creds.SetSnapshot(ctx, &Snapshot{User: []byte(`{"id":"1"}`), IsAuthenticated: true, Status: "authenticated"}); err != nil {
		t.Fatalf("set snapshot: %v", err)
	}
	if err := creds.SetCookies(ctx, []byte(`[{"name":"refreshToken"}]`)); err != nil {
		t.Fatalf("set cookies: %v", err)
	}
	if raw, err := creds.Cookies(ctx); err != nil || len(raw) == 0 {
		t.Fatalf("expected saved cookies, got %q err %v", raw, err)
	}

	if err := creds.ClearAuth(ctx); err != nil {
		t.Fatalf("clear auth: %v", err)
	}
	if tok, _ := creds.Token(ctx); tok != "" {
		t.Fatalf("token must be cleared, got %q", tok)
	}
	if raw, _ := creds.Cookies(ctx); raw != nil {
		t.Fatalf("cookies must be cleared, got %q", raw)
	}
	if snap, _ := creds.Snapshot(ctx); snap == nil {
		t.Fatal("ClearAuth must keep the snapshot slot")
	}

	if err := creds.ClearAll(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if snap, err := creds.Snapshot(ctx); err != nil || snap != nil {
		t.Fatalf("expected absent snapshot, got %+v err %v", snap, err)
	}
}
