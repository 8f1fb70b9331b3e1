package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginSendsNormalizedEmailAndHeaders(t *testing.T) {
	var got struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api"+PathLogin || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing json headers: %v", r.Header)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing request id")
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("no bearer expected, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Login successful",
			"data": map[string]any{
				"user":        map[string]any{"id": "u1", "email": "admin@example.com"},
				"accessToken": "tok-1",
			},
		})
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL+"/api/"), WithLogger(quietLogger()))
	data, err := c.Login(context.Background(), "  Admin@Example.COM ", "secret1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.Email != "admin@example.com" || got.Password != "secret1" {
		t.Fatalf("unexpected body: %+v", got)
	}
	if data.AccessToken != "tok-1" || data.Message != "Login successful" {
		t.Fatalf("unexpected auth data: %+v", data)
	}
}

func TestBearerAttachedWhenHeld(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer held-token" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"user": map[string]any{"id": "u1"}}})
	}))
	defer server.Close()

	c := NewClient(
		WithBaseURL(server.URL),
		WithLogger(quietLogger()),
		WithTokenSource(TokenSourceFunc(func(context.Context) (string, error) { return "held-token", nil })),
	)
	if _, err := c.Profile(context.Background()); err != nil {
		t.Fatalf("profile: %v", err)
	}
}

func TestRefreshCookieReplayedByDefaultJar(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathLogin:
			http.SetCookie(w, &http.Cookie{Name: "refreshToken", Value: "r1", Path: "/", HttpOnly: true})
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"user": map[string]any{"id": "u1"}, "accessToken": "a1"}})
		case PathRefresh:
			ck, err := r.Cookie("refreshToken")
			if err != nil || ck.Value != "r1" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "no refresh cookie"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"user": map[string]any{"id": "u1"}, "accessToken": "a2"}})
		}
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithLogger(quietLogger()))
	if _, err := c.Login(context.Background(), "a@b.c", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	data, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if data.AccessToken != "a2" {
		t.Fatalf("expected rotated token, got %q", data.AccessToken)
	}
}

func TestStatusCodeClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
		target error
	}{
		{http.StatusUnauthorized, KindUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, KindForbidden, ErrForbidden},
		{http.StatusNotFound, KindNotFound, ErrNotFound},
		{http.StatusTooManyRequests, KindRateLimited, ErrRateLimited},
		{http.StatusInternalServerError, KindServerError, ErrServerError},
		{http.StatusBadGateway, KindServerError, ErrServerError},
		{http.StatusBadRequest, KindClientError, ErrClientError},
		{http.StatusConflict, KindClientError, ErrClientError},
	}

	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tc.status, map[string]any{"success": false, "error": "boom"})
		}))
		c := NewClient(WithBaseURL(server.URL), WithLogger(quietLogger()))
		_, err := c.Refresh(context.Background())
		server.Close()

		var te *Error
		if !errors.As(err, &te) {
			t.Fatalf("%d: expected *Error, got %v", tc.status, err)
		}
		if te.Kind != tc.kind || te.Status != tc.status || te.Message != "boom" {
			t.Fatalf("%d: unexpected error %+v", tc.status, te)
		}
		if !errors.Is(err, tc.target) {
			t.Fatalf("%d: errors.Is(%v) failed", tc.status, tc.target)
		}
	}
}

func TestErrorMessageFallbacks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathLogout:
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "from message"})
		default:
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "<html>down</html>")
		}
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithLogger(quietLogger()))

	_, err := c.Logout(context.Background())
	var te *Error
	if !errors.As(err, &te) || te.Message != "from message" {
		t.Fatalf("expected message fallback, got %v", err)
	}

	_, err = c.LogoutAll(context.Background())
	if !errors.As(err, &te) || te.Message != "HTTP 503" || te.Kind != KindServerError {
		t.Fatalf("expected HTTP code fallback, got %v", err)
	}
}

func TestSuccessFalseOn2xxIsClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Login failed"})
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithLogger(quietLogger()))
	_, err := c.Login(context.Background(), "a@b.c", "secret1")
	if KindOf(err) != KindClientError {
		t.Fatalf("expected client_error, got %v", err)
	}
}

func TestMissingAccessTokenIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"user": map[string]any{"id": "u1"}}})
	}))
	defer server.Close()

	c := NewClient(WithBaseURL(server.URL), WithLogger(quietLogger()))
	if _, err := c.Refresh(context.Background()); KindOf(err) != KindClientError {
		t.Fatalf("expected client_error for missing token, got %v", err)
	}
}

func TestTimeoutIsDistinctKind(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(WithBaseURL(server.URL), WithTimeout(50*time.Millisecond), WithLogger(quietLogger()))
	_, err := c.Status(context.Background())
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("expected errors.Is(err, ErrTimeout)")
	}
	var te *Error
	errors.As(err, &te)
	if !te.Kind.Transient() {
		t.Fatal("timeouts must be transient")
	}
}

func TestCallerCancellationIsNetworkNotTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := NewClient(WithBaseURL(server.URL), WithLogger(quietLogger()))
	_, err := c.Status(ctx)
	if KindOf(err) != KindNetwork {
		t.Fatalf("expected network kind on caller cancel, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped context.Canceled, got %v", err)
	}
}

func TestUnreachableIsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := server.URL
	server.Close()

	c := NewClient(WithBaseURL(addr), WithLogger(quietLogger()))
	_, err := c.Logout(context.Background())
	if KindOf(err) != KindNetwork {
		t.Fatalf("expected network kind, got %v", err)
	}
}

func TestObserverSeesEveryCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "health") {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok"})
			return
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"success": false})
	}))
	defer server.Close()

	var calls, limited atomic.Int32
	c := NewClient(WithBaseURL(server.URL), WithLogger(quietLogger()), WithObserver(func(op string, _ time.Duration, kind Kind) {
		calls.Add(1)
		if kind == KindRateLimited {
			limited.Add(1)
		}
	}))
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if _, err := c.Validate(context.Background()); KindOf(err) != KindRateLimited {
		t.Fatalf("expected rate limited validate, got %v", err)
	}

	if calls.Load() != 2 || limited.Load() != 1 {
		t.Fatalf("unexpected observer counts calls=%d limited=%d", calls.Load(), limited.Load())
	}
}

func TestMessageOverrides(t *testing.T) {
	login := Messages{
		Unauthorized: "Invalid email or password",
		ServerError:  "Login service unavailable. Please try again later.",
	}
	if got := Message(&Error{Kind: KindUnauthorized}, login); got != "Invalid email or password" {
		t.Fatalf("unexpected override: %q", got)
	}
	if got := Message(&Error{Kind: KindUnauthorized}, Messages{}); got != MsgSessionExpired {
		t.Fatalf("unexpected default: %q", got)
	}
	if got := Message(&Error{Kind: KindClientError, Message: "Email taken"}, login); got != "Email taken" {
		t.Fatalf("client errors keep backend text, got %q", got)
	}
	if got := Message(&Error{Kind: KindForbidden}, login); got != MsgAccessDenied {
		t.Fatalf("unexpected forbidden text: %q", got)
	}
	if Message(nil, login) != "" {
		t.Fatal("nil error must map to empty message")
	}
}
