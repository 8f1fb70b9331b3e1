package authtest

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/MrEthical07/dashauth/token"
	"github.com/MrEthical07/dashauth/transport"
)

// RefreshCookie is the name of the refresh credential cookie.
const RefreshCookie = "refreshToken"

// Low-cost parameters; the fake backend hashes on every login.
var hashParams = &argon2id.Params{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// User is the profile record returned by the backend.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type account struct {
	user User
	hash string
}

type failure struct {
	status  int
	message string
	times   int
}

// Option configures a Server.
type Option func(*Server)

// WithAccessTTL sets the lifetime of issued access tokens (default 15m).
func WithAccessTTL(d time.Duration) Option {
	return func(s *Server) { s.accessTTL = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithSecret sets the HS256 signing key.
func WithSecret(secret []byte) Option {
	return func(s *Server) { s.secret = secret }
}

// Server is the fake backend.
type Server struct {
	mu        sync.Mutex
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
	logger    *slog.Logger

	accounts map[string]*account // by lower-case email
	byID     map[string]*account
	sessions map[string]string // refresh token -> user id
	failures map[string]*failure
	latency  time.Duration
	calls    map[string]int

	router *mux.Router
}

// New creates an empty backend.
func New(opts ...Option) *Server {
	s := &Server{
		secret:    []byte(uuid.NewString() + uuid.NewString()),
		accessTTL: 15 * time.Minute,
		now:       time.Now,
		logger:    slog.Default(),
		accounts:  map[string]*account{},
		byID:      map[string]*account{},
		sessions:  map[string]string{},
		failures:  map[string]*failure{},
		calls:     map[string]int{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Start serves the backend on a loopback listener. The caller must Close
// the returned server.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s)
}

// AddUser registers an active account and returns its profile.
func (s *Server) AddUser(email, password, role string) (User, error) {
	hash, err := argon2id.CreateHash(password, hashParams)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	acct := &account{
		user: User{
			ID:        uuid.NewString(),
			Email:     strings.ToLower(strings.TrimSpace(email)),
			Role:      role,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		hash: hash,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[acct.user.Email]; exists {
		return User{}, errors.New("authtest: email already registered")
	}
	s.accounts[acct.user.Email] = acct
	s.byID[acct.user.ID] = acct
	return acct.user, nil
}

// Deactivate marks the account inactive; its logins are refused with 403.
func (s *Server) Deactivate(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[strings.ToLower(email)]; ok {
		acct.user.IsActive = false
	}
}

// Fail makes the next times calls to path answer with status.
func (s *Server) Fail(path string, status, times int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = &failure{status: status, message: message, times: times}
}

// SetLatency delays every response by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// Calls returns how many requests reached path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// SessionCount returns the number of live refresh sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RevokeAll drops every refresh session, as an administrator would.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[string]string{}
}

// IssueAccessToken mints an access token for u expiring after ttl.
func (s *Server) IssueAccessToken(u User, ttl time.Duration) (string, error) {
	now := s.now()
	claims := token.Claims{
		UserID: u.ID,
		Email:  u.Email,
		Role:   token.RoleList{u.Role},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls[r.URL.Path]++
	latency := s.latency
	f := s.failures[r.URL.Path]
	var injected *failure
	if f != nil && f.times > 0 {
		f.times--
		cp := *f
		injected = &cp
	}
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}
	}
	if injected != nil {
		writeError(w, injected.status, injected.message)
		return
	}
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(transport.PathLogin, s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc(transport.PathRefresh, s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc(transport.PathLogout, s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc(transport.PathLogoutAll, s.handleLogoutAll).Methods(http.MethodPost)
	r.HandleFunc(transport.PathProfile, s.handleProfile).Methods(http.MethodGet)
	r.HandleFunc(transport.PathValidate, s.handleValidate).Methods(http.MethodGet)
	r.HandleFunc(transport.PathStatus, s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc(transport.PathHealth, func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, "OK", nil)
	}).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
	return r
}
