package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Backend paths, relative to the base URL.
const (
	PathLogin     = "/auth/login"
	PathRefresh   = "/auth/refresh"
	PathLogout    = "/auth/logout"
	PathLogoutAll = "/auth/logout-all"
	PathProfile   = "/auth/profile"
	PathValidate  = "/auth/validate"
	PathStatus    = "/auth/status"
	PathHealth    = "/health"
)

const (
	DefaultBaseURL = "http://localhost:5000/api"
	DefaultTimeout = 10 * time.Second

	defaultUserAgent = "dashauth/1"
	maxResponseBytes = 1 << 20
)

// TokenSource supplies the bearer credential for outgoing calls. An empty
// token means no Authorization header is sent.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Observer is notified after every call. kind is empty on success.
type Observer func(op string, elapsed time.Duration, kind Kind)

// Envelope is the normalized response body of every backend call.
type Envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// DecodeData unmarshals the envelope's data field into v.
func (e *Envelope) DecodeData(v any) error {
	if e == nil || len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Errorf("transport: empty data")
	}
	return json.Unmarshal(e.Data, v)
}

// AuthData is the success payload of login and refresh.
type AuthData struct {
	User        json.RawMessage `json:"user"`
	AccessToken string          `json:"accessToken"`
	// Message is the envelope message accompanying the payload.
	Message string `json:"-"`
}

// ProfileData is the success payload of profile.
type ProfileData struct {
	User json.RawMessage `json:"user"`
}

// ValidateData is the success payload of validate.
type ValidateData struct {
	User  json.RawMessage `json:"user"`
	Valid bool            `json:"valid"`
}

// StatusData is the success payload of status.
type StatusData struct {
	IsAuthenticated bool            `json:"isAuthenticated"`
	User            json.RawMessage `json:"user,omitempty"`
}

// Client calls the authentication backend.
type Client struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
	jar        *SessionJar
	tokens     TokenSource
	observer   Observer
	logger     *slog.Logger
}

// NewClient creates a Client. Without WithHTTPClient, a client with a
// [SessionJar] is created so the refresh cookie set by login is replayed on
// refresh. A supplied client keeps its own jar; the session cookies can only
// be saved when that jar is a *SessionJar.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: defaultUserAgent,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Jar: NewSessionJar()}
	}
	if jar, ok := c.httpClient.Jar.(*SessionJar); ok {
		c.jar = jar
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// SessionCookies returns the cookies the backend has set, or nil when the
// HTTP client's jar cannot export them.
func (c *Client) SessionCookies() []StoredCookie {
	if c.jar == nil {
		return nil
	}
	return c.jar.Export()
}

// RestoreSessionCookies loads cookies saved from an earlier process.
func (c *Client) RestoreSessionCookies(cookies []StoredCookie) {
	if c.jar == nil {
		return
	}
	c.jar.Restore(cookies)
}

// ResetSessionCookies forgets every cookie.
func (c *Client) ResetSessionCookies() {
	if c.jar == nil {
		return
	}
	c.jar.Reset()
}

// Login posts the credentials with the email trimmed and lower-cased.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthData, error) {
	body := map[string]string{
		"email":    strings.ToLower(strings.TrimSpace(email)),
		"password": password,
	}
	env, err := c.Do(ctx, "login", http.MethodPost, PathLogin, body)
	if err != nil {
		return nil, err
	}
	return c.authData("login", env)
}

// Refresh mints a new bearer credential from the refresh cookie.
func (c *Client) Refresh(ctx context.Context) (*AuthData, error) {
	env, err := c.Do(ctx, "refresh", http.MethodPost, PathRefresh, nil)
	if err != nil {
		return nil, err
	}
	return c.authData("refresh", env)
}

func (c *Client) Logout(ctx context.Context) (*Envelope, error) {
	return c.Do(ctx, "logout", http.MethodPost, PathLogout, nil)
}

func (c *Client) LogoutAll(ctx context.Context) (*Envelope, error) {
	return c.Do(ctx, "logout_all", http.MethodPost, PathLogoutAll, nil)
}

func (c *Client) Profile(ctx context.Context) (*ProfileData, error) {
	env, err := c.Do(ctx, "profile", http.MethodGet, PathProfile, nil)
	if err != nil {
		return nil, err
	}
	var out ProfileData
	if err := env.DecodeData(&out); err != nil || len(out.User) == 0 {
		return nil, malformed("profile", env)
	}
	return &out, nil
}

func (c *Client) Validate(ctx context.Context) (*ValidateData, error) {
	env, err := c.Do(ctx, "validate", http.MethodGet, PathValidate, nil)
	if err != nil {
		return nil, err
	}
	var out ValidateData
	if err := env.DecodeData(&out); err != nil {
		return nil, malformed("validate", env)
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context) (*StatusData, error) {
	env, err := c.Do(ctx, "status", http.MethodGet, PathStatus, nil)
	if err != nil {
		return nil, err
	}
	var out StatusData
	if err := env.DecodeData(&out); err != nil {
		return nil, malformed("status", env)
	}
	return &out, nil
}

// Health calls the backend health endpoint.
func (c *Client) Health(ctx context.Context) (*Envelope, error) {
	return c.Do(ctx, "health", http.MethodGet, PathHealth, nil)
}

func (c *Client) authData(op string, env *Envelope) (*AuthData, error) {
	var out AuthData
	if err := env.DecodeData(&out); err != nil || out.AccessToken == "" || len(out.User) == 0 {
		return nil, malformed(op, env)
	}
	out.Message = env.Message
	return &out, nil
}

func malformed(op string, env *Envelope) *Error {
	msg := env.Error
	if msg == "" {
		msg = op + " failed"
	}
	return &Error{Op: op, Kind: KindClientError, Status: http.StatusOK, Message: msg}
}

// Do performs one call and returns the parsed envelope. Non-2xx responses
// and 2xx responses with success=false are returned as *Error.
func (c *Client) Do(ctx context.Context, op, method, path string, body any) (env *Envelope, err error) {
	requestID := uuid.NewString()
	start := time.Now()
	defer func() {
		kind := KindOf(err)
		if c.observer != nil {
			c.observer(op, time.Since(start), kind)
		}
		if err != nil {
			c.logger.Debug("auth backend call failed",
				"op", op,
				"kind", string(kind),
				"request_id", requestID,
				"elapsed", time.Since(start),
				"error", err,
			)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, mErr := json.Marshal(body)
		if mErr != nil {
			return nil, fmt.Errorf("marshal %s body: %w", op, mErr)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.tokens != nil {
		tok, tErr := c.tokens.Token(ctx)
		if tErr != nil {
			c.logger.Warn("bearer token unavailable", "op", op, "error", tErr)
		} else if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := classifyDoError(ctx, err)
		msg := MsgNetwork
		if kind == KindTimeout {
			msg = "Request timeout"
		}
		return nil, &Error{Op: op, Kind: kind, Message: msg, RequestID: requestID, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		kind := classifyDoError(ctx, err)
		return nil, &Error{Op: op, Kind: kind, Status: resp.StatusCode, Message: "read response body", RequestID: requestID, Err: err}
	}

	env = &Envelope{}
	parsed := len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, env) == nil
	if !parsed {
		env = &Envelope{}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return env, &Error{
			Op:        op,
			Kind:      ClassifyStatus(resp.StatusCode),
			Status:    resp.StatusCode,
			Message:   msg,
			RequestID: requestID,
		}
	}

	if parsed && !env.Success {
		msg := env.Error
		if msg == "" {
			msg = op + " failed"
		}
		return env, &Error{Op: op, Kind: KindClientError, Status: resp.StatusCode, Message: msg, RequestID: requestID}
	}
	if !parsed {
		// Non-JSON 2xx bodies are accepted as a bare success.
		env.Success = true
	}
	return env, nil
}
