package authtest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MrEthical07/dashauth/token"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeOK(w http.ResponseWriter, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: message})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	s.mu.Lock()
	acct := s.accounts[strings.ToLower(strings.TrimSpace(in.Email))]
	var hash string
	if acct != nil {
		hash = acct.hash
	}
	s.mu.Unlock()

	if acct == nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	match, err := argon2id.ComparePasswordAndHash(in.Password, hash)
	if err != nil || !match {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	s.mu.Lock()
	if !acct.user.IsActive {
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, "Account is deactivated")
		return
	}
	now := s.now().UTC()
	acct.user.LastLoginAt = &now
	user := acct.user
	s.mu.Unlock()

	s.issueSession(w, user, "Login successful")
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ck, err := r.Cookie(RefreshCookie)
	if err != nil || ck.Value == "" {
		writeError(w, http.StatusUnauthorized, "Refresh token required")
		return
	}

	s.mu.Lock()
	userID, ok := s.sessions[ck.Value]
	if ok {
		delete(s.sessions, ck.Value)
	}
	acct := s.byID[userID]
	var user User
	if acct != nil {
		user = acct.user
	}
	s.mu.Unlock()

	if !ok || acct == nil {
		clearRefreshCookie(w)
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	if !user.IsActive {
		clearRefreshCookie(w)
		writeError(w, http.StatusForbidden, "Account is deactivated")
		return
	}
	s.issueSession(w, user, "Token refreshed successfully")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if ck, err := r.Cookie(RefreshCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, ck.Value)
		s.mu.Unlock()
	}
	clearRefreshCookie(w)
	writeOK(w, "Logged out successfully", nil)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	s.mu.Lock()
	for tok, id := range s.sessions {
		if id == user.ID {
			delete(s.sessions, tok)
		}
	}
	s.mu.Unlock()
	clearRefreshCookie(w)
	writeOK(w, "Logged out from all devices", nil)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeOK(w, "", map[string]any{"user": user})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeOK(w, "Token is valid", map[string]any{"user": user, "valid": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		writeOK(w, "", map[string]any{"isAuthenticated": false})
		return
	}
	writeOK(w, "", map[string]any{"isAuthenticated": true, "user": user})
}

func (s *Server) issueSession(w http.ResponseWriter, user User, message string) {
	access, err := s.IssueAccessToken(user, s.accessTTL)
	if err != nil {
		s.logger.Error("issue access token", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	refresh := uuid.NewString()

	s.mu.Lock()
	s.sessions[refresh] = user.ID
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    refresh,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeOK(w, message, map[string]any{"user": user, "accessToken": access})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

var (
	errMissingBearer = errors.New("access token required")
	errInvalidBearer = errors.New("invalid or expired token")
)

// authenticate verifies the bearer token, unlike the client-side codec.
func (s *Server) authenticate(r *http.Request) (User, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return User{}, errMissingBearer
	}
	claims := &token.Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return User{}, errInvalidBearer
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.byID[claims.UserID]
	if acct == nil || !acct.user.IsActive {
		return User{}, errInvalidBearer
	}
	return acct.user, nil
}
