package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/stoker/internal/model"
)

// sessionTTL is how long a login token stays valid.
const sessionTTL = 24 * time.Hour

type ctxKey int

const ctxKeyUser ctxKey = iota

// session is one logged-in dashboard user.
type session struct {
	username  string
	expiresAt time.Time
}

// sessionStore holds active login tokens in memory. Sessions do not survive
// a restart; users log in again.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]session)}
}

// issue creates a new session token for username.
func (ss *sessionStore) issue(username string) string {
	token := model.NewID()
	ss.mu.Lock()
	ss.sessions[token] = session{
		username:  username,
		expiresAt: time.Now().Add(sessionTTL),
	}
	ss.mu.Unlock()
	return token
}

// lookup resolves a token to its username, pruning it if expired.
func (ss *sessionStore) lookup(token string) (string, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	sess, ok := ss.sessions[token]
	if !ok {
		return "", false
	}
	if time.Now().After(sess.expiresAt) {
		delete(ss.sessions, token)
		return "", false
	}
	return sess.username, true
}

// revoke removes a token.
func (ss *sessionStore) revoke(token string) {
	ss.mu.Lock()
	delete(ss.sessions, token)
	ss.mu.Unlock()
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	login := s.cfg.Secrets.Login
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(login.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(login.Password)) == 1
	if !userOK || !passOK {
		s.logger.Warn("login rejected", "username", req.Username)
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token := s.sessions.issue(req.Username)
	s.logger.Info("login", "username", req.Username)
	s.writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: req.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.revoke(bearerToken(r))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// requireAuth rejects requests without a valid session token and stores the
// username in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, ok := s.sessions.lookup(token)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUser, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// currentUser returns the logged-in username from the request context.
func currentUser(r *http.Request) string {
	username, _ := r.Context().Value(ctxKeyUser).(string)
	return username
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}
