// Package authtest provides an in-process auth backend for wire-level
// testing: it issues HS256-signed tokens, enforces refresh rotation, and
// serves the profile and agreement endpoints.
package authtest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/tractionboard/traction-go/users"
)

type account struct {
	user     users.User
	password string
}

// Server is a fake auth backend. Zero-value timing issues 15 minute access
// tokens; tests shorten AccessTTL to provoke expiry.
type Server struct {
	mu             sync.Mutex
	secret         []byte
	accounts       map[string]*account // keyed by email
	refreshTokens  map[string]string   // refresh token -> user id, deleted on use
	agreementsOwed map[string]bool     // user id -> acceptance still required

	AccessTTL time.Duration
	NowFunc   func() time.Time

	// Counters and captures for assertions.
	RefreshCalls        int
	LogoutCalls         int
	LastImpersonatedOrg string

	router chi.Router
}

func NewServer() *Server {
	s := &Server{
		secret:         []byte(uuid.New().String()),
		accounts:       make(map[string]*account),
		refreshTokens:  make(map[string]string),
		agreementsOwed: make(map[string]bool),
		AccessTTL:      15 * time.Minute,
		NowFunc:        time.Now,
	}

	r := chi.NewRouter()
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Get("/auth/profile", s.handleProfile)
	r.Put("/auth/profile", s.handleUpdateProfile)
	r.Post("/auth/logout", s.handleLogout)
	r.Get("/auth/check-agreements", s.handleCheckAgreements)
	r.Post("/auth/accept-agreements", s.handleAcceptAgreements)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// AddUser registers an account the server will authenticate.
func (s *Server) AddUser(u users.User, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[u.Email] = &account{user: u, password: password}
}

// SetAgreementRequired marks a user as still owing an acceptance.
func (s *Server) SetAgreementRequired(userID string, required bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agreementsOwed[userID] = required
}

// IssuePair mints a token pair directly, bypassing login. Useful for
// seeding a store with a token of chosen lifetime.
func (s *Server) IssuePair(userID string, accessTTL time.Duration) (access, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issuePairLocked(userID, accessTTL)
}

// ActiveRefreshToken reports whether the given refresh token would still be
// accepted. After a rotation the previous token must report false.
func (s *Server) ActiveRefreshToken(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refreshTokens[tok]
	return ok
}

func (s *Server) issuePairLocked(userID string, accessTTL time.Duration) (string, string) {
	var u *users.User
	for _, acct := range s.accounts {
		if acct.user.ID == userID {
			u = &acct.user
			break
		}
	}

	now := s.NowFunc()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(accessTTL).Unix(),
		"jti": uuid.New().String(),
	}
	if u != nil {
		claims["tenant"] = u.OrganizationID
		caps := make([]string, 0, len(u.Capabilities))
		for _, c := range u.Capabilities {
			caps = append(caps, string(c))
		}
		claims["capabilities"] = caps
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	access, err := tok.SignedString(s.secret)
	if err != nil {
		panic(err)
	}

	refreshToken := uuid.New().String()
	s.refreshTokens[refreshToken] = userID
	return access, refreshToken
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[req.Email]
	if !ok || acct.password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	access, refreshToken := s.issuePairLocked(acct.user.ID, s.AccessTTL)
	writeData(w, http.StatusOK, map[string]interface{}{
		"user":         acct.user,
		"accessToken":  access,
		"refreshToken": refreshToken,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FirstName        string `json:"firstName"`
		LastName         string `json:"lastName"`
		Email            string `json:"email"`
		Password         string `json:"password"`
		OrganizationName string `json:"organizationName"`
		LegalAgreement   struct {
			Accepted bool `json:"accepted"`
		} `json:"legalAgreement"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if !req.LegalAgreement.Accepted {
		writeError(w, http.StatusBadRequest, "legal agreement acceptance required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Email]; exists {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	u := users.User{
		ID:               uuid.New().String(),
		Email:            req.Email,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		OrganizationID:   uuid.New().String(),
		OrganizationName: req.OrganizationName,
		Capabilities:     []users.Capability{users.CapabilityAdmin},
	}
	s.accounts[req.Email] = &account{user: u, password: req.Password}

	access, refreshToken := s.issuePairLocked(u.ID, s.AccessTTL)
	writeData(w, http.StatusCreated, map[string]interface{}{
		"user":         u,
		"accessToken":  access,
		"refreshToken": refreshToken,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.RefreshCalls++

	userID, ok := s.refreshTokens[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "refresh token invalid or revoked")
		return
	}
	// Rotation: the exchanged token is unusable from this point on.
	delete(s.refreshTokens, req.RefreshToken)

	access, refreshToken := s.issuePairLocked(userID, s.AccessTTL)
	writeData(w, http.StatusOK, map[string]interface{}{
		"accessToken":  access,
		"refreshToken": refreshToken,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.authenticateLocked(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	s.LastImpersonatedOrg = r.Header.Get("X-Impersonated-Org-Id")
	writeData(w, http.StatusOK, acct.user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.authenticateLocked(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	var updates struct {
		FirstName *string `json:"firstName"`
		LastName  *string `json:"lastName"`
		Email     *string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if updates.FirstName != nil {
		acct.user.FirstName = *updates.FirstName
	}
	if updates.LastName != nil {
		acct.user.LastName = *updates.LastName
	}
	if updates.Email != nil {
		acct.user.Email = *updates.Email
	}
	writeData(w, http.StatusOK, acct.user)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LogoutCalls++

	if acct, ok := s.authenticateLocked(r); ok {
		for tok, userID := range s.refreshTokens {
			if userID == acct.user.ID {
				delete(s.refreshTokens, tok)
			}
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleCheckAgreements(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.authenticateLocked(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"required":       s.agreementsOwed[acct.user.ID],
		"currentVersion": "2025-01",
	})
}

func (s *Server) handleAcceptAgreements(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.authenticateLocked(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	s.agreementsOwed[acct.user.ID] = false
	writeData(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) authenticateLocked(r *http.Request) (*account, bool) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return nil, false
	}

	parser := jwt.NewParser(jwt.WithTimeFunc(s.NowFunc))
	tok, err := parser.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, false
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}
	sub, _ := claims["sub"].(string)
	for _, acct := range s.accounts {
		if acct.user.ID == sub {
			return acct, true
		}
	}
	return nil, false
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
