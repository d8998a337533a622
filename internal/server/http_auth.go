package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/alfredjeanlab/panels/internal/auth"
	"github.com/alfredjeanlab/panels/internal/idgen"
	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/store"
)

// sessionResponse is returned by register and sign-in.
type sessionResponse struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// handleRegister handles POST /api/register.
func (s *PanelsServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	iss := s.auth.Issuer
	if iss == nil {
		writeError(w, http.StatusNotImplemented, "user accounts are disabled")
		return
	}
	var in auth.Credentials
	if !decodeBody(w, r, &in) {
		return
	}
	in.Email = auth.NormalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(in.Password, 0)
	if err != nil {
		writeFailure(w, r, err, "user")
		return
	}
	id, err := idgen.User()
	if err != nil {
		writeFailure(w, r, err, "user")
		return
	}
	u := &model.User{
		ID:           id,
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		writeFailure(w, r, err, "user")
		return
	}

	s.startSession(w, r, http.StatusCreated, u)
}

// handleSignIn handles POST /api/signin.
func (s *PanelsServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if s.auth.Issuer == nil {
		writeError(w, http.StatusNotImplemented, "user accounts are disabled")
		return
	}
	var in auth.Credentials
	if !decodeBody(w, r, &in) {
		return
	}

	u, err := s.store.GetUserByEmail(r.Context(), auth.NormalizeEmail(in.Email))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}
	if err != nil {
		writeFailure(w, r, err, "user")
		return
	}
	if err := auth.CheckPassword(u.PasswordHash, in.Password); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	s.startSession(w, r, http.StatusOK, u)
}

func (s *PanelsServer) startSession(w http.ResponseWriter, r *http.Request, status int, u *model.User) {
	token, exp, err := s.auth.Issuer.Issue(u)
	if err != nil {
		writeFailure(w, r, err, "session")
		return
	}
	auth.SetCookie(w, token, exp, s.cookieSecure)
	writeJSON(w, status, sessionResponse{User: u, Token: token, ExpiresAt: exp})
}

// handleSignOut handles POST /api/signout. Tokens are stateless, so this only
// clears the cookie.
func (s *PanelsServer) handleSignOut(w http.ResponseWriter, _ *http.Request) {
	auth.ClearCookie(w, s.cookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateToken handles GET /api/validateToken.
func (s *PanelsServer) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
		return
	}
	p, err := s.auth.Authenticate(auth.TokenFromRequest(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	resp := map[string]any{"valid": true, "service": p.Service}
	if p.UserID != "" {
		resp["user_id"] = p.UserID
		resp["email"] = p.Email
	}
	writeJSON(w, http.StatusOK, resp)
}
