package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// CookieName is the cookie that carries the session token.
const CookieName = "token"

// Principal identifies the caller of an authenticated request.
type Principal struct {
	UserID  string
	Email   string
	Service bool // authenticated with the static service token
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by Middleware, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// SetCookie writes the session cookie.
func SetCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// TokenFromRequest returns the bearer token, falling back to the cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Authenticator resolves a raw token into a principal. Either mechanism may
// be disabled: a nil Issuer rejects JWTs, an empty ServiceToken rejects the
// static token.
type Authenticator struct {
	Issuer       *Issuer
	ServiceToken string
}

// Enabled reports whether any mechanism is configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && (a.Issuer != nil || a.ServiceToken != "")
}

// Authenticate checks token against the service token and then as a JWT.
func (a *Authenticator) Authenticate(token string) (*Principal, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	if a.ServiceToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.ServiceToken)) == 1 {
		return &Principal{Service: true}, nil
	}
	if a.Issuer == nil {
		return nil, ErrInvalidToken
	}
	claims, err := a.Issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: claims.Subject, Email: claims.Email}, nil
}

// Middleware rejects requests without a valid token with 401, except those
// for which exempt returns true. When no mechanism is configured every
// request passes through.
func Middleware(a *Authenticator, exempt func(*http.Request) bool, next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt != nil && exempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		token := TokenFromRequest(r)
		if token == "" {
			unauthorized(w, "missing token")
			return
		}
		p, err := a.Authenticate(token)
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
