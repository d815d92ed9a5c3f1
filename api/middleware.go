package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmcleod/orion/storage"
)

type contextKey int

const userKey contextKey = iota

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
	bearerPrefix      = "Bearer "
)

// requestLogger attaches a request-scoped logger to the context.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := a.logger.With().Str("method", r.Method).Str("path", r.URL.Path).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

// AuthMiddleware validates the access-token cookie and stores the caller's
// email on the request context. Any failure is a 401, which clients treat
// as the signal to refresh.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerCookie(r, accessCookieName)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := a.tokens.parse(raw, tokenTypeAccess)
		if err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("access token rejected")
			writeError(w, http.StatusUnauthorized, "could not validate credentials")
			return
		}
		revoked, err := a.revoked.IsRevoked(r.Context(), claims.ID)
		if err != nil {
			writeInternalError(w, "failed to check token revocation", err)
			return
		}
		if revoked {
			zerolog.Ctx(r.Context()).Debug().Str("email", claims.Subject).Msg("access token revoked")
			writeError(w, http.StatusUnauthorized, "could not validate credentials")
			return
		}
		if _, err := a.repo.Get(r.Context(), claims.Subject); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				writeInternalError(w, "failed to load user", err)
				return
			}
			zerolog.Ctx(r.Context()).Debug().Err(err).Str("email", claims.Subject).Msg("token subject unknown")
			writeError(w, http.StatusUnauthorized, "could not validate credentials")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerCookie returns the token from a "Bearer <jwt>" cookie value.
func bearerCookie(r *http.Request, name string) (string, bool) {
	cookie, err := r.Cookie(name)
	if err != nil || !strings.HasPrefix(cookie.Value, bearerPrefix) {
		return "", false
	}
	token := strings.TrimPrefix(cookie.Value, bearerPrefix)
	return token, token != ""
}

// hasSessionCookie reports whether the request carries either session cookie.
func hasSessionCookie(r *http.Request) bool {
	for _, name := range []string{accessCookieName, refreshCookieName} {
		if _, err := r.Cookie(name); err == nil {
			return true
		}
	}
	return false
}

func writeSessionCookies(w http.ResponseWriter, r *http.Request, access, refresh issuedToken) {
	writeTokenCookie(w, r, accessCookieName, access)
	writeTokenCookie(w, r, refreshCookieName, refresh)
	writeCSRFCookie(w, r, refresh.ExpiresAt)
}

func writeTokenCookie(w http.ResponseWriter, r *http.Request, name string, tok issuedToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    bearerPrefix + tok.Value,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  tok.ExpiresAt,
	})
}

func clearSessionCookies(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{accessCookieName, refreshCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   requestIsSecure(r),
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
		})
	}
	clearCSRFCookie(w, r)
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

func userFromContext(ctx context.Context) string {
	email, _ := ctx.Value(userKey).(string)
	return email
}
