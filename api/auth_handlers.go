package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/orion/internal/util"
	"github.com/jmcleod/orion/storage"
)

// Login handles POST /login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	email := util.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	clientIP := a.extractClientIP(r)

	// Check rate limits before any expensive work: global → IP → per-account.
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter, "too many login attempts")
		return
	}
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited")
		writeRateLimited(w, retryAfter, "too many login attempts")
		return
	}
	if blocked, retryAfter := a.accountLimiter.check(email); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "account rate limited", "email", email)
		writeRateLimited(w, retryAfter, "too many login attempts")
		return
	}

	recordLoginFailure := func(reason string) {
		a.globalLimiter.record()
		a.ipLimiter.recordFailure(clientIP)
		a.accountLimiter.recordFailure(email)
		a.audit.logFailure(AuditLoginFailure, r, reason, "email", email)
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	}

	user, err := a.repo.Get(r.Context(), email)
	if errors.Is(err, storage.ErrNotFound) {
		recordLoginFailure("unknown account")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to load user", err)
		return
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(req.Password)); err != nil {
		recordLoginFailure("invalid password")
		return
	}

	access, refresh, err := a.tokens.issuePair(user.Email)
	if err != nil {
		writeInternalError(w, "failed to issue session", err)
		return
	}

	// Login succeeded, clear rate-limit state.
	a.accountLimiter.recordSuccess(email)
	a.ipLimiter.recordSuccess(clientIP)

	writeSessionCookies(w, r, access, refresh)
	a.audit.logEvent(AuditLoginSuccess, r, user.Email)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "login successful"})
}

// Refresh handles POST /refresh. The presented refresh token is consumed
// and a fresh pair is issued, so every refresh token works exactly once.
func (a *API) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerCookie(r, refreshCookieName)
	if !ok {
		a.audit.logFailure(AuditRefreshFailure, r, "missing refresh token")
		writeError(w, http.StatusUnauthorized, "could not validate credentials")
		return
	}
	claims, err := a.tokens.parse(raw, tokenTypeRefresh)
	if err != nil {
		a.audit.logFailure(AuditRefreshFailure, r, err.Error())
		mapError(w, err)
		return
	}

	fresh, err := a.revoked.Consume(r.Context(), claims.ID, a.tokens.remaining(claims))
	if err != nil {
		writeInternalError(w, "failed to rotate refresh token", err)
		return
	}
	if !fresh {
		a.audit.logFailure(AuditRefreshReuse, r, "refresh token replayed", "email", claims.Subject, "jti", claims.ID)
		mapError(w, ErrTokenReused)
		return
	}

	if _, err := a.repo.Get(r.Context(), claims.Subject); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			writeInternalError(w, "failed to load user", err)
			return
		}
		a.audit.logFailure(AuditRefreshFailure, r, "account no longer exists", "email", claims.Subject)
		writeError(w, http.StatusUnauthorized, "could not validate credentials")
		return
	}

	access, refresh, err := a.tokens.issuePair(claims.Subject)
	if err != nil {
		writeInternalError(w, "failed to issue session", err)
		return
	}
	writeSessionCookies(w, r, access, refresh)
	a.audit.logEvent(AuditRefresh, r, claims.Subject)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "refresh successful"})
}

// Logout handles POST /logout. It always clears the cookies; valid refresh
// and access tokens are additionally revoked so neither can be replayed.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var email string
	for _, c := range []struct{ cookie, typ string }{
		{refreshCookieName, tokenTypeRefresh},
		{accessCookieName, tokenTypeAccess},
	} {
		raw, ok := bearerCookie(r, c.cookie)
		if !ok {
			continue
		}
		claims, err := a.tokens.parse(raw, c.typ)
		if err != nil {
			continue
		}
		if email == "" {
			email = claims.Subject
		}
		if err := a.revoked.Revoke(r.Context(), claims.ID, a.tokens.remaining(claims)); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("type", c.typ).Msg("failed to revoke token")
		}
	}
	clearSessionCookies(w, r)
	a.audit.logEvent(AuditLogout, r, email)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// Me handles GET /me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	user, err := a.repo.Get(r.Context(), userFromContext(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}
