package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/orion/internal/util"
	"github.com/jmcleod/orion/storage"
)

// maxPasswordLen is bcrypt's input limit.
const maxPasswordLen = 72

func toUserResponse(u *storage.User) UserResponse {
	return UserResponse{
		Email:     u.Email,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (a *API) hashPassword(w http.ResponseWriter, password string) ([]byte, bool) {
	if password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return nil, false
	}
	if len(password) > maxPasswordLen {
		writeError(w, http.StatusBadRequest, "password is too long")
		return nil, false
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.bcryptCost)
	if err != nil {
		writeInternalError(w, "failed to hash password", err)
		return nil, false
	}
	return hash, true
}

// emailParam returns the normalized {email} path parameter.
func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	return util.NormalizeEmail(raw)
}

// CreateUser handles POST /users/. Registration is open, so it is
// throttled per source IP and globally.
func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.regGlobalLimiter.check(); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter, "too many registration attempts")
		return
	}
	if blocked, retryAfter := a.regIPLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "ip rate limited")
		writeRateLimited(w, retryAfter, "too many registration attempts")
		return
	}

	req, ok := decodeJSON[CreateUserRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	email := util.NormalizeEmail(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	// Record the attempt before the expensive hash.
	a.regIPLimiter.recordFailure(clientIP)
	a.regGlobalLimiter.record()

	hash, ok := a.hashPassword(w, req.Password)
	if !ok {
		return
	}
	now := time.Now().UTC()
	user := &storage.User{Email: email, PasswordHash: hash, CreatedAt: now, UpdatedAt: now}
	if err := a.repo.Create(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrExists) {
			writeError(w, http.StatusConflict, "email is already registered")
			return
		}
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditUserCreated, r, email)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// ListUsers handles GET /users/.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.repo.List(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	limit, offset := parsePagination(r)
	page, meta := paginate(users, limit, offset)

	resp := ListUsersResponse{Users: make([]UserResponse, 0, len(page)), PaginationMeta: meta}
	for i := range page {
		resp.Users = append(resp.Users, toUserResponse(&page[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUser handles GET /users/{email}.
func (a *API) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.repo.Get(r.Context(), emailParam(r))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UpdateUser handles PUT /users/{email}. Only the password can change.
func (a *API) UpdateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[UpdateUserRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	email := emailParam(r)
	user, err := a.repo.Get(r.Context(), email)
	if err != nil {
		mapError(w, err)
		return
	}
	hash, ok := a.hashPassword(w, req.Password)
	if !ok {
		return
	}
	user.PasswordHash = hash
	user.UpdatedAt = time.Now().UTC()
	if err := a.repo.Update(r.Context(), user); err != nil {
		mapError(w, err)
		return
	}

	a.audit.logEvent(AuditUserUpdated, r, email, "actor", userFromContext(r.Context()))
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// DeleteUser handles DELETE /users/{email}.
func (a *API) DeleteUser(w http.ResponseWriter, r *http.Request) {
	email := emailParam(r)
	if err := a.repo.Delete(r.Context(), email); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditUserDeleted, r, email, "actor", userFromContext(r.Context()))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "user deleted"})
}
