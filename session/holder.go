// Package session tracks who is logged in on the client side and decides
// whether protected commands may run.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jmcleod/orion/client"
)

// Identity is the part of the API client the holder needs.
type Identity interface {
	Me(ctx context.Context) (client.User, error)
	Logout(ctx context.Context) error
}

// Holder owns the client-side session: the current user, if any, and
// whether the identity fetch is still outstanding.
type Holder struct {
	identity Identity
	logger   zerolog.Logger

	mu      sync.RWMutex
	user    *client.User
	loading bool
}

// HolderOption configures a Holder.
type HolderOption func(*Holder)

// WithLogger sets the logger for identity failures.
func WithLogger(l zerolog.Logger) HolderOption {
	return func(h *Holder) { h.logger = l }
}

// NewHolder returns a Holder in the loading state. Call RefreshIdentity to
// resolve it.
func NewHolder(identity Identity, opts ...HolderOption) *Holder {
	h := &Holder{identity: identity, logger: zerolog.Nop(), loading: true}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// User returns the current user and whether one is present.
func (h *Holder) User() (client.User, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.user == nil {
		return client.User{}, false
	}
	return *h.user, true
}

// Loading reports whether the identity is still being fetched.
func (h *Holder) Loading() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loading
}

// RefreshIdentity fetches the current user. Any error, a failed session
// refresh included, leaves the holder with no user.
func (h *Holder) RefreshIdentity(ctx context.Context) error {
	h.mu.Lock()
	h.loading = true
	h.mu.Unlock()

	u, err := h.identity.Me(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.loading = false
	if err != nil {
		h.user = nil
		h.logger.Debug().Err(err).Msg("identity fetch failed")
		return err
	}
	h.user = &u
	return nil
}

// EndSession logs out on the server and forgets the user locally even when
// the server call fails.
func (h *Holder) EndSession(ctx context.Context) error {
	err := h.identity.Logout(ctx)
	h.Invalidate()
	if err != nil {
		h.logger.Warn().Err(err).Msg("logout failed")
	}
	return err
}

// Invalidate drops the user. It is the refresh coordinator's
// session-invalidated hook.
func (h *Holder) Invalidate() {
	h.mu.Lock()
	h.user = nil
	h.loading = false
	h.mu.Unlock()
}
