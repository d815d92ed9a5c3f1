package session

import (
	"errors"

	"github.com/jmcleod/orion/client"
)

// ErrPending is returned by Require while the identity is still loading.
var ErrPending = errors.New("session is still loading")

// Decision is what a protected entry point should do.
type Decision int

const (
	// DecisionPending: the identity fetch has not finished; show a neutral
	// placeholder.
	DecisionPending Decision = iota
	// DecisionAllow: a user is present.
	DecisionAllow
	// DecisionRedirectLogin: nobody is logged in.
	DecisionRedirectLogin
)

func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionAllow:
		return "allow"
	case DecisionRedirectLogin:
		return "redirect_login"
	default:
		return "unknown"
	}
}

// State is the read side of a Holder.
type State interface {
	Loading() bool
	User() (client.User, bool)
}

// Guard decides access from the session state.
func Guard(s State) Decision {
	if s.Loading() {
		return DecisionPending
	}
	if _, ok := s.User(); ok {
		return DecisionAllow
	}
	return DecisionRedirectLogin
}

// Require turns the guard decision into an error for callers that cannot
// render a placeholder.
func Require(s State) error {
	switch Guard(s) {
	case DecisionAllow:
		return nil
	case DecisionPending:
		return ErrPending
	default:
		return client.ErrLoginRequired
	}
}
