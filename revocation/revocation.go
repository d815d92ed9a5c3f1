// Package revocation tracks session tokens that may no longer be used.
//
// Refresh tokens are single use: the server consumes a token's jti when it
// rotates the session. Logout revokes both the refresh and the access jti.
// Entries expire with the token they describe.
package revocation

import (
	"context"
	"time"
)

// minTTL is the shortest lifetime an entry gets. A token checked just as it
// expires can reach the list with a zero or negative remaining lifetime;
// Redis would store such a key forever and the memory list would forget it
// at once.
const minTTL = time.Second

func clampTTL(ttl time.Duration) time.Duration {
	return max(ttl, minTTL)
}

// List is a token revocation list keyed by JWT ID.
type List interface {
	// Revoke marks jti as unusable for ttl.
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	// IsRevoked reports whether jti has been revoked or consumed.
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Consume atomically revokes jti and reports whether this call was the
	// one that did so. A false result means the token was already used.
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}
