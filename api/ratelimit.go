package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// backoffPolicy configures a backoffLimiter.
type backoffPolicy struct {
	// maxFailures is the number of counted events before lockout begins.
	maxFailures int
	// baseLockout is the first lockout; each further event doubles it.
	baseLockout time.Duration
	// maxLockout caps the exponential backoff.
	maxLockout time.Duration
	// expiry is how long after the last event a record is forgotten.
	expiry time.Duration
}

var (
	// Failed logins per account.
	accountPolicy = backoffPolicy{maxFailures: 5, baseLockout: time.Minute, maxLockout: 15 * time.Minute, expiry: time.Hour}
	// Failed logins per source IP.
	ipPolicy = backoffPolicy{maxFailures: 20, baseLockout: time.Minute, maxLockout: 30 * time.Minute, expiry: time.Hour}
	// Every registration per source IP counts, successful or not.
	registrationIPPolicy = backoffPolicy{maxFailures: 5, baseLockout: 5 * time.Minute, maxLockout: time.Hour, expiry: time.Hour}
)

// windowPolicy configures a windowLimiter.
type windowPolicy struct {
	window  time.Duration
	max     int
	lockout time.Duration
}

var (
	globalLoginPolicy        = windowPolicy{window: time.Minute, max: 100, lockout: 5 * time.Minute}
	globalRegistrationPolicy = windowPolicy{window: time.Minute, max: 50, lockout: 5 * time.Minute}
)

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// backoffLimiter counts events per key and locks the key out with
// exponential backoff once policy.maxFailures is reached.
type backoffLimiter struct {
	mu       sync.Mutex
	policy   backoffPolicy
	attempts map[string]*attemptRecord
	now      func() time.Time
}

func newBackoffLimiter(p backoffPolicy) *backoffLimiter {
	return &backoffLimiter{policy: p, attempts: make(map[string]*attemptRecord), now: time.Now}
}

// check returns true if key is currently locked out, along with how long the
// caller should wait.
func (rl *backoffLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > rl.policy.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *backoffLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	now := rl.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= rl.policy.maxFailures {
		lockout := rl.policy.baseLockout
		for i := 0; i < rec.failures-rl.policy.maxFailures; i++ {
			lockout *= 2
			if lockout >= rl.policy.maxLockout {
				lockout = rl.policy.maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (rl *backoffLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep removes expired records.
func (rl *backoffLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > rl.policy.expiry {
			delete(rl.attempts, key)
		}
	}
}

// windowLimiter locks everyone out once policy.max events land within a
// sliding window.
type windowLimiter struct {
	mu          sync.Mutex
	policy      windowPolicy
	events      []time.Time
	lockedUntil time.Time
	now         func() time.Time
}

func newWindowLimiter(p windowPolicy) *windowLimiter {
	return &windowLimiter{policy: p, now: time.Now}
}

func (rl *windowLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *windowLimiter) record() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.events = trimWindow(append(rl.events, now), now, rl.policy.window)
	if len(rl.events) >= rl.policy.max {
		rl.lockedUntil = now.Add(rl.policy.lockout)
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, msg)
}

func retryAfterString(d time.Duration) string {
	return strconv.Itoa(max(int(d.Seconds()), 1))
}
