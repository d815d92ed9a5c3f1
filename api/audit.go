package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess        AuditEvent = "login_success"
	AuditLoginFailure        AuditEvent = "login_failure"
	AuditLoginRateLimited    AuditEvent = "login_rate_limited"
	AuditLogout              AuditEvent = "logout"
	AuditRefresh             AuditEvent = "refresh"
	AuditRefreshFailure      AuditEvent = "refresh_failure"
	AuditRefreshReuse        AuditEvent = "refresh_reuse"
	AuditUserCreated         AuditEvent = "user_created"
	AuditUserUpdated         AuditEvent = "user_updated"
	AuditUserDeleted         AuditEvent = "user_deleted"
	AuditRegisterRateLimited AuditEvent = "register_rate_limited"
)

// auditLogger writes one structured line per security-relevant action.
type auditLogger struct {
	logger   zerolog.Logger
	metrics  *metricsCollector
	clientIP func(*http.Request) string
}

func newAuditLogger(logger zerolog.Logger, metrics *metricsCollector, clientIP func(*http.Request) string) *auditLogger {
	return &auditLogger{
		logger:   logger.With().Str("component", "audit").Logger(),
		metrics:  metrics,
		clientIP: clientIP,
	}
}

// log writes an audit entry. fields are alternating key/value pairs.
func (al *auditLogger) log(event AuditEvent, r *http.Request, level zerolog.Level, fields ...any) {
	e := al.logger.WithLevel(level).
		Str("event", string(event)).
		Str("client_ip", al.clientIP(r)).
		Str("timestamp", time.Now().UTC().Format(time.RFC3339))
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Msg("audit")
	al.metrics.recordEvent(event)
}

// logEvent records a successful action performed by or on email.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, email string, fields ...any) {
	al.log(event, r, zerolog.InfoLevel, append([]any{"email", email}, fields...)...)
}

// logFailure records a rejected action and why.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, fields ...any) {
	al.log(event, r, zerolog.WarnLevel, append([]any{"reason", reason}, fields...)...)
}
