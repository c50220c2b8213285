package authn

import "log/slog"

// AuditListener writes one structured log line per event. Passwords never
// reach it; usernames and connection ids do.
type AuditListener struct {
	log *slog.Logger
}

// NewAuditListener returns a listener logging to log.
func NewAuditListener(log *slog.Logger) *AuditListener {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &AuditListener{log: log}
}

func (l *AuditListener) HandleAuthEvent(e Event) {
	attrs := []any{
		"owner", e.Owner,
		"username", e.Username,
	}

	switch e.Kind {
	case EventLoginSucceeded:
		l.log.Info(string(e.Kind), append(attrs, "session_id", e.SessionID, "user_type", e.Role.UserType())...)
	case EventLoginFailed:
		l.auditFailure(e, attrs)
	case EventRegistered:
		l.log.Info(string(e.Kind), append(attrs, "user_type", e.Role.UserType())...)
	case EventRegisterFailed:
		if e.Field != "" {
			attrs = append(attrs, "field", string(e.Field))
		}
		l.auditFailure(e, attrs)
	case EventLoggedOut, EventSessionExpired:
		l.log.Info(string(e.Kind), append(attrs, "session_id", e.SessionID)...)
	default:
		l.log.Debug("auth.event.unknown", "kind", string(e.Kind))
	}
}

func (l *AuditListener) auditFailure(e Event, attrs []any) {
	attrs = append(attrs, "code", e.Code.String())
	if e.Code == CodeDatabaseError {
		l.log.Error(string(e.Kind), append(attrs, "err", e.Err)...)
		return
	}
	l.log.Info(string(e.Kind), attrs...)
}
