package secrets

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AuditEntry is one recorded secret access.
type AuditEntry struct {
	Timestamp time.Time
	Action    string
	Path      string
	Version   string
	Success   bool
	Error     string
}

// NewAuditEntry builds an entry stamped with the current time.
func NewAuditEntry(action string, ref SecretRef, success bool, err error) AuditEntry {
	entry := AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Path:      ref.Path,
		Version:   ref.Version,
		Success:   success,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}

// SlogAuditLogger writes audit entries to a structured logger.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger. A nil logger discards entries.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SlogAuditLogger{logger: logger}
}

// LogAccess implements AuditLogger.
func (l *SlogAuditLogger) LogAccess(ctx context.Context, action string, ref SecretRef, success bool, err error) {
	attrs := []any{
		"action", action,
		"secret_path", ref.Path,
		"success", success,
	}
	if ref.Version != "" {
		attrs = append(attrs, "secret_version", ref.Version)
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		l.logger.WarnContext(ctx, "secret access failed", attrs...)
		return
	}
	l.logger.DebugContext(ctx, "secret accessed", attrs...)
}

// RecordingAuditLogger keeps entries in memory. Useful for dry runs and tests.
type RecordingAuditLogger struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// LogAccess implements AuditLogger.
func (r *RecordingAuditLogger) LogAccess(_ context.Context, action string, ref SecretRef, success bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, NewAuditEntry(action, ref, success, err))
}

// Entries returns a copy of the recorded entries.
func (r *RecordingAuditLogger) Entries() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditEntry(nil), r.entries...)
}
