package domain

import "context"

// Settings key names, stable across the settings store and the web API.
const (
	SettingsScope           = "settings"
	KeyWarnOnApproval       = "warnOnApproval"
	KeyWarnOnListing        = "warnOnListing"
	KeyWarnOnHashSignatures = "warnOnHashSignatures"
)

// Settings is an async key-value lookup with defaults, scoped by category.
type Settings interface {
	Get(ctx context.Context, scope, key string, def bool) (bool, error)
	Set(ctx context.Context, scope, key string, value bool) error

	// IsAllowlisted reports whether hostname is exempted from warnings of
	// the given kind.
	IsAllowlisted(ctx context.Context, kind WarningKind, hostname string) (bool, error)
}

// AuditEntry is one record of a decision-path event.
type AuditEntry struct {
	Action    string // warning_prompted | request_bypassed | verdict_delivered | verdict_dropped
	Kind      string
	RequestID string
	Hostname  string
	Result    string // prompted | allowed | denied | dropped
	Details   string
}

// AuditLogger is the interface for writing audit entries.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry AuditEntry) error
}
