package mcpserver

import (
	"context"
	"time"

	"github.com/microsoft/wassette/internal/telemetry"
)

// Severity mirrors the standard MCP logging notification level set
// (SPEC_FULL.md §6): debug, info, notice, warning, error, critical, alert,
// emergency.
type Severity string

const (
	SeverityDebug     Severity = "debug"
	SeverityInfo      Severity = "info"
	SeverityNotice    Severity = "notice"
	SeverityWarning   Severity = "warning"
	SeverityError     Severity = "error"
	SeverityCritical  Severity = "critical"
	SeverityAlert     Severity = "alert"
	SeverityEmergency Severity = "emergency"
)

// ActivityEvent is an append-only structured log entry broadcast over the
// MCP logging notification channel (§3 data model).
type ActivityEvent struct {
	Level     Severity
	Logger    string // dotted namespace, e.g. "wassette.lifecycle"
	Timestamp time.Time
	Message   string
	Data      map[string]any
}

// Dotted namespaces used across the host process (§6).
const (
	LoggerLifecycle = "wassette.lifecycle"
	LoggerExecution = "wassette.execution"
	LoggerSecurity  = "wassette.security"
)

// activityLogger adapts telemetry.Logger (the process-wide structured
// logging sink, §internal/telemetry) into the ActivityEvent shape the MCP
// logging notification channel expects. The actual notification delivery
// is a transport concern owned by the MCP server; this keeps the event
// shape and severity taxonomy decoupled from whichever transport carries
// it, consistent with PURPOSE & SCOPE's treatment of the MCP transport
// framing as an external collaborator.
type activityLogger struct {
	logger telemetry.Logger
}

func newActivityLogger(l telemetry.Logger) *activityLogger {
	if l == nil {
		l = telemetry.NewNoopLogger()
	}
	return &activityLogger{logger: l}
}

func (a *activityLogger) emit(ctx context.Context, ev ActivityEvent) {
	kv := make([]any, 0, 4+2*len(ev.Data))
	kv = append(kv, "logger", ev.Logger, "timestamp", ev.Timestamp.Format(time.RFC3339))
	for k, v := range ev.Data {
		kv = append(kv, k, v)
	}
	switch ev.Level {
	case SeverityDebug:
		a.logger.Debug(ctx, ev.Message, kv...)
	case SeverityInfo, SeverityNotice:
		a.logger.Info(ctx, ev.Message, kv...)
	case SeverityWarning:
		a.logger.Warn(ctx, ev.Message, kv...)
	default:
		a.logger.Error(ctx, ev.Message, kv...)
	}
}

// Security logs a wassette.security event and never includes secret
// values: callers pass only the policy-violation kind and the denied
// resource, never a secret-bearing payload.
func (a *activityLogger) Security(ctx context.Context, message string, data map[string]any) {
	a.emit(ctx, ActivityEvent{Level: SeverityWarning, Logger: LoggerSecurity, Timestamp: time.Now(), Message: message, Data: data})
}

func (a *activityLogger) Lifecycle(ctx context.Context, message string, data map[string]any) {
	a.emit(ctx, ActivityEvent{Level: SeverityInfo, Logger: LoggerLifecycle, Timestamp: time.Now(), Message: message, Data: data})
}

func (a *activityLogger) Execution(ctx context.Context, message string, data map[string]any) {
	a.emit(ctx, ActivityEvent{Level: SeverityDebug, Logger: LoggerExecution, Timestamp: time.Now(), Message: message, Data: data})
}
