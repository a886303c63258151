// Package telemetry emits decision-path events. Every call is
// fire-and-forget: emission failures are logged and swallowed, and nothing
// here may block or fail a decision.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"walletgate/internal/bus"
	"walletgate/internal/domain"
	"walletgate/internal/metrics"
)

const auditTimeout = 5 * time.Second

// Emitter publishes events on the internal event bus and mirrors them into
// the audit log.
type Emitter struct {
	events *bus.EventBus
	audit  domain.AuditLogger // nil disables audit mirroring
	logger *slog.Logger
}

func NewEmitter(events *bus.EventBus, audit domain.AuditLogger, logger *slog.Logger) *Emitter {
	return &Emitter{events: events, audit: audit, logger: logger}
}

// WarningPrompted records that a warning popup was raised for a request.
func (e *Emitter) WarningPrompted(req domain.Request, desc domain.Descriptor) {
	payload := map[string]any{
		"kind":       string(desc.Kind),
		"request_id": req.ID,
		"hostname":   req.Hostname,
		"chain_id":   req.ChainID,
	}
	details := ""
	switch desc.Kind {
	case domain.WarningAllowance:
		if desc.Allowance != nil {
			payload["asset"] = desc.Allowance.Asset
			payload["spender"] = desc.Allowance.Spender
			details = "asset=" + desc.Allowance.Asset + " spender=" + desc.Allowance.Spender
		}
	case domain.WarningListing:
		payload["platform"] = desc.Platform
		details = "platform=" + desc.Platform
	}
	metrics.PromptsTotal.Inc()
	e.emit(bus.EventWarningPrompted, domain.AuditEntry{
		Action:    "warning_prompted",
		Kind:      string(desc.Kind),
		RequestID: req.ID,
		Hostname:  req.Hostname,
		Result:    "prompted",
		Details:   details,
	}, payload)
}

// RequestBypassed records a caller-asserted bypass.
func (e *Emitter) RequestBypassed(req domain.Request) {
	metrics.BypassesTotal.Inc()
	e.emit(bus.EventRequestBypassed, domain.AuditEntry{
		Action:    "request_bypassed",
		RequestID: req.ID,
		Hostname:  req.Hostname,
		Result:    "allowed",
	}, map[string]any{"request_id": req.ID, "hostname": req.Hostname})
}

// VerdictDelivered records a verdict reaching its waiting channel.
func (e *Emitter) VerdictDelivered(requestID string, approved bool) {
	result := "denied"
	if approved {
		result = "allowed"
	}
	metrics.VerdictsTotal.Inc()
	e.emit(bus.EventVerdictDelivered, domain.AuditEntry{
		Action:    "verdict_delivered",
		RequestID: requestID,
		Result:    result,
	}, map[string]any{"request_id": requestID, "approved": approved})
}

// VerdictDropped records a verdict that found no waiting channel.
func (e *Emitter) VerdictDropped(requestID string, approved bool) {
	metrics.DroppedVerdicts.Inc()
	e.emit(bus.EventVerdictDropped, domain.AuditEntry{
		Action:    "verdict_dropped",
		RequestID: requestID,
		Result:    "dropped",
	}, map[string]any{"request_id": requestID, "approved": approved})
}

// PopupFailed records a presentation-surface failure (the request fails
// open).
func (e *Emitter) PopupFailed(req domain.Request, err error) {
	e.emit(bus.EventPopupFailed, domain.AuditEntry{
		Action:    "popup_failed",
		RequestID: req.ID,
		Hostname:  req.Hostname,
		Result:    "allowed",
		Details:   err.Error(),
	}, map[string]any{"request_id": req.ID, "err": err.Error()})
}

func (e *Emitter) emit(eventType string, entry domain.AuditEntry, payload map[string]any) {
	if e == nil {
		return
	}
	if e.events != nil {
		e.events.EmitAsync(bus.Event{Type: eventType, Source: "arbiter", Payload: payload})
	}
	if e.audit != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
			defer cancel()
			if err := e.audit.LogAudit(ctx, entry); err != nil {
				e.logger.Debug("audit write failed", "action", entry.Action, "err", err)
			}
		}()
	}
}
