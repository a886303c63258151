// Package arbiter correlates warning popups with the wallet requests that
// raised them, and routes each verdict back to the waiting caller exactly
// once.
package arbiter

import (
	"errors"
	"log/slog"
	"sync"

	"walletgate/internal/domain"
)

// ErrDuplicateRegistration is returned when a request id is registered while
// an earlier registration for the same id is still waiting.
var ErrDuplicateRegistration = errors.New("request id already registered")

// Registry holds the waiting channel per outstanding request id, plus the
// approved-request set. The approved set only grows: entries are never
// removed for the lifetime of the process.
type Registry struct {
	mu       sync.Mutex
	waiting  map[string]domain.VerdictChannel
	approved map[string]struct{}

	telemetry *telemetryHooks
	logger    *slog.Logger
}

// telemetryHooks decouples the registry from the telemetry package so tests
// can run without an event bus.
type telemetryHooks struct {
	delivered func(requestID string, approved bool)
	dropped   func(requestID string, approved bool)
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		waiting:   make(map[string]domain.VerdictChannel),
		approved:  make(map[string]struct{}),
		telemetry: &telemetryHooks{},
		logger:    logger,
	}
}

// OnDelivered installs a hook invoked after a verdict reaches its channel.
func (r *Registry) OnDelivered(fn func(requestID string, approved bool)) {
	r.telemetry.delivered = fn
}

// OnDropped installs a hook invoked when a verdict finds no waiting channel.
func (r *Registry) OnDropped(fn func(requestID string, approved bool)) {
	r.telemetry.dropped = fn
}

// Register associates a request id with the channel that will receive its
// verdict. A second registration for an id that is still waiting is
// rejected.
func (r *Registry) Register(requestID string, ch domain.VerdictChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.waiting[requestID]; exists {
		return ErrDuplicateRegistration
	}
	r.waiting[requestID] = ch
	r.logger.Debug("request registered", "request_id", requestID, "outstanding", len(r.waiting))
	return nil
}

// Resolve delivers a verdict for requestID. Approvals are recorded in the
// approved set whether or not a channel is still waiting, so a late approval
// still suppresses re-prompting on retry. Returns true when a channel
// received the verdict, false when it was dropped.
func (r *Registry) Resolve(requestID string, approved bool) bool {
	r.mu.Lock()
	if approved {
		r.approved[requestID] = struct{}{}
	}
	ch, ok := r.waiting[requestID]
	if ok {
		delete(r.waiting, requestID)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("verdict without waiting request, dropped", "request_id", requestID, "approved", approved)
		if r.telemetry.dropped != nil {
			r.telemetry.dropped(requestID, approved)
		}
		return false
	}

	ch.Deliver(domain.Verdict{RequestID: requestID, Approved: approved})
	r.logger.Info("verdict delivered", "request_id", requestID, "approved", approved)
	if r.telemetry.delivered != nil {
		r.telemetry.delivered(requestID, approved)
	}
	return true
}

// Drop retires a registration without delivering anything through it. Used
// when the popup could not be presented and the caller is answered directly.
func (r *Registry) Drop(requestID string) {
	r.mu.Lock()
	delete(r.waiting, requestID)
	r.mu.Unlock()
}

// IsApproved reports whether requestID was ever resolved as approved.
func (r *Registry) IsApproved(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.approved[requestID]
	return ok
}

// Outstanding returns the number of requests still waiting on a verdict.
func (r *Registry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiting)
}
