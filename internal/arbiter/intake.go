package arbiter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"walletgate/internal/domain"
	"walletgate/internal/metrics"
	"walletgate/internal/telemetry"
)

// Evaluator classifies a request and decides whether it needs a warning.
type Evaluator interface {
	Evaluate(ctx context.Context, req domain.Request) (domain.Descriptor, error)
}

// Opener presents a warning surface for a request.
type Opener interface {
	Open(ctx context.Context, req domain.Request, desc domain.Descriptor) error
}

// Intake is the entry point for intercepted wallet requests. It applies the
// bypass contract, runs the decision engine, and either answers the caller
// immediately or parks it behind a popup registration.
type Intake struct {
	engine    Evaluator
	registry  *Registry
	popup     Opener
	telemetry *telemetry.Emitter
	logger    *slog.Logger
}

func NewIntake(engine Evaluator, registry *Registry, popup Opener, tel *telemetry.Emitter, logger *slog.Logger) *Intake {
	return &Intake{
		engine:    engine,
		registry:  registry,
		popup:     popup,
		telemetry: tel,
		logger:    logger,
	}
}

// Handle processes one intercepted request. The contract per outcome:
//
//   - bypassed: nothing is ever delivered on ch; the caller proceeds on its
//     own and the popup (if any) is informational.
//   - no warning needed: an approving verdict is delivered immediately.
//   - warning needed: the request is registered and a popup raised; the
//     verdict arrives later via Registry.Resolve.
//
// Popup failure fails open: the caller gets an approving verdict, but the
// request is NOT recorded as approved, so a retry prompts again.
func (i *Intake) Handle(ctx context.Context, req domain.Request, ch domain.VerdictChannel) {
	if req.Bypassed {
		i.telemetry.RequestBypassed(req)
		desc, err := i.engine.Evaluate(ctx, req)
		if err == nil && desc.Prompt {
			// Informational popup, no registration: there is nobody to answer.
			if err := i.popup.Open(ctx, req, desc); err != nil {
				i.logger.Warn("informational popup failed", "request_id", req.ID, "err", err)
				i.telemetry.PopupFailed(req, err)
			}
		}
		return
	}

	evalStart := time.Now()
	desc, err := i.engine.Evaluate(ctx, req)
	metrics.DecisionLatency.Observe(time.Since(evalStart).Seconds())
	if err != nil {
		// The engine degrades internally; an error here is unexpected.
		// Fail open rather than wedge the wallet action.
		i.logger.Error("evaluate failed, allowing request", "request_id", req.ID, "err", err)
		ch.Deliver(domain.Verdict{RequestID: req.ID, Approved: true})
		return
	}

	if !desc.Prompt {
		ch.Deliver(domain.Verdict{RequestID: req.ID, Approved: true})
		return
	}

	if err := i.registry.Register(req.ID, ch); err != nil {
		if errors.Is(err, ErrDuplicateRegistration) {
			// A prompt for this id is already outstanding. Deny the
			// duplicate; the original keeps its pending verdict.
			i.logger.Warn("duplicate request id, denying", "request_id", req.ID)
			ch.Deliver(domain.Verdict{RequestID: req.ID, Approved: false})
			return
		}
		i.logger.Error("registration failed, allowing request", "request_id", req.ID, "err", err)
		ch.Deliver(domain.Verdict{RequestID: req.ID, Approved: true})
		return
	}

	opened := time.Now()
	if err := i.popup.Open(ctx, req, desc); err != nil {
		// No popup means no user verdict will ever come. Retire the
		// registration and answer the caller directly, without marking
		// the request approved.
		i.logger.Warn("popup failed, allowing request", "request_id", req.ID, "err", err)
		i.telemetry.PopupFailed(req, err)
		i.registry.Drop(req.ID)
		ch.Deliver(domain.Verdict{RequestID: req.ID, Approved: true})
		return
	}
	metrics.PopupLatency.Observe(time.Since(opened).Seconds())
}
