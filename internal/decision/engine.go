// Package decision classifies intercepted wallet requests and decides
// whether a warning surface must be raised.
package decision

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"walletgate/internal/config"
	"walletgate/internal/domain"
	"walletgate/internal/telemetry"
)

// ApprovalRecord answers whether a request id has already been resolved as
// approved. Backed by the arbiter's approved-request set.
type ApprovalRecord interface {
	IsApproved(requestID string) bool
}

// Engine is the decision engine: gating, decoding, and classification.
// Every failure mode degrades to "no prompt" — availability of the wallet
// action wins over strict warning delivery.
type Engine struct {
	cfg       config.WarningsConfig
	decoder   domain.Decoder
	settings  domain.Settings
	approved  ApprovalRecord
	telemetry *telemetry.Emitter
	logger    *slog.Logger
}

func NewEngine(cfg config.WarningsConfig, decoder domain.Decoder, settings domain.Settings, approved ApprovalRecord, tel *telemetry.Emitter, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		decoder:   decoder,
		settings:  settings,
		approved:  approved,
		telemetry: tel,
		logger:    logger,
	}
}

// Evaluate decides whether req warrants a warning popup. A typed-data
// request with primaryType "Permit" is allowance-class; all other typed
// data is listing-class; untyped signatures are hash-class.
func (e *Engine) Evaluate(ctx context.Context, req domain.Request) (domain.Descriptor, error) {
	var desc domain.Descriptor
	switch {
	case req.Type == domain.RequestTransaction:
		desc = e.evalAllowance(ctx, req)
	case req.Type == domain.RequestTypedSignature && primaryType(req.TypedData) == "Permit":
		desc = e.evalAllowance(ctx, req)
	case req.Type == domain.RequestTypedSignature:
		desc = e.evalListing(ctx, req)
	default:
		desc = e.evalHash(ctx, req)
	}

	if desc.Prompt {
		e.telemetry.WarningPrompted(req, desc)
	}
	return desc, nil
}

func (e *Engine) evalAllowance(ctx context.Context, req domain.Request) domain.Descriptor {
	if !e.gate(ctx, req, domain.KeyWarnOnApproval, e.cfg.Approval, domain.WarningAllowance) {
		return domain.Descriptor{}
	}

	var allowance *domain.Allowance
	if req.Type == domain.RequestTransaction {
		allowance = e.decoder.Approval(req.Transaction)
	} else {
		allowance = e.decoder.Permit(req.TypedData)
	}
	if allowance == nil {
		return domain.Descriptor{}
	}

	return domain.Descriptor{
		Prompt:       true,
		Kind:         domain.WarningAllowance,
		Allowance:    allowance,
		ContentLines: 2,
	}
}

func (e *Engine) evalListing(ctx context.Context, req domain.Request) domain.Descriptor {
	if !e.gate(ctx, req, domain.KeyWarnOnListing, e.cfg.Listing, domain.WarningListing) {
		return domain.Descriptor{}
	}

	platform, listing := e.decoder.NftListing(req.TypedData)
	if listing == nil {
		return domain.Descriptor{}
	}

	return domain.Descriptor{
		Prompt:       true,
		Kind:         domain.WarningListing,
		Platform:     platform,
		Listing:      listing,
		ContentLines: len(listing.Offer) + len(listing.Consideration),
	}
}

func (e *Engine) evalHash(ctx context.Context, req domain.Request) domain.Descriptor {
	if !e.gate(ctx, req, domain.KeyWarnOnHashSignatures, e.cfg.HashSignatures, domain.WarningHash) {
		return domain.Descriptor{}
	}

	// Heuristic for "raw hash rather than human text": exactly 64
	// characters after stripping one optional 0x prefix.
	body := req.Message
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		body = body[2:]
	}
	if len(body) != 64 {
		return domain.Descriptor{}
	}

	return domain.Descriptor{
		Prompt:       true,
		Kind:         domain.WarningHash,
		ContentLines: 0,
	}
}

// gate applies the short-circuits shared by all request classes: warning
// setting off, hostname allow-listed, or request already approved. Settings
// errors degrade to "no prompt".
func (e *Engine) gate(ctx context.Context, req domain.Request, key string, def bool, kind domain.WarningKind) bool {
	on, err := e.settings.Get(ctx, domain.SettingsScope, key, def)
	if err != nil {
		e.logger.Warn("settings lookup failed, skipping warning", "key", key, "err", err)
		return false
	}
	if !on {
		return false
	}

	listed, err := e.settings.IsAllowlisted(ctx, kind, req.Hostname)
	if err != nil {
		e.logger.Warn("allowlist lookup failed, skipping warning", "kind", kind, "err", err)
		return false
	}
	if listed {
		e.logger.Debug("hostname allow-listed", "kind", kind, "hostname", req.Hostname)
		return false
	}

	if e.approved.IsApproved(req.ID) {
		e.logger.Debug("request already approved", "request_id", req.ID)
		return false
	}
	return true
}

func primaryType(typedData []byte) string {
	return gjson.GetBytes(typedData, "primaryType").String()
}
