// Package channel holds the transports the extension and the popup talk
// through: a blocking HTTP endpoint, a WebSocket stream, and an optional
// Telegram notifier.
package channel

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"walletgate/internal/config"
	"walletgate/internal/domain"
	"walletgate/internal/metrics"
	"walletgate/internal/requestid"
)

const (
	maxBodySize    = 1 << 20 // 1MB
	requestTimeout = 120 * time.Second
)

//go:embed web_templates/*.html
var templateFS embed.FS

// VerdictResolver routes a popup verdict to the request waiting on it.
type VerdictResolver interface {
	Resolve(requestID string, approved bool) bool
}

// SettingsStore is the slice of the settings layer the web API needs.
type SettingsStore interface {
	Get(ctx context.Context, scope, key string, def bool) (bool, error)
	Set(ctx context.Context, scope, key string, value bool) error
	Allowlist(ctx context.Context, kind domain.WarningKind, hostname string) error
	RemoveAllowlist(ctx context.Context, kind domain.WarningKind, hostname string) error
	ListAllowlist(ctx context.Context, kind domain.WarningKind) ([]string, error)
}

// Web implements domain.Channel over plain HTTP. The extension blocks on
// POST /rpc/request until the verdict arrives; the popup page posts its
// verdict to POST /popup/verdict.
type Web struct {
	host    string
	port    int
	bus     domain.MessageBus
	logger  *slog.Logger
	server  *http.Server
	tmpl    *htmltemplate.Template
	version string

	resolver VerdictResolver
	store    SettingsStore

	// Config reference for the config API (protected by cfgMu)
	cfg     *config.Config
	cfgPath string
	cfgMu   sync.RWMutex

	// Pending verdicts keyed by request ID
	pending   map[string]chan domain.Verdict
	pendingMu sync.Mutex
}

type WebConfig struct {
	Host       string
	Port       int
	Logger     *slog.Logger
	Resolver   VerdictResolver
	Store      SettingsStore
	Config     *config.Config
	ConfigPath string
	Version    string
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8743
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	tmpl := htmltemplate.Must(htmltemplate.ParseFS(templateFS, "web_templates/*.html"))

	return &Web{
		host:     cfg.Host,
		port:     cfg.Port,
		logger:   cfg.Logger,
		tmpl:     tmpl,
		version:  cfg.Version,
		resolver: cfg.Resolver,
		store:    cfg.Store,
		cfg:      cfg.Config,
		cfgPath:  cfg.ConfigPath,
		pending:  make(map[string]chan domain.Verdict),
	}
}

func (w *Web) Name() string { return "web" }

// attachBus wires the channel to the message bus: verdicts addressed to
// "web" are routed back to the blocked /rpc/request handler.
func (w *Web) attachBus(bus domain.MessageBus) {
	w.bus = bus
	bus.OnVerdict("web", func(msg domain.OutboundVerdict) {
		w.pendingMu.Lock()
		ch, ok := w.pending[msg.Verdict.RequestID]
		w.pendingMu.Unlock()
		if ok {
			select {
			case ch <- msg.Verdict:
			default:
			}
		}
	})
}

// Start starts the HTTP server and blocks until ctx is done.
func (w *Web) Start(ctx context.Context, bus domain.MessageBus) error {
	w.attachBus(bus)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc/request", w.handleRequest)
	mux.HandleFunc("POST /popup/verdict", w.handleVerdict)
	mux.HandleFunc("GET /popup", w.handlePopup)
	mux.HandleFunc("GET /status", w.handleStatus)

	mux.HandleFunc("GET /api/settings", w.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", w.handleUpdateSettings)
	mux.HandleFunc("GET /api/allowlist", w.handleListAllowlist)
	mux.HandleFunc("POST /api/allowlist", w.handleAddAllowlist)
	mux.HandleFunc("DELETE /api/allowlist", w.handleRemoveAllowlist)

	mux.HandleFunc("GET /api/config", w.handleGetConfig)
	mux.HandleFunc("PUT /api/config", w.handleUpdateConfig)
	mux.HandleFunc("POST /api/config/save", w.handleSaveConfig)

	if w.cfg == nil || w.cfg.Metrics.Enabled {
		mux.HandleFunc("GET /metrics", metrics.Collector.Handler())
	}

	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("web gateway started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// handleRequest accepts one intercepted wallet request and blocks until its
// verdict arrives. Bypassed requests are acknowledged immediately: the
// caller proceeds on its own and no verdict will ever exist.
func (w *Web) handleRequest(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "read body: " + err.Error()})
		return
	}
	defer r.Body.Close()

	var req domain.Request
	if err := json.Unmarshal(body, &req); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "invalid request: " + err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = requestid.New()
	}
	if !validType(req.Type) {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": fmt.Sprintf("unknown request type %q", req.Type)})
		return
	}

	metrics.RequestsTotal.Inc()

	if req.Bypassed {
		w.bus.Publish(domain.InboundRequest{
			Channel:    "web",
			ClientID:   req.ID,
			Request:    req,
			ReceivedAt: time.Now(),
		})
		rw.WriteHeader(http.StatusAccepted)
		json.NewEncoder(rw).Encode(map[string]string{"status": "accepted", "requestId": req.ID})
		return
	}

	verdictCh := make(chan domain.Verdict, 1)
	w.pendingMu.Lock()
	if _, exists := w.pending[req.ID]; exists {
		w.pendingMu.Unlock()
		rw.WriteHeader(http.StatusConflict)
		json.NewEncoder(rw).Encode(map[string]string{"error": "request id already in flight"})
		return
	}
	w.pending[req.ID] = verdictCh
	w.pendingMu.Unlock()
	defer func() {
		w.pendingMu.Lock()
		delete(w.pending, req.ID)
		w.pendingMu.Unlock()
	}()

	w.bus.Publish(domain.InboundRequest{
		Channel:    "web",
		ClientID:   req.ID,
		Request:    req,
		ReceivedAt: time.Now(),
	})

	timeout := time.NewTimer(requestTimeout)
	defer timeout.Stop()
	select {
	case v := <-verdictCh:
		json.NewEncoder(rw).Encode(v)
	case <-timeout.C:
		rw.WriteHeader(http.StatusGatewayTimeout)
		json.NewEncoder(rw).Encode(map[string]string{"error": "verdict timed out"})
	case <-r.Context().Done():
		w.logger.Info("caller disconnected before verdict", "request_id", req.ID)
	}
}

// handleVerdict receives the user's decision from the popup page.
func (w *Web) handleVerdict(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	var v domain.Verdict
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&v); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "invalid verdict: " + err.Error()})
		return
	}
	defer r.Body.Close()

	if v.RequestID == "" {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "requestId required"})
		return
	}

	if w.resolver.Resolve(v.RequestID, v.Approved) {
		json.NewEncoder(rw).Encode(map[string]string{"status": "delivered"})
		return
	}
	// Late or unknown verdict: dropped, but an approval is still recorded.
	rw.WriteHeader(http.StatusAccepted)
	json.NewEncoder(rw).Encode(map[string]string{"status": "dropped"})
}

func (w *Web) handlePopup(rw http.ResponseWriter, r *http.Request) {
	if err := w.tmpl.ExecuteTemplate(rw, "popup.html", map[string]any{
		"Version": w.version,
	}); err != nil {
		w.logger.Error("template error", "template", "popup", "err", err)
	}
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"status":  "ok",
		"version": w.version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

// --- Settings API ---

func (w *Web) handleGetSettings(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	defaults := config.WarningsConfig{Approval: true, Listing: true, HashSignatures: true}
	if w.cfg != nil {
		defaults = w.cfg.Warnings
	}

	ctx := r.Context()
	approval, err := w.store.Get(ctx, domain.SettingsScope, domain.KeyWarnOnApproval, defaults.Approval)
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(rw).Encode(map[string]string{"error": err.Error()})
		return
	}
	listing, _ := w.store.Get(ctx, domain.SettingsScope, domain.KeyWarnOnListing, defaults.Listing)
	hash, _ := w.store.Get(ctx, domain.SettingsScope, domain.KeyWarnOnHashSignatures, defaults.HashSignatures)

	json.NewEncoder(rw).Encode(map[string]bool{
		domain.KeyWarnOnApproval:       approval,
		domain.KeyWarnOnListing:        listing,
		domain.KeyWarnOnHashSignatures: hash,
	})
}

func (w *Web) handleUpdateSettings(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	var update map[string]bool
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&update); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	defer r.Body.Close()

	for key, value := range update {
		switch key {
		case domain.KeyWarnOnApproval, domain.KeyWarnOnListing, domain.KeyWarnOnHashSignatures:
			if err := w.store.Set(r.Context(), domain.SettingsScope, key, value); err != nil {
				rw.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(rw).Encode(map[string]string{"error": err.Error()})
				return
			}
			w.logger.Info("setting updated", "key", key, "value", value)
		default:
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": fmt.Sprintf("unknown setting %q", key)})
			return
		}
	}
	json.NewEncoder(rw).Encode(map[string]string{"status": "updated"})
}

// --- Allowlist API ---

type allowlistEntry struct {
	Kind     string `json:"kind"`
	Hostname string `json:"hostname"`
}

func parseKind(s string) (domain.WarningKind, bool) {
	switch domain.WarningKind(strings.ToLower(s)) {
	case domain.WarningAllowance:
		return domain.WarningAllowance, true
	case domain.WarningListing:
		return domain.WarningListing, true
	case domain.WarningHash:
		return domain.WarningHash, true
	}
	return "", false
}

func (w *Web) handleListAllowlist(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	kind, ok := parseKind(r.URL.Query().Get("kind"))
	if !ok {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "kind must be allowance, listing, or hash"})
		return
	}
	hosts, err := w.store.ListAllowlist(r.Context(), kind)
	if err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(rw).Encode(map[string]string{"error": err.Error()})
		return
	}
	if hosts == nil {
		hosts = []string{}
	}
	json.NewEncoder(rw).Encode(map[string]any{"kind": string(kind), "hostnames": hosts})
}

func (w *Web) handleAddAllowlist(rw http.ResponseWriter, r *http.Request) {
	w.mutateAllowlist(rw, r, w.store.Allowlist, "added")
}

func (w *Web) handleRemoveAllowlist(rw http.ResponseWriter, r *http.Request) {
	w.mutateAllowlist(rw, r, w.store.RemoveAllowlist, "removed")
}

func (w *Web) mutateAllowlist(rw http.ResponseWriter, r *http.Request, op func(context.Context, domain.WarningKind, string) error, status string) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	var entry allowlistEntry
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&entry); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "invalid body: " + err.Error()})
		return
	}
	defer r.Body.Close()

	kind, ok := parseKind(entry.Kind)
	if !ok || entry.Hostname == "" {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "kind and hostname required"})
		return
	}
	if err := op(r.Context(), kind, entry.Hostname); err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(rw).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.logger.Info("allowlist "+status, "kind", kind, "hostname", entry.Hostname)
	json.NewEncoder(rw).Encode(map[string]string{"status": status})
}

// --- Config API ---

func (w *Web) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	w.cfgMu.RLock()
	cfg := w.cfg
	w.cfgMu.RUnlock()

	if cfg == nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(rw).Encode(map[string]string{"error": "config not loaded"})
		return
	}
	json.NewEncoder(rw).Encode(config.Sanitize(cfg))
}

func (w *Web) handleUpdateConfig(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	w.cfgMu.Lock()
	defer w.cfgMu.Unlock()

	if w.cfg == nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(rw).Encode(map[string]string{"error": "config not loaded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "read body: " + err.Error()})
		return
	}
	defer r.Body.Close()

	// Partial update: { "path": "warnings.approval", "value": false }
	var partial struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(body, &partial); err == nil && partial.Path != "" {
		if err := config.SetByPath(w.cfg, partial.Path, partial.Value); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": err.Error()})
			return
		}
		if err := config.Validate(w.cfg); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "validation: " + err.Error()})
			return
		}
		w.logger.Info("config updated via path", "path", partial.Path, "value", partial.Value)
		json.NewEncoder(rw).Encode(map[string]string{"status": "updated", "path": partial.Path})
		return
	}

	// Full config update — unmarshal into a temporary copy first, then validate
	var candidate config.Config
	if err := json.Unmarshal(body, &candidate); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "invalid config: " + err.Error()})
		return
	}
	if err := config.Validate(&candidate); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "validation: " + err.Error()})
		return
	}
	*w.cfg = candidate

	w.logger.Info("config updated (full)")
	json.NewEncoder(rw).Encode(map[string]string{"status": "updated"})
}

func (w *Web) handleSaveConfig(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	w.cfgMu.RLock()
	cfg := w.cfg
	cfgPath := w.cfgPath
	w.cfgMu.RUnlock()

	if cfg == nil || cfgPath == "" {
		rw.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(rw).Encode(map[string]string{"error": "config not available"})
		return
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		rw.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(rw).Encode(map[string]string{"error": "save failed: " + err.Error()})
		return
	}

	w.logger.Info("config saved to disk", "path", cfgPath)
	json.NewEncoder(rw).Encode(map[string]string{"status": "saved", "path": cfgPath})
}

func validType(t domain.RequestType) bool {
	switch t {
	case domain.RequestTransaction, domain.RequestTypedSignature, domain.RequestUntypedSignature:
		return true
	}
	return false
}
