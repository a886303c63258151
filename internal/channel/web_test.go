package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"walletgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBus implements domain.MessageBus. Published requests are answered
// with a canned verdict through the registered handler.
type fakeBus struct {
	mu        sync.Mutex
	published []domain.InboundRequest
	handlers  map[string]func(domain.OutboundVerdict)
	respond   func(req domain.InboundRequest) *domain.Verdict
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]func(domain.OutboundVerdict))}
}

func (b *fakeBus) Publish(msg domain.InboundRequest) {
	b.mu.Lock()
	b.published = append(b.published, msg)
	respond := b.respond
	handler := b.handlers[msg.Channel]
	b.mu.Unlock()

	if respond == nil || handler == nil {
		return
	}
	if v := respond(msg); v != nil {
		go handler(domain.OutboundVerdict{Channel: msg.Channel, ClientID: msg.ClientID, Verdict: *v})
	}
}

func (b *fakeBus) Subscribe() <-chan domain.InboundRequest { return nil }

func (b *fakeBus) SendVerdict(msg domain.OutboundVerdict) {
	b.mu.Lock()
	handler := b.handlers[msg.Channel]
	b.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func (b *fakeBus) OnVerdict(channelName string, handler func(domain.OutboundVerdict)) {
	b.mu.Lock()
	b.handlers[channelName] = handler
	b.mu.Unlock()
}

func (b *fakeBus) Close() {}

func (b *fakeBus) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type fakeResolver struct {
	mu       sync.Mutex
	resolved []domain.Verdict
	deliver  bool
}

func (r *fakeResolver) Resolve(requestID string, approved bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, domain.Verdict{RequestID: requestID, Approved: approved})
	return r.deliver
}

type fakeStore struct {
	mu        sync.Mutex
	values    map[string]bool
	allowlist map[domain.WarningKind][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values:    make(map[string]bool),
		allowlist: make(map[domain.WarningKind][]string),
	}
}

func (s *fakeStore) Get(_ context.Context, scope, key string, def bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[scope+"/"+key]; ok {
		return v, nil
	}
	return def, nil
}

func (s *fakeStore) Set(_ context.Context, scope, key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[scope+"/"+key] = value
	return nil
}

func (s *fakeStore) Allowlist(_ context.Context, kind domain.WarningKind, hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowlist[kind] = append(s.allowlist[kind], hostname)
	return nil
}

func (s *fakeStore) RemoveAllowlist(_ context.Context, kind domain.WarningKind, hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hosts := s.allowlist[kind][:0]
	for _, h := range s.allowlist[kind] {
		if h != hostname {
			hosts = append(hosts, h)
		}
	}
	s.allowlist[kind] = hosts
	return nil
}

func (s *fakeStore) ListAllowlist(_ context.Context, kind domain.WarningKind) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowlist[kind], nil
}

func testWeb(t *testing.T) (*Web, *fakeBus, *fakeResolver, *fakeStore) {
	t.Helper()
	bus := newFakeBus()
	resolver := &fakeResolver{deliver: true}
	store := newFakeStore()
	w := NewWeb(WebConfig{
		Logger:   testLogger(),
		Resolver: resolver,
		Store:    store,
	})
	w.attachBus(bus)
	return w, bus, resolver, store
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

// --- /rpc/request ---

func TestHandleRequest_BlocksUntilVerdict(t *testing.T) {
	w, bus, _, _ := testWeb(t)

	bus.respond = func(msg domain.InboundRequest) *domain.Verdict {
		return &domain.Verdict{RequestID: msg.Request.ID, Approved: true}
	}

	rec := postJSON(t, w.handleRequest, domain.Request{
		ID:       "req-1",
		Type:     domain.RequestTransaction,
		Hostname: "dapp.example",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var v domain.Verdict
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.RequestID != "req-1" || !v.Approved {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestHandleRequest_DenialPropagates(t *testing.T) {
	w, bus, _, _ := testWeb(t)
	bus.respond = func(msg domain.InboundRequest) *domain.Verdict {
		return &domain.Verdict{RequestID: msg.Request.ID, Approved: false}
	}

	rec := postJSON(t, w.handleRequest, domain.Request{ID: "req-1", Type: domain.RequestUntypedSignature})

	var v domain.Verdict
	json.Unmarshal(rec.Body.Bytes(), &v)
	if v.Approved {
		t.Fatal("expected denial")
	}
}

func TestHandleRequest_Bypassed_AcknowledgedImmediately(t *testing.T) {
	w, bus, _, _ := testWeb(t)
	// No responder: a verdict would block forever. Bypassed must not wait.

	rec := postJSON(t, w.handleRequest, domain.Request{
		ID:       "req-1",
		Type:     domain.RequestTransaction,
		Bypassed: true,
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d, want 202", rec.Code)
	}
	if bus.publishedCount() != 1 {
		t.Fatal("bypassed request must still be published")
	}
}

func TestHandleRequest_UnknownType(t *testing.T) {
	w, _, _, _ := testWeb(t)
	rec := postJSON(t, w.handleRequest, map[string]string{"requestId": "x", "type": "mystery"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestHandleRequest_InvalidJSON(t *testing.T) {
	w, _, _, _ := testWeb(t)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	w.handleRequest(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestHandleRequest_DuplicateInFlight(t *testing.T) {
	w, _, _, _ := testWeb(t)

	// Occupy the id manually, as a still-blocked first request would.
	w.pendingMu.Lock()
	w.pending["req-1"] = make(chan domain.Verdict, 1)
	w.pendingMu.Unlock()

	rec := postJSON(t, w.handleRequest, domain.Request{ID: "req-1", Type: domain.RequestTransaction})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", rec.Code)
	}
}

// --- /popup/verdict ---

func TestHandleVerdict_Delivered(t *testing.T) {
	w, _, resolver, _ := testWeb(t)

	rec := postJSON(t, w.handleVerdict, map[string]any{"requestId": "req-1", "data": true})

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if len(resolver.resolved) != 1 || !resolver.resolved[0].Approved {
		t.Fatalf("resolver calls: %+v", resolver.resolved)
	}
}

func TestHandleVerdict_Dropped(t *testing.T) {
	w, _, resolver, _ := testWeb(t)
	resolver.deliver = false

	rec := postJSON(t, w.handleVerdict, map[string]any{"requestId": "late", "data": true})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d, want 202", rec.Code)
	}
}

func TestHandleVerdict_MissingID(t *testing.T) {
	w, _, _, _ := testWeb(t)
	rec := postJSON(t, w.handleVerdict, map[string]any{"data": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

// --- Settings API ---

func TestSettingsAPI_GetDefaults(t *testing.T) {
	w, _, _, _ := testWeb(t)

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	rec := httptest.NewRecorder()
	w.handleGetSettings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got map[string]bool
	json.Unmarshal(rec.Body.Bytes(), &got)
	for _, key := range []string{domain.KeyWarnOnApproval, domain.KeyWarnOnListing, domain.KeyWarnOnHashSignatures} {
		if !got[key] {
			t.Errorf("expected %s default true", key)
		}
	}
}

func TestSettingsAPI_Update(t *testing.T) {
	w, _, _, store := testWeb(t)

	rec := postJSON(t, w.handleUpdateSettings, map[string]bool{domain.KeyWarnOnApproval: false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	if v := store.values[domain.SettingsScope+"/"+domain.KeyWarnOnApproval]; v {
		t.Fatal("store should hold false")
	}
}

func TestSettingsAPI_UnknownKeyRejected(t *testing.T) {
	w, _, _, _ := testWeb(t)
	rec := postJSON(t, w.handleUpdateSettings, map[string]bool{"warnOnEverything": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

// --- Allowlist API ---

func TestAllowlistAPI_AddListRemove(t *testing.T) {
	w, _, _, store := testWeb(t)

	rec := postJSON(t, w.handleAddAllowlist, allowlistEntry{Kind: "allowance", Hostname: "app.uniswap.org"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add status %d", rec.Code)
	}
	if len(store.allowlist[domain.WarningAllowance]) != 1 {
		t.Fatal("expected one allowlist entry")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/allowlist?kind=allowance", nil)
	listRec := httptest.NewRecorder()
	w.handleListAllowlist(listRec, req)
	var listed struct {
		Hostnames []string `json:"hostnames"`
	}
	json.Unmarshal(listRec.Body.Bytes(), &listed)
	if len(listed.Hostnames) != 1 || listed.Hostnames[0] != "app.uniswap.org" {
		t.Fatalf("list: %+v", listed)
	}

	rec = postJSON(t, w.handleRemoveAllowlist, allowlistEntry{Kind: "allowance", Hostname: "app.uniswap.org"})
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status %d", rec.Code)
	}
	if len(store.allowlist[domain.WarningAllowance]) != 0 {
		t.Fatal("expected entry removed")
	}
}

func TestAllowlistAPI_BadKind(t *testing.T) {
	w, _, _, _ := testWeb(t)
	rec := postJSON(t, w.handleAddAllowlist, allowlistEntry{Kind: "everything", Hostname: "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

// --- /status ---

func TestStatus(t *testing.T) {
	w, _, _, _ := testWeb(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	w.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Fatalf("body: %v", body)
	}
}
