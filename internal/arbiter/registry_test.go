package arbiter

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"walletgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingChannel captures delivered verdicts.
type recordingChannel struct {
	mu       sync.Mutex
	verdicts []domain.Verdict
}

func (c *recordingChannel) Deliver(v domain.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verdicts = append(c.verdicts, v)
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.verdicts)
}

func (c *recordingChannel) last() domain.Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verdicts[len(c.verdicts)-1]
}

// --- Register / Resolve ---

func TestResolve_DeliversOnce(t *testing.T) {
	r := NewRegistry(testLogger())
	ch := &recordingChannel{}

	if err := r.Register("req-1", ch); err != nil {
		t.Fatalf("register: %v", err)
	}

	if !r.Resolve("req-1", true) {
		t.Fatal("first resolve should deliver")
	}
	if r.Resolve("req-1", false) {
		t.Fatal("second resolve should be dropped")
	}

	if ch.count() != 1 {
		t.Fatalf("expected exactly 1 verdict, got %d", ch.count())
	}
	v := ch.last()
	if v.RequestID != "req-1" || !v.Approved {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestResolve_Denial(t *testing.T) {
	r := NewRegistry(testLogger())
	ch := &recordingChannel{}
	r.Register("req-1", ch)

	r.Resolve("req-1", false)

	if ch.last().Approved {
		t.Fatal("expected denial")
	}
	if r.IsApproved("req-1") {
		t.Fatal("denied request must not enter approved set")
	}
}

func TestRegister_DuplicateRejected(t *testing.T) {
	r := NewRegistry(testLogger())
	if err := r.Register("req-1", &recordingChannel{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("req-1", &recordingChannel{}); err != ErrDuplicateRegistration {
		t.Fatalf("expected ErrDuplicateRegistration, got %v", err)
	}
}

func TestRegister_ReusableAfterResolve(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register("req-1", &recordingChannel{})
	r.Resolve("req-1", false)

	if err := r.Register("req-1", &recordingChannel{}); err != nil {
		t.Fatalf("id should be reusable after resolve: %v", err)
	}
}

// --- Approved set ---

func TestApprovedSet_LateApprovalStillRecorded(t *testing.T) {
	r := NewRegistry(testLogger())

	// No registration at all: the verdict is dropped but the approval sticks.
	if r.Resolve("ghost", true) {
		t.Fatal("resolve without registration should report dropped")
	}
	if !r.IsApproved("ghost") {
		t.Fatal("late approval must still be recorded")
	}
}

func TestApprovedSet_IsAppendOnly(t *testing.T) {
	r := NewRegistry(testLogger())
	ch := &recordingChannel{}
	r.Register("req-1", ch)
	r.Resolve("req-1", true)

	// A later denial for the same id does not un-approve it.
	r.Resolve("req-1", false)
	if !r.IsApproved("req-1") {
		t.Fatal("approved set entries must never be removed")
	}
}

// --- Drop / Outstanding ---

func TestDrop_RetiresWithoutDelivery(t *testing.T) {
	r := NewRegistry(testLogger())
	ch := &recordingChannel{}
	r.Register("req-1", ch)

	r.Drop("req-1")

	if r.Outstanding() != 0 {
		t.Fatalf("expected 0 outstanding, got %d", r.Outstanding())
	}
	if ch.count() != 0 {
		t.Fatal("drop must not deliver a verdict")
	}
	if r.Resolve("req-1", true) {
		t.Fatal("resolve after drop should report dropped")
	}
}

func TestOutstanding(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Register("a", &recordingChannel{})
	r.Register("b", &recordingChannel{})
	if r.Outstanding() != 2 {
		t.Fatalf("expected 2, got %d", r.Outstanding())
	}
	r.Resolve("a", true)
	if r.Outstanding() != 1 {
		t.Fatalf("expected 1, got %d", r.Outstanding())
	}
}

// --- Hooks ---

func TestHooks_DeliveredAndDropped(t *testing.T) {
	r := NewRegistry(testLogger())

	var delivered, dropped []string
	r.OnDelivered(func(id string, approved bool) { delivered = append(delivered, id) })
	r.OnDropped(func(id string, approved bool) { dropped = append(dropped, id) })

	r.Register("req-1", &recordingChannel{})
	r.Resolve("req-1", true)
	r.Resolve("req-2", false)

	if len(delivered) != 1 || delivered[0] != "req-1" {
		t.Fatalf("delivered hook mismatch: %v", delivered)
	}
	if len(dropped) != 1 || dropped[0] != "req-2" {
		t.Fatalf("dropped hook mismatch: %v", dropped)
	}
}

// --- Concurrency ---

func TestResolve_ConcurrentSingleDelivery(t *testing.T) {
	r := NewRegistry(testLogger())
	ch := &recordingChannel{}
	r.Register("req-1", ch)

	var wg sync.WaitGroup
	delivered := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			delivered <- r.Resolve("req-1", true)
		}()
	}
	wg.Wait()
	close(delivered)

	got := 0
	for ok := range delivered {
		if ok {
			got++
		}
	}
	if got != 1 {
		t.Fatalf("expected exactly 1 successful delivery, got %d", got)
	}
	if ch.count() != 1 {
		t.Fatalf("expected 1 verdict on channel, got %d", ch.count())
	}
}
