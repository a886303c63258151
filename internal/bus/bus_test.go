package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"walletgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.Publish(domain.InboundRequest{
		Channel: "websocket",
		Request: domain.Request{ID: "req-1", Type: domain.RequestTransaction},
	})

	select {
	case msg := <-b.Subscribe():
		if msg.Request.ID != "req-1" {
			t.Errorf("request id = %s", msg.Request.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestSendVerdict_RoutesToHandler(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	got := make(chan domain.OutboundVerdict, 1)
	b.OnVerdict("web", func(msg domain.OutboundVerdict) {
		got <- msg
	})

	b.SendVerdict(domain.OutboundVerdict{
		Channel: "web",
		Verdict: domain.Verdict{RequestID: "req-2", Approved: true},
	})

	select {
	case msg := <-got:
		if !msg.Verdict.Approved {
			t.Error("expected approved verdict")
		}
	case <-time.After(time.Second):
		t.Fatal("verdict not delivered")
	}
}

func TestSendVerdict_NoHandlerDropsSilently(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	// Must not panic or block.
	b.SendVerdict(domain.OutboundVerdict{
		Channel: "gone",
		Verdict: domain.Verdict{RequestID: "req-3"},
	})
}

func TestPublishAfterClose(t *testing.T) {
	b := New(10, testLogger())
	b.Close()

	// Must not panic on a closed bus.
	b.Publish(domain.InboundRequest{Request: domain.Request{ID: "late"}})
	b.Close() // double close is a no-op
}
