package bus

import (
	"log/slog"
	"sync"
	"time"

	"walletgate/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based message bus carrying wallet requests
// from channels to the arbiter and verdicts back.
type InMemoryBus struct {
	inbound  chan domain.InboundRequest
	handlers map[string]func(domain.OutboundVerdict)
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundRequest, bufferSize),
		handlers: make(map[string]func(domain.OutboundVerdict)),
		logger:   logger,
	}
}

// Publish queues an inbound request. Blocks up to 10 seconds if the bus is
// full instead of dropping; a dropped request leaves the caller waiting on
// a verdict that will never come, so dropping is the last resort.
func (b *InMemoryBus) Publish(msg domain.InboundRequest) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting...", "channel", msg.Channel, "request_id", msg.Request.ID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("request queued after wait", "request_id", msg.Request.ID)
		case <-timer.C:
			b.logger.Error("request dropped: bus full for 10s",
				"channel", msg.Channel,
				"request_id", msg.Request.ID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundRequest {
	return b.inbound
}

// SendVerdict routes a verdict to the handler of the channel that carried
// the request. A missing handler means the channel is gone; the verdict is
// dropped, which is expected under context teardown.
func (b *InMemoryBus) SendVerdict(msg domain.OutboundVerdict) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel, verdict dropped",
			"channel", msg.Channel,
			"request_id", msg.Verdict.RequestID,
		)
		return
	}

	handler(msg)
}

func (b *InMemoryBus) OnVerdict(channelName string, handler func(domain.OutboundVerdict)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
