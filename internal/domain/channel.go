package domain

import "context"

// Channel is the interface for request-carrying surfaces (WebSocket, HTTP).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// Notifier pushes out-of-band notifications about decisions. Failures are
// logged and swallowed; a notifier never resolves a request.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
