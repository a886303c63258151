package domain

import "time"

// InboundRequest is a wallet request as it arrives from a channel.
type InboundRequest struct {
	Channel    string // originating channel name ("websocket", "web")
	ClientID   string // channel-specific client/session identifier
	Request    Request
	ReceivedAt time.Time
}

// OutboundVerdict routes a verdict back to the channel that carried the
// request.
type OutboundVerdict struct {
	Channel  string
	ClientID string
	Verdict  Verdict
}

// MessageBus routes requests from channels to the arbiter and verdicts back.
type MessageBus interface {
	Publish(msg InboundRequest)
	Subscribe() <-chan InboundRequest
	SendVerdict(msg OutboundVerdict)
	OnVerdict(channelName string, handler func(OutboundVerdict))
	Close()
}
