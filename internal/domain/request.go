package domain

import "encoding/json"

// RequestType identifies the kind of wallet interaction being intercepted.
// Fixed at creation, never mutated.
type RequestType string

const (
	RequestTransaction      RequestType = "transaction"
	RequestTypedSignature   RequestType = "typed_signature"
	RequestUntypedSignature RequestType = "untyped_signature"
)

// Request is one intercepted wallet interaction. ID is caller-generated and
// is the sole correlation key for the lifetime of the request.
type Request struct {
	ID       string      `json:"requestId"`
	Type     RequestType `json:"type"`
	ChainID  int64       `json:"chainId"`
	Hostname string      `json:"hostname"`

	// Bypassed means the caller has pre-authorized skipping the warning.
	// A bypassed request never receives a verdict on its channel.
	Bypassed bool `json:"bypassed,omitempty"`

	// Window, when present, holds the bounds of the browser window that
	// raised the request; the warning popup is positioned against it.
	Window *WindowBounds `json:"window,omitempty"`

	// Exactly one of the following is set, matching Type.
	Transaction *Transaction    `json:"transaction,omitempty"`
	TypedData   json.RawMessage `json:"typedData,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Transaction is the raw transaction payload of a RequestTransaction.
type Transaction struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data,omitempty"`
	Value string `json:"value,omitempty"`
}
