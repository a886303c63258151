package domain

// WarningKind classifies what a warning popup is about.
type WarningKind string

const (
	WarningAllowance WarningKind = "allowance"
	WarningListing   WarningKind = "listing"
	WarningHash      WarningKind = "hash"
)

// Allowance describes a granted permission for a spender to move an asset.
type Allowance struct {
	Asset   string `json:"asset"`
	Spender string `json:"spender"`
}

// ListingLeg is one side entry of an NFT marketplace order.
type ListingLeg struct {
	Token      string `json:"token"`
	Identifier string `json:"identifier,omitempty"`
	Amount     string `json:"amount,omitempty"`
}

// Listing is a marketplace offer/consideration structure describing the
// assets being exchanged.
type Listing struct {
	Offer         []ListingLeg `json:"offer"`
	Consideration []ListingLeg `json:"consideration"`
}

// Descriptor is the Decision Engine's output. When Prompt is false the
// request passes through without a warning and the other fields are zero.
type Descriptor struct {
	Prompt bool
	Kind   WarningKind

	Allowance *Allowance // WarningAllowance
	Platform  string     // WarningListing
	Listing   *Listing   // WarningListing

	// ContentLines drives popup sizing: 2 for an allowance, the total leg
	// count for a listing, 0 for a hash warning.
	ContentLines int
}

// Verdict is the user's (or fast-path's) decision for one request,
// delivered at most once to the channel that carried the request.
type Verdict struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"data"`
}

// VerdictChannel is the communication channel a caller blocks on until its
// request is resolved. Deliver must not block the router.
type VerdictChannel interface {
	Deliver(v Verdict)
}

// WindowBounds describes a window's geometry in screen coordinates.
type WindowBounds struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}
