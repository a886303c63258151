package domain

// Decoder converts raw transaction or typed-data payloads into normalized
// risk descriptors. Implementations are pure and stateless; a nil result
// means "nothing notable found" and is never an error.
type Decoder interface {
	// Approval inspects transaction calldata for an ERC-20/721/1155
	// approval grant.
	Approval(tx *Transaction) *Allowance

	// Permit inspects an EIP-2612 Permit typed-data document.
	Permit(typedData []byte) *Allowance

	// NftListing inspects a marketplace order typed-data document.
	// platform names the marketplace even when listing is nil.
	NftListing(typedData []byte) (platform string, listing *Listing)
}
