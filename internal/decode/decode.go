// Package decode converts raw wallet payloads into normalized risk
// descriptors. Every function is pure; a nil result means nothing notable
// was found, never an error.
package decode

import (
	"strings"

	"github.com/tidwall/gjson"

	"walletgate/internal/domain"
)

// 4-byte function selectors of the approval-granting calls we care about.
const (
	selApprove           = "095ea7b3" // approve(address,uint256)
	selIncreaseAllowance = "39509351" // increaseAllowance(address,uint256)
	selSetApprovalForAll = "a22cb465" // setApprovalForAll(address,bool)
)

// EVMDecoder implements domain.Decoder for EVM transaction calldata and
// EIP-712 typed-data documents.
type EVMDecoder struct{}

var _ domain.Decoder = (*EVMDecoder)(nil)

func New() *EVMDecoder { return &EVMDecoder{} }

// Approval extracts an allowance grant from transaction calldata.
// The asset is the contract being called, the spender is the first argument.
func (d *EVMDecoder) Approval(tx *domain.Transaction) *domain.Allowance {
	if tx == nil || tx.To == "" {
		return nil
	}
	data := strings.ToLower(strings.TrimPrefix(tx.Data, "0x"))
	if len(data) < 8+64 {
		return nil
	}
	sel, args := data[:8], data[8:]

	switch sel {
	case selApprove, selIncreaseAllowance:
		spender := wordAddress(args, 0)
		if spender == "" {
			return nil
		}
		return &domain.Allowance{Asset: strings.ToLower(tx.To), Spender: spender}
	case selSetApprovalForAll:
		// Revoking (operator, false) grants nothing.
		if len(args) < 128 || !wordBool(args, 1) {
			return nil
		}
		operator := wordAddress(args, 0)
		if operator == "" {
			return nil
		}
		return &domain.Allowance{Asset: strings.ToLower(tx.To), Spender: operator}
	}
	return nil
}

// Permit extracts an allowance from an EIP-2612 Permit typed-data document.
func (d *EVMDecoder) Permit(typedData []byte) *domain.Allowance {
	if !gjson.ValidBytes(typedData) {
		return nil
	}
	doc := gjson.ParseBytes(typedData)
	if doc.Get("primaryType").String() != "Permit" {
		return nil
	}
	asset := doc.Get("domain.verifyingContract").String()
	spender := doc.Get("message.spender").String()
	if asset == "" || spender == "" {
		return nil
	}
	return &domain.Allowance{
		Asset:   strings.ToLower(asset),
		Spender: strings.ToLower(spender),
	}
}

// NftListing extracts a marketplace order from a typed-data document.
// The platform name comes from the signing domain and is returned even when
// no listing structure is present.
func (d *EVMDecoder) NftListing(typedData []byte) (string, *domain.Listing) {
	if !gjson.ValidBytes(typedData) {
		return "", nil
	}
	doc := gjson.ParseBytes(typedData)

	platform := doc.Get("domain.name").String()
	if platform == "" {
		platform = "unknown marketplace"
	}

	offer := legs(doc.Get("message.offer"))
	consideration := legs(doc.Get("message.consideration"))
	if len(offer) == 0 && len(consideration) == 0 {
		return platform, nil
	}
	return platform, &domain.Listing{Offer: offer, Consideration: consideration}
}

func legs(arr gjson.Result) []domain.ListingLeg {
	if !arr.IsArray() {
		return nil
	}
	var out []domain.ListingLeg
	arr.ForEach(func(_, item gjson.Result) bool {
		out = append(out, domain.ListingLeg{
			Token:      strings.ToLower(item.Get("token").String()),
			Identifier: item.Get("identifierOrCriteria").String(),
			Amount:     item.Get("startAmount").String(),
		})
		return true
	})
	return out
}

// wordAddress returns the address packed into the i-th 32-byte argument
// word, or "" when the word is absent or not a left-padded address.
func wordAddress(args string, i int) string {
	start := i * 64
	if len(args) < start+64 {
		return ""
	}
	word := args[start : start+64]
	if word[:24] != strings.Repeat("0", 24) {
		return ""
	}
	addr := word[24:]
	if addr == strings.Repeat("0", 40) {
		return ""
	}
	return "0x" + addr
}

// wordBool interprets the i-th argument word as an ABI-encoded bool.
func wordBool(args string, i int) bool {
	start := i * 64
	if len(args) < start+64 {
		return false
	}
	word := args[start : start+64]
	return strings.TrimLeft(word, "0") == "1"
}
