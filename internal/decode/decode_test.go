package decode

import (
	"strings"
	"testing"

	"walletgate/internal/domain"
)

const (
	tokenAddr   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	spenderAddr = "0x1111111254eeb25477b68fb85ed929f73a960582"
)

func approveCalldata(spender string) string {
	return "0x095ea7b3" +
		strings.Repeat("0", 24) + strings.TrimPrefix(strings.ToLower(spender), "0x") +
		strings.Repeat("f", 64)
}

// --- Approval ---

func TestApproval_Approve(t *testing.T) {
	d := New()
	al := d.Approval(&domain.Transaction{To: tokenAddr, Data: approveCalldata(spenderAddr)})
	if al == nil {
		t.Fatal("expected allowance")
	}
	if al.Asset != strings.ToLower(tokenAddr) {
		t.Errorf("asset = %s", al.Asset)
	}
	if al.Spender != spenderAddr {
		t.Errorf("spender = %s", al.Spender)
	}
}

func TestApproval_IncreaseAllowance(t *testing.T) {
	d := New()
	data := "0x39509351" +
		strings.Repeat("0", 24) + strings.TrimPrefix(spenderAddr, "0x") +
		strings.Repeat("0", 63) + "1"
	al := d.Approval(&domain.Transaction{To: tokenAddr, Data: data})
	if al == nil || al.Spender != spenderAddr {
		t.Fatalf("expected allowance for increaseAllowance, got %+v", al)
	}
}

func TestApproval_SetApprovalForAll(t *testing.T) {
	d := New()
	operator := strings.Repeat("0", 24) + strings.TrimPrefix(spenderAddr, "0x")

	granting := "0xa22cb465" + operator + strings.Repeat("0", 63) + "1"
	if al := d.Approval(&domain.Transaction{To: tokenAddr, Data: granting}); al == nil {
		t.Fatal("expected allowance when approving operator")
	}

	revoking := "0xa22cb465" + operator + strings.Repeat("0", 64)
	if al := d.Approval(&domain.Transaction{To: tokenAddr, Data: revoking}); al != nil {
		t.Fatalf("revocation should decode to nil, got %+v", al)
	}
}

func TestApproval_UnknownSelector(t *testing.T) {
	d := New()
	data := "0xa9059cbb" + strings.Repeat("0", 128) // transfer(address,uint256)
	if al := d.Approval(&domain.Transaction{To: tokenAddr, Data: data}); al != nil {
		t.Fatalf("transfer is not an approval, got %+v", al)
	}
}

func TestApproval_TruncatedCalldata(t *testing.T) {
	d := New()
	if al := d.Approval(&domain.Transaction{To: tokenAddr, Data: "0x095ea7b3"}); al != nil {
		t.Fatal("truncated calldata should decode to nil")
	}
	if al := d.Approval(nil); al != nil {
		t.Fatal("nil tx should decode to nil")
	}
}

// --- Permit ---

func TestPermit_Valid(t *testing.T) {
	d := New()
	doc := `{
		"primaryType": "Permit",
		"domain": {"name": "USD Coin", "verifyingContract": "` + tokenAddr + `"},
		"message": {"owner": "0xabc", "spender": "` + spenderAddr + `", "value": "1000"}
	}`
	al := d.Permit([]byte(doc))
	if al == nil {
		t.Fatal("expected allowance")
	}
	if al.Asset != strings.ToLower(tokenAddr) || al.Spender != spenderAddr {
		t.Errorf("got %+v", al)
	}
}

func TestPermit_WrongPrimaryType(t *testing.T) {
	d := New()
	doc := `{"primaryType": "Order", "domain": {"verifyingContract": "0x1"}, "message": {"spender": "0x2"}}`
	if al := d.Permit([]byte(doc)); al != nil {
		t.Fatalf("non-Permit primaryType should decode to nil, got %+v", al)
	}
}

func TestPermit_MissingSpender(t *testing.T) {
	d := New()
	doc := `{"primaryType": "Permit", "domain": {"verifyingContract": "0x1"}, "message": {}}`
	if al := d.Permit([]byte(doc)); al != nil {
		t.Fatal("missing spender should decode to nil")
	}
}

func TestPermit_MalformedJSON(t *testing.T) {
	d := New()
	if al := d.Permit([]byte(`{"primaryType": `)); al != nil {
		t.Fatal("malformed document should decode to nil")
	}
}

// --- NftListing ---

func TestNftListing_SeaportOrder(t *testing.T) {
	d := New()
	doc := `{
		"primaryType": "OrderComponents",
		"domain": {"name": "Seaport"},
		"message": {
			"offer": [
				{"token": "0xAAA", "identifierOrCriteria": "42", "startAmount": "1"},
				{"token": "0xBBB", "identifierOrCriteria": "7", "startAmount": "1"}
			],
			"consideration": [
				{"token": "0x0000000000000000000000000000000000000000", "startAmount": "1000000"}
			]
		}
	}`
	platform, listing := d.NftListing([]byte(doc))
	if platform != "Seaport" {
		t.Errorf("platform = %s", platform)
	}
	if listing == nil {
		t.Fatal("expected listing")
	}
	if len(listing.Offer) != 2 || len(listing.Consideration) != 1 {
		t.Fatalf("legs = %d/%d", len(listing.Offer), len(listing.Consideration))
	}
	if listing.Offer[0].Identifier != "42" {
		t.Errorf("identifier = %s", listing.Offer[0].Identifier)
	}
}

func TestNftListing_NoLegs(t *testing.T) {
	d := New()
	doc := `{"domain": {"name": "Seaport"}, "message": {"offer": [], "consideration": []}}`
	platform, listing := d.NftListing([]byte(doc))
	if listing != nil {
		t.Fatal("empty order should decode to nil listing")
	}
	if platform != "Seaport" {
		t.Errorf("platform should survive a nil listing, got %s", platform)
	}
}

func TestNftListing_MalformedJSON(t *testing.T) {
	d := New()
	if _, listing := d.NftListing([]byte(`not json`)); listing != nil {
		t.Fatal("malformed document should decode to nil")
	}
}
