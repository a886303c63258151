package popup

import (
	"encoding/json"
	"net/url"
	"strconv"

	"walletgate/internal/domain"
)

// BuildURL assembles the popup page URL. The page is served by the gateway
// itself; everything it renders travels in the query string.
func BuildURL(baseURL string, req domain.Request, desc domain.Descriptor) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("kind", string(desc.Kind))
	q.Set("requestId", req.ID)
	q.Set("type", string(req.Type))
	q.Set("hostname", req.Hostname)
	if req.ChainID != 0 {
		q.Set("chainId", strconv.FormatInt(req.ChainID, 10))
	}
	if req.Bypassed {
		q.Set("bypassed", "1")
	}

	switch desc.Kind {
	case domain.WarningAllowance:
		if desc.Allowance != nil {
			q.Set("asset", desc.Allowance.Asset)
			q.Set("spender", desc.Allowance.Spender)
		}
	case domain.WarningListing:
		q.Set("platform", desc.Platform)
		if desc.Listing != nil {
			listing, err := json.Marshal(desc.Listing)
			if err != nil {
				return "", err
			}
			q.Set("listing", string(listing))
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}
