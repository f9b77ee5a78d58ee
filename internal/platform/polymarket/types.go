package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "closed" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(n)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexList decodes Gamma's list fields, which arrive as a comma-separated
// string, a JSON-encoded array inside a string, or a plain JSON array.
type flexList []string

func (f *flexList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = splitList(s)
		return nil
	}
	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*f = fromAny(items)
	return nil
}

func splitList(s string) flexList {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var items []any
		if err := json.Unmarshal([]byte(s), &items); err == nil {
			return fromAny(items)
		}
	}
	var out flexList
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fromAny(items []any) flexList {
	out := make(flexList, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return out
}

// floats parses every element that is a number, skipping the rest.
func (f flexList) floats() []float64 {
	out := make([]float64, 0, len(f))
	for _, s := range f {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent is a Gamma event grouping one or more binary markets.
type APIEvent struct {
	ID       flexString  `json:"id"`
	Title    string      `json:"title"`
	Category string      `json:"category"`
	Markets  []APIMarket `json:"markets"`
}

// APIMarket is a Gamma market. Volume and liquidity are pointers so an
// absent field falls through to the next candidate.
type APIMarket struct {
	ID            flexString `json:"id"`
	ConditionID   string     `json:"conditionId"`
	Slug          string     `json:"slug"`
	Question      string     `json:"question"`
	Description   string     `json:"description"`
	Closed        flexBool   `json:"closed"`
	ClobTokenIDs  flexList   `json:"clobTokenIds"`
	OutcomePrices flexList   `json:"outcomePrices"`
	Volume24hr    *flexFloat `json:"volume24hr"`
	Volume        *flexFloat `json:"volume"`
	LiquidityNum  *flexFloat `json:"liquidityNum"`
	Liquidity     *flexFloat `json:"liquidity"`
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// SignedOrder is the CLOB wire form of a signed order; integers are
// decimal strings and side is "BUY" or "SELL".
type SignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType uint8  `json:"signatureType"`
	Signature     string `json:"signature"`
}

// OrderPayload is the POST /order body. Owner is the API key.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool     `json:"success"`
	ErrorMsg    string   `json:"errorMsg,omitempty"`
	OrderID     string   `json:"orderID,omitempty"`
	OrderHashes []string `json:"orderHashes,omitempty"`
	Status      string   `json:"status,omitempty"`
}

type priceResponse struct {
	Price *flexFloat `json:"price"`
}
