package predictbase

import (
	"encoding/json"
	"strconv"
	"strings"
)

// number decodes a JSON number or numeric string. Unparseable strings
// leave valid false.
type number struct {
	value float64
	valid bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = number{value: f, valid: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*n = number{}
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	*n = number{value: f, valid: err == nil}
	return nil
}

// ident decodes a JSON string or number as a string.
type ident string

func (i *ident) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*i = ident(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		*i = ""
		return nil
	}
	*i = ident(n.String())
	return nil
}

// apiMarket is one row of GET /get_active_markets.
type apiMarket struct {
	ID           ident    `json:"id"`
	Status       number   `json:"status"`
	Question     string   `json:"question"`
	Details      string   `json:"details"`
	OptionPrices []number `json:"optionPrices"`
	Volume       number   `json:"volume"`
	Categories   []string `json:"categories"`
}

// CreateOrder is the POST /create-order body.
type CreateOrder struct {
	Kind  string    `json:"kind"`
	Order OrderBody `json:"order"`
	Meta  OrderMeta `json:"meta"`
}

type OrderBody struct {
	Type        string  `json:"type"`
	Side        string  `json:"side"`
	MarketID    string  `json:"marketId"`
	OptionIndex int     `json:"optionIndex"`
	Qty         float64 `json:"qty"`
	Price       float64 `json:"price"`
	UserID      string  `json:"userId"`
	TimeInForce string  `json:"timeInForce"`
	ReceivedAt  int64   `json:"receivedAt"`
}

type OrderMeta struct {
	ClientOrderID string  `json:"clientOrderId"`
	OriginalQty   float64 `json:"originalQty"`
}

type orderResponse struct {
	OrderID string `json:"orderId"`
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}
