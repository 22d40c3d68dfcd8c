// Package receipt turns orders into print jobs: the ordered text lines, their
// styling and whether the paper is cut at the end.
package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OrderNumber identifies an order on the printed header. The order service
// sends it either as a JSON number or a string.
type OrderNumber string

// UnmarshalJSON accepts both 1234 and "1234"
func (n *OrderNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = OrderNumber(s)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("invalid order number: %s", data)
	}
	*n = OrderNumber(num.String())
	return nil
}

// Item is one order line. Price is the unit price.
type Item struct {
	Name     string  `json:"nome"`
	Quantity int     `json:"quantidade"`
	Price    float64 `json:"preco"`
}

// Order is the order payload sent by the ordering application
type Order struct {
	Number OrderNumber `json:"orderNumber"`
	Items  []Item      `json:"items"`
	Total  float64     `json:"total"`
}
