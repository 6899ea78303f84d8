package domain

import "time"

type CartItem struct {
	ID              int64     `json:"id"`
	ProductID       int64     `json:"product_id"`
	Quantity        int       `json:"quantity"`
	AddedAt         time.Time `json:"added_at"`
	ProductName     string    `json:"product_name"`
	ProductPrice    float64   `json:"product_price"`
	ProductImageURL string    `json:"product_image_url"`
	TotalPrice      float64   `json:"total_price"`
}

// Cart is a point-in-time copy of the server cart. The server is
// authoritative: totals are never recomputed client-side.
type Cart struct {
	ID          int64      `json:"id"`
	Items       []CartItem `json:"items"`
	TotalItems  int        `json:"total_items"`
	TotalAmount float64    `json:"total_amount"`
}

func (c *Cart) Empty() bool {
	return c == nil || len(c.Items) == 0
}

// Item returns the line for productID, if present.
func (c *Cart) Item(productID int64) (CartItem, bool) {
	if c == nil {
		return CartItem{}, false
	}
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return CartItem{}, false
}
