package domain

import "time"

type OrderItem struct {
	ID              int64   `json:"id"`
	ProductID       int64   `json:"product_id"`
	Quantity        int     `json:"quantity"`
	PricePerUnit    float64 `json:"price_per_unit"`
	TotalPrice      float64 `json:"total_price"`
	ProductName     string  `json:"product_name"`
	ProductImageURL string  `json:"product_image_url"`
}

// Order is immutable once created; this client never mutates it.
type Order struct {
	ID              int64       `json:"id"`
	Status          string      `json:"status"`
	TotalAmount     float64     `json:"total_amount"`
	ShippingAddress string      `json:"shipping_address"`
	ShippingCity    string      `json:"shipping_city"`
	ShippingState   string      `json:"shipping_state"`
	ShippingZip     string      `json:"shipping_zip"`
	ShippingCountry string      `json:"shipping_country"`
	CreatedAt       time.Time   `json:"created_at"`
	Items           []OrderItem `json:"items"`
}

// ShippingDetails are the five fields required before an order can be placed.
type ShippingDetails struct {
	Address string `json:"shipping_address"`
	City    string `json:"shipping_city"`
	State   string `json:"shipping_state"`
	Zip     string `json:"shipping_zip"`
	Country string `json:"shipping_country"`
}

// Complete reports whether every shipping field is filled in.
func (s ShippingDetails) Complete() bool {
	return s.Address != "" && s.City != "" && s.State != "" && s.Zip != "" && s.Country != ""
}
