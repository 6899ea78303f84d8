package domain

import "time"

type Product struct {
	ID          int64     `json:"id"`
	SellerID    int64     `json:"seller_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Category    string    `json:"category"`
	Condition   string    `json:"condition"`
	EcoRating   *int      `json:"eco_rating,omitempty"`
	EcoDetails  string    `json:"eco_details,omitempty"`
	Status      string    `json:"status"`
	Views       int64     `json:"views"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ImageURLs   []string  `json:"image_urls"`
	SellerName  string    `json:"seller_name"`
}

// ProductPage is one page of a cursor-paginated listing. NextCursor is an
// opaque continuation token; the client never inspects it.
type ProductPage struct {
	Products   []Product `json:"products"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}

type NewProduct struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Category    string   `json:"category"`
	Condition   string   `json:"condition"`
	EcoRating   *int     `json:"eco_rating,omitempty"`
	EcoDetails  string   `json:"eco_details,omitempty"`
	ImageURLs   []string `json:"image_urls"`
}

type ProductUpdate struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Condition   *string  `json:"condition,omitempty"`
	EcoRating   *int     `json:"eco_rating,omitempty"`
	EcoDetails  *string  `json:"eco_details,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
}
