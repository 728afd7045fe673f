package products

import "time"

// Product is a catalog item sold through the store front.
type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Stock       int       `json:"stock"`
	Visible     bool      `json:"visible"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilters narrows and pages product listings.
type ListFilters struct {
	Search      string
	VisibleOnly bool
	Page        int
	PerPage     int
}
