package models

import "time"

type Product struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	Discount      float64   `json:"discount"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Image         string    `json:"image"`
	Rating        float64   `json:"rating"`
	Stock         int       `json:"stock"`
	Featured      bool      `json:"featured"`
	WishlistCount int       `json:"wishlist_count"`
	Sizes         []string  `json:"sizes,omitempty"`
	Colors        []string  `json:"colors,omitempty"`
	Reviews       []Review  `json:"reviews,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type CreateProductRequest struct {
	Name        string   `json:"name" binding:"required"`
	Price       float64  `json:"price" binding:"required,gt=0"`
	Discount    float64  `json:"discount" binding:"gte=0"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Image       string   `json:"image"`
	Stock       int      `json:"stock" binding:"gte=0"`
	Featured    bool     `json:"featured"`
	Sizes       []string `json:"sizes"`
	Colors      []string `json:"colors"`
}

// UpdateProductRequest uses pointers so omitted fields can be told apart
// from zero values; nil fields are left unchanged.
type UpdateProductRequest struct {
	Name        *string   `json:"name"`
	Price       *float64  `json:"price" binding:"omitempty,gt=0"`
	Discount    *float64  `json:"discount" binding:"omitempty,gte=0"`
	Description *string   `json:"description"`
	Category    *string   `json:"category"`
	Image       *string   `json:"image"`
	Stock       *int      `json:"stock" binding:"omitempty,gte=0"`
	Featured    *bool     `json:"featured"`
	Sizes       *[]string `json:"sizes"`
	Colors      *[]string `json:"colors"`
}

// ProductListQuery holds the catalog filter/sort/pagination parameters.
type ProductListQuery struct {
	Category string   `form:"category"`
	Search   string   `form:"search"`
	MinPrice *float64 `form:"min_price"`
	MaxPrice *float64 `form:"max_price"`
	Featured *bool    `form:"featured"`
	Sort     string   `form:"sort"`
	Page     int      `form:"page,default=1"`
	PerPage  int      `form:"per_page,default=9"`
}

type ProductListResponse struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PerPage  int       `json:"per_page"`
}
