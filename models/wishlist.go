package models

import "time"

type WishlistEntry struct {
	UserID    int       `json:"user_id"`
	ProductID int       `json:"product_id"`
	CreatedAt time.Time `json:"created_at"`
}

type WishlistRequest struct {
	UserID    int `json:"user_id" binding:"required"`
	ProductID int `json:"product_id" binding:"required"`
}

type NewsletterSubscription struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type NewsletterRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type NewsletterEvent struct {
	Email     string `json:"email"`
	EventType string `json:"event_type"` // newsletter_subscribed
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type CreateCategoryRequest struct {
	Name string `json:"name" binding:"required"`
}
