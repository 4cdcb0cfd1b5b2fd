package models

type PaymentRequest struct {
	OrderID     int    `json:"order_id" binding:"required"`
	CallbackURL string `json:"callback_url" binding:"required,url"`
	Description string `json:"description"`
}

type PaymentRequestResponse struct {
	RedirectURL string `json:"redirect_url"`
	Authority   string `json:"authority"`
}

type PaymentEvent struct {
	OrderID   int     `json:"order_id"`
	Authority string  `json:"authority"`
	Amount    float64 `json:"amount"`
	RefID     string  `json:"ref_id,omitempty"`
	EventType string  `json:"event_type"` // payment_success, payment_failed
}
