package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"storefront-svc/circuitbreaker"
	"storefront-svc/gateway"
	"storefront-svc/middleware"
	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// authorityKey is the order_meta key under which the gateway's opaque token
// is stored for callback correlation.
const authorityKey = "authority"

const refIDKey = "ref_id"

// PaymentGateway abstracts the external gateway client for testing.
type PaymentGateway interface {
	RequestPayment(ctx context.Context, amount float64, description, callbackURL string) (redirectURL, authority string, err error)
	VerifyPayment(ctx context.Context, authority string, amount float64) (refID string, err error)
}

type PaymentHandler struct {
	db        *sql.DB
	gateway   PaymentGateway
	breaker   *circuitbreaker.CircuitBreaker
	publisher EventPublisher
	logger    *zap.Logger
}

func NewPaymentHandler(db *sql.DB, gw PaymentGateway, publisher EventPublisher, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		db:        db,
		gateway:   gw,
		breaker:   circuitbreaker.NewCircuitBreaker(5, 30*time.Second),
		publisher: publisher,
		logger:    logger,
	}
}

// RequestPayment asks the gateway for a redirect URL for an order's total and
// persists the returned authority token in order_meta.
func (h *PaymentHandler) RequestPayment(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "RequestPayment")
	defer span.End()

	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("order.id", req.OrderID))

	var total float64
	err := h.db.QueryRowContext(ctx, "SELECT total FROM orders WHERE id = $1", req.OrderID).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to load order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var redirectURL, authority string
	gwErr := h.breaker.Execute(ctx, func() error {
		var err error
		redirectURL, authority, err = h.gateway.RequestPayment(ctx, total, req.Description, req.CallbackURL)
		return err
	})
	if gwErr != nil {
		if errors.Is(gwErr, circuitbreaker.ErrCircuitOpen) {
			span.SetAttributes(attribute.String("circuit.state", "open"))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment gateway temporarily unavailable"})
			return
		}
		span.RecordError(gwErr)
		h.logger.Error("Payment gateway request failed", zap.Error(gwErr))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway error"})
		return
	}

	if _, err := h.db.ExecContext(ctx,
		`INSERT INTO order_meta (order_id, meta_key, meta_value) VALUES ($1, $2, $3)
		 ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		req.OrderID, authorityKey, authority); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to store authority token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Payment requested",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", req.OrderID),
		zap.String("authority", authority),
	)
	c.JSON(http.StatusOK, models.PaymentRequestResponse{
		RedirectURL: redirectURL,
		Authority:   authority,
	})
}

// Callback handles the gateway redirect. The client-echoed Status parameter is
// only a fast-fail hint: a payment is marked successful solely on a
// server-side verification with the gateway.
func (h *PaymentHandler) Callback(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "PaymentCallback")
	defer span.End()

	authority := c.Query("Authority")
	status := c.Query("Status")
	if authority == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Authority is required"})
		return
	}

	var orderID, userID int
	var total float64
	err := h.db.QueryRowContext(ctx,
		`SELECT o.id, o.user_id, o.total FROM orders o
		 JOIN order_meta m ON m.order_id = o.id
		 WHERE m.meta_key = $1 AND m.meta_value = $2`,
		authorityKey, authority).Scan(&orderID, &userID, &total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown authority"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to correlate authority", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	if status != "OK" {
		h.recordFailure(ctx, orderID, authority, total)
		c.JSON(http.StatusOK, gin.H{"status": "failed", "order_id": orderID})
		return
	}

	var refID string
	gwErr := h.breaker.Execute(ctx, func() error {
		var err error
		refID, err = h.gateway.VerifyPayment(ctx, authority, total)
		return err
	})
	if gwErr != nil {
		if errors.Is(gwErr, circuitbreaker.ErrCircuitOpen) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment gateway temporarily unavailable"})
			return
		}
		if errors.Is(gwErr, gateway.ErrDeclined) {
			h.recordFailure(ctx, orderID, authority, total)
			c.JSON(http.StatusOK, gin.H{"status": "failed", "order_id": orderID})
			return
		}
		span.RecordError(gwErr)
		h.logger.Error("Payment verification failed upstream", zap.Error(gwErr))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway error"})
		return
	}

	if _, err := h.db.ExecContext(ctx,
		`INSERT INTO order_meta (order_id, meta_key, meta_value) VALUES ($1, $2, $3)
		 ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		orderID, refIDKey, refID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to store payment ref id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	middleware.RecordPayment("success")
	event := models.PaymentEvent{
		OrderID:   orderID,
		Authority: authority,
		Amount:    total,
		RefID:     refID,
		EventType: "payment_success",
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Error("Failed to publish payment_success event", zap.Error(err))
	}

	h.logger.Info("Payment confirmed",
		zap.Int("order_id", orderID),
		zap.String("ref_id", refID),
	)
	c.JSON(http.StatusOK, gin.H{"status": "success", "order_id": orderID, "ref_id": refID})
}

func (h *PaymentHandler) recordFailure(ctx context.Context, orderID int, authority string, total float64) {
	middleware.RecordPayment("failed")
	event := models.PaymentEvent{
		OrderID:   orderID,
		Authority: authority,
		Amount:    total,
		EventType: "payment_failed",
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Error("Failed to publish payment_failed event", zap.Error(err))
	}
	h.logger.Info("Payment failed", zap.Int("order_id", orderID), zap.String("authority", authority))
}
