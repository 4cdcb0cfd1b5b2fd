package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"storefront-svc/cache"
	"storefront-svc/middleware"
	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// EventPublisher abstracts the Kafka producer so handlers can be tested
// without a broker.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

type OrderHandler struct {
	db          *sql.DB
	publisher   EventPublisher
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewOrderHandler(db *sql.DB, publisher EventPublisher, redisClient *redis.Client, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		db:          db,
		publisher:   publisher,
		redisClient: redisClient,
		logger:      logger,
	}
}

const orderColumns = "id, user_id, total, status, payment_method, shipping_address, created_at, updated_at"

func scanOrder(row interface{ Scan(...any) error }, o *models.Order) error {
	return row.Scan(&o.ID, &o.UserID, &o.Total, &o.Status, &o.PaymentMethod, &o.ShippingAddress, &o.CreatedAt, &o.UpdatedAt)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateOrder inserts the order, its line items and the stock decrements in a
// single transaction; any failure rolls everything back. The request_id column
// is unique, so a retried submission trips a unique violation and the original
// order is returned instead of a duplicate.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateOrder")
	defer span.End()

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("user_id", req.UserID),
		attribute.Int("items.count", len(req.Items)),
	)

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	var order models.Order
	err = scanOrder(tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, total, status, payment_method, shipping_address, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+orderColumns,
		req.UserID, req.Total, models.OrderStatusProcessing, req.PaymentMethod, req.ShippingAddress, req.RequestID,
	), &order)
	if err != nil {
		if isUniqueViolation(err) {
			h.returnExistingOrder(c, ctx, req.RequestID)
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to create order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	for _, item := range req.Items {
		var oi models.OrderItem
		err = tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, price)
			 VALUES ($1, $2, $3, $4) RETURNING id, order_id, product_id, quantity, price`,
			order.ID, item.ProductID, item.Quantity, item.Price,
		).Scan(&oi.ID, &oi.OrderID, &oi.ProductID, &oi.Quantity, &oi.Price)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to insert order item", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		order.Items = append(order.Items, oi)

		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - $1 WHERE id = $2",
			item.Quantity, item.ProductID); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to decrement stock", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO user_orders (user_id, order_id) VALUES ($1, $2)",
		order.UserID, order.ID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to link order to user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	span.SetAttributes(attribute.Int("order.id", order.ID))
	middleware.RecordOrderOperation("created")
	h.invalidateProducts(ctx, order.Items)

	event := models.OrderEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Total:     order.Total,
		Status:    order.Status,
		EventType: "order_created",
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		// The order is committed; a lost event must not fail the request.
		h.logger.Error("Failed to publish order_created event", zap.Error(err))
	}

	h.logger.Info("Order created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int("order_id", order.ID),
		zap.Int("items", len(order.Items)),
	)
	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) returnExistingOrder(c *gin.Context, ctx context.Context, requestID string) {
	var order models.Order
	err := scanOrder(h.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE request_id = $1", requestID), &order)
	if err != nil {
		h.logger.Error("Failed to load order for duplicate request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	items, err := h.fetchItems(ctx, order.ID)
	if err != nil {
		h.logger.Error("Failed to load items for duplicate request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	order.Items = items

	middleware.RecordOrderOperation("duplicate")
	h.logger.Info("Duplicate order submission", zap.String("request_id", requestID), zap.Int("order_id", order.ID))
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) fetchItems(ctx context.Context, orderID int) ([]models.OrderItem, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT id, order_id, product_id, quantity, price FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	var order models.Order
	err = scanOrder(h.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID), &order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	items, err := h.fetchItems(ctx, order.ID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to get order items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	order.Items = items

	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) GetUserOrders(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetUserOrders")
	defer span.End()

	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}
	span.SetAttributes(attribute.Int("user_id", userID))

	rows, err := h.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to get user orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan order", zap.Error(err))
			continue
		}
		orders = append(orders, order)
	}

	c.JSON(http.StatusOK, orders)
}

// UpdateOrderStatus overwrites the status unconditionally when the order
// exists; no transition graph is enforced. Cancelling goes through the
// restocking path.
func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "UpdateOrderStatus")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order status"})
		return
	}

	if req.Status == models.OrderStatusCancelled {
		h.cancelOrder(c, ctx, orderID)
		return
	}

	var order models.Order
	err = scanOrder(h.db.QueryRowContext(ctx,
		`UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $2 RETURNING `+orderColumns,
		req.Status, orderID), &order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to update order status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	middleware.RecordOrderOperation("status_updated")
	h.logger.Info("Order status updated",
		zap.Int("order_id", order.ID),
		zap.String("status", string(order.Status)),
	)
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CancelOrder")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	h.cancelOrder(c, ctx, orderID)
}

// cancelOrder restores every line item's stock and marks the order cancelled,
// regardless of its prior status, inside one transaction.
func (h *OrderHandler) cancelOrder(c *gin.Context, ctx context.Context, orderID int) {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT id, order_id, product_id, quantity, price FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		h.logger.Error("Failed to load order items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			rows.Close()
			h.logger.Error("Failed to scan order item", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		h.logger.Error("Failed to read order items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + $1 WHERE id = $2",
			item.Quantity, item.ProductID); err != nil {
			h.logger.Error("Failed to restore stock", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	var order models.Order
	err = scanOrder(tx.QueryRowContext(ctx,
		`UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $2 RETURNING `+orderColumns,
		models.OrderStatusCancelled, orderID), &order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		h.logger.Error("Failed to cancel order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := tx.Commit(); err != nil {
		h.logger.Error("Failed to commit cancellation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	order.Items = items
	middleware.RecordOrderOperation("cancelled")
	h.invalidateProducts(ctx, items)

	event := models.OrderEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Total:     order.Total,
		Status:    order.Status,
		EventType: "order_cancelled",
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Error("Failed to publish order_cancelled event", zap.Error(err))
	}

	h.logger.Info("Order cancelled", zap.Int("order_id", order.ID))
	c.JSON(http.StatusOK, order)
}

// invalidateProducts drops cached entries for products whose stock changed.
func (h *OrderHandler) invalidateProducts(ctx context.Context, items []models.OrderItem) {
	if h.redisClient == nil {
		return
	}
	for _, item := range items {
		if err := cache.DeleteProduct(ctx, h.redisClient, strconv.Itoa(item.ProductID)); err != nil {
			h.logger.Warn("Failed to invalidate product cache", zap.Int("product_id", item.ProductID), zap.Error(err))
		}
	}
}
