package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// mockPublisher records published events; sarama.SyncProducer is too wide an
// interface to mock directly.
type mockPublisher struct {
	events []any
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, event any) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func setupOrderTest(t *testing.T) (*OrderHandler, sqlmock.Sqlmock, *mockPublisher, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	publisher := &mockPublisher{}
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := NewOrderHandler(db, publisher, nil, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/orders", handler.CreateOrder)
	router.GET("/orders/:id", handler.GetOrder)
	router.POST("/orders/:id/cancel", handler.CancelOrder)
	router.PUT("/orders/:id/status", handler.UpdateOrderStatus)
	router.GET("/users/:id/orders", handler.GetUserOrders)

	return handler, mock, publisher, router
}

func orderRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "total", "status", "payment_method", "shipping_address", "created_at", "updated_at",
	})
}

func itemColumns() []string {
	return []string{"id", "order_id", "product_id", "quantity", "price"}
}

func createOrderBody() []byte {
	body, _ := json.Marshal(models.CreateOrderRequest{
		UserID: 1,
		Items: []models.OrderItemRequest{
			{ProductID: 10, Quantity: 2, Price: 50.0},
			{ProductID: 11, Quantity: 1, Price: 30.0},
		},
		Total:           130.0,
		PaymentMethod:   "gateway",
		ShippingAddress: "1 Test Street",
		RequestID:       "req-abc-123",
	})
	return body
}

func TestOrderHandler_CreateOrder_Success(t *testing.T) {
	handler, mock, publisher, router := setupOrderTest(t)
	defer handler.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(1, 130.0, models.OrderStatusProcessing, "gateway", "1 Test Street", "req-abc-123").
		WillReturnRows(orderRows().
			AddRow(1, 1, 130.0, "processing", "gateway", "1 Test Street", time.Now(), time.Now()))

	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(1, 10, 2, 50.0).
		WillReturnRows(sqlmock.NewRows(itemColumns()).AddRow(1, 1, 10, 2, 50.0))
	mock.ExpectExec("UPDATE products SET stock = stock - \\$1 WHERE id = \\$2").
		WithArgs(2, 10).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(1, 11, 1, 30.0).
		WillReturnRows(sqlmock.NewRows(itemColumns()).AddRow(2, 1, 11, 1, 30.0))
	mock.ExpectExec("UPDATE products SET stock = stock - \\$1 WHERE id = \\$2").
		WithArgs(1, 11).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec("INSERT INTO user_orders").
		WithArgs(1, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req := httptest.NewRequest("POST", "/orders", bytes.NewBuffer(createOrderBody()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var order models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(order.Items) != 2 {
		t.Errorf("Expected 2 order items, got %d", len(order.Items))
	}

	if len(publisher.events) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(publisher.events))
	}
	event, ok := publisher.events[0].(models.OrderEvent)
	if !ok {
		t.Fatalf("Expected OrderEvent, got %T", publisher.events[0])
	}
	if event.EventType != "order_created" || event.OrderID != 1 {
		t.Errorf("Unexpected event: %+v", event)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_CreateOrder_ItemFailureRollsBack(t *testing.T) {
	handler, mock, publisher, router := setupOrderTest(t)
	defer handler.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(orderRows().
			AddRow(1, 1, 130.0, "processing", "gateway", "1 Test Street", time.Now(), time.Now()))
	mock.ExpectQuery("INSERT INTO order_items").
		WithArgs(1, 10, 2, 50.0).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	req := httptest.NewRequest("POST", "/orders", bytes.NewBuffer(createOrderBody()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if len(publisher.events) != 0 {
		t.Errorf("Expected no events after rollback, got %d", len(publisher.events))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_CreateOrder_DuplicateRequestID(t *testing.T) {
	handler, mock, publisher, router := setupOrderTest(t)
	defer handler.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "orders_request_id_key"})
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE request_id = \\$1").
		WithArgs("req-abc-123").
		WillReturnRows(orderRows().
			AddRow(1, 1, 130.0, "processing", "gateway", "1 Test Street", time.Now(), time.Now()))
	mock.ExpectQuery("FROM order_items WHERE order_id = \\$1").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(itemColumns()).
			AddRow(1, 1, 10, 2, 50.0).
			AddRow(2, 1, 11, 1, 30.0))
	mock.ExpectRollback()

	req := httptest.NewRequest("POST", "/orders", bytes.NewBuffer(createOrderBody()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	// A retried submission returns the original order, not a new one.
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var order models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if order.ID != 1 || len(order.Items) != 2 {
		t.Errorf("Expected existing order 1 with 2 items, got id=%d items=%d", order.ID, len(order.Items))
	}

	if len(publisher.events) != 0 {
		t.Errorf("Expected no events for a duplicate submission, got %d", len(publisher.events))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_GetOrder_NotFound(t *testing.T) {
	handler, mock, _, router := setupOrderTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("FROM orders WHERE id = \\$1").
		WithArgs(999).
		WillReturnRows(orderRows())

	req := httptest.NewRequest("GET", "/orders/999", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestOrderHandler_CancelOrder_RestoresStock(t *testing.T) {
	handler, mock, publisher, router := setupOrderTest(t)
	defer handler.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM order_items WHERE order_id = \\$1").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(itemColumns()).
			AddRow(1, 1, 10, 2, 50.0).
			AddRow(2, 1, 11, 1, 30.0))
	mock.ExpectExec("UPDATE products SET stock = stock \\+ \\$1 WHERE id = \\$2").
		WithArgs(2, 10).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE products SET stock = stock \\+ \\$1 WHERE id = \\$2").
		WithArgs(1, 11).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE orders SET status = \\$1").
		WithArgs(models.OrderStatusCancelled, 1).
		WillReturnRows(orderRows().
			AddRow(1, 1, 130.0, "cancelled", "gateway", "1 Test Street", time.Now(), time.Now()))
	mock.ExpectCommit()

	req := httptest.NewRequest("POST", "/orders/1/cancel", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var order models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if order.Status != models.OrderStatusCancelled {
		t.Errorf("Expected status cancelled, got %s", order.Status)
	}

	if len(publisher.events) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(publisher.events))
	}
	if event := publisher.events[0].(models.OrderEvent); event.EventType != "order_cancelled" {
		t.Errorf("Expected order_cancelled event, got %s", event.EventType)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_UpdateOrderStatus_Shipped(t *testing.T) {
	handler, mock, _, router := setupOrderTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("UPDATE orders SET status = \\$1").
		WithArgs(models.OrderStatusShipped, 1).
		WillReturnRows(orderRows().
			AddRow(1, 1, 130.0, "shipped", "gateway", "1 Test Street", time.Now(), time.Now()))

	body := []byte(`{"status":"shipped"}`)
	req := httptest.NewRequest("PUT", "/orders/1/status", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_UpdateOrderStatus_InvalidStatus(t *testing.T) {
	handler, _, _, router := setupOrderTest(t)
	defer handler.db.Close()

	body := []byte(`{"status":"teleported"}`)
	req := httptest.NewRequest("PUT", "/orders/1/status", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestOrderHandler_UpdateOrderStatus_NotFound(t *testing.T) {
	handler, mock, _, router := setupOrderTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("UPDATE orders SET status = \\$1").
		WithArgs(models.OrderStatusDelivered, 999).
		WillReturnRows(orderRows())

	body := []byte(`{"status":"delivered"}`)
	req := httptest.NewRequest("PUT", "/orders/999/status", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestOrderHandler_GetUserOrders(t *testing.T) {
	handler, mock, _, router := setupOrderTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("FROM orders WHERE user_id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRows().
			AddRow(2, 1, 80.0, "delivered", "gateway", "", time.Now(), time.Now()).
			AddRow(1, 1, 130.0, "processing", "gateway", "1 Test Street", time.Now(), time.Now()))

	req := httptest.NewRequest("GET", "/users/1/orders", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var orders []models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &orders); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("Expected 2 orders, got %d", len(orders))
	}
}
