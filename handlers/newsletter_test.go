package handlers

import (
	"bytes"
	"encoding/json"
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

func setupNewsletterTest(t *testing.T) (*NewsletterHandler, sqlmock.Sqlmock, *mockPublisher, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	publisher := &mockPublisher{}
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := NewNewsletterHandler(db, publisher, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/newsletter/subscribe", handler.Subscribe)
	router.DELETE("/newsletter/unsubscribe", handler.Unsubscribe)

	return handler, mock, publisher, router
}

func TestNewsletterHandler_Subscribe_Success(t *testing.T) {
	handler, mock, publisher, router := setupNewsletterTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("INSERT INTO newsletter_subscriptions").
		WithArgs("shopper@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "created_at"}).
			AddRow(1, "shopper@example.com", time.Now()))

	body, _ := json.Marshal(models.NewsletterRequest{Email: "shopper@example.com"})
	req := httptest.NewRequest("POST", "/newsletter/subscribe", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	if len(publisher.events) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(publisher.events))
	}
	if event := publisher.events[0].(models.NewsletterEvent); event.EventType != "newsletter_subscribed" {
		t.Errorf("Expected newsletter_subscribed event, got %s", event.EventType)
	}
}

func TestNewsletterHandler_Subscribe_Duplicate(t *testing.T) {
	handler, mock, publisher, router := setupNewsletterTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("INSERT INTO newsletter_subscriptions").
		WithArgs("shopper@example.com").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "newsletter_subscriptions_email_key"})

	body, _ := json.Marshal(models.NewsletterRequest{Email: "shopper@example.com"})
	req := httptest.NewRequest("POST", "/newsletter/subscribe", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status %d, got %d", http.StatusConflict, w.Code)
	}
	if len(publisher.events) != 0 {
		t.Errorf("Expected no events for a duplicate subscription, got %d", len(publisher.events))
	}
}

func TestNewsletterHandler_Subscribe_InvalidEmail(t *testing.T) {
	handler, _, _, router := setupNewsletterTest(t)
	defer handler.db.Close()

	body := []byte(`{"email":"not-an-email"}`)
	req := httptest.NewRequest("POST", "/newsletter/subscribe", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestNewsletterHandler_Unsubscribe_Success(t *testing.T) {
	handler, mock, _, router := setupNewsletterTest(t)
	defer handler.db.Close()

	mock.ExpectExec("DELETE FROM newsletter_subscriptions WHERE email = \\$1").
		WithArgs("shopper@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(models.NewsletterRequest{Email: "shopper@example.com"})
	req := httptest.NewRequest("DELETE", "/newsletter/unsubscribe", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestNewsletterHandler_Unsubscribe_NotSubscribed(t *testing.T) {
	handler, mock, _, router := setupNewsletterTest(t)
	defer handler.db.Close()

	mock.ExpectExec("DELETE FROM newsletter_subscriptions WHERE email = \\$1").
		WithArgs("stranger@example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	body, _ := json.Marshal(models.NewsletterRequest{Email: "stranger@example.com"})
	req := httptest.NewRequest("DELETE", "/newsletter/unsubscribe", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}
