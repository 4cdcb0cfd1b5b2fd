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
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func setupQuestionTest(t *testing.T) (*QuestionHandler, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	handler := NewQuestionHandler(db, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/products/:id/questions", handler.CreateQuestion)
	router.GET("/products/:id/questions", handler.GetQuestions)
	router.POST("/questions/:id/answers", handler.CreateAnswer)
	router.DELETE("/questions/:id", handler.DeleteQuestion)

	return handler, mock, router
}

func TestQuestionHandler_CreateQuestion(t *testing.T) {
	handler, mock, router := setupQuestionTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("INSERT INTO questions").
		WithArgs(1, 10, "Does it shrink?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "product_id", "body", "created_at"}).
			AddRow(1, 1, 10, "Does it shrink?", time.Now()))

	body, _ := json.Marshal(models.CreateQuestionRequest{UserID: 1, Body: "Does it shrink?"})
	req := httptest.NewRequest("POST", "/products/10/questions", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}
}

func TestQuestionHandler_GetQuestions_WithAnswers(t *testing.T) {
	handler, mock, router := setupQuestionTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("FROM questions WHERE product_id = \\$1").
		WithArgs("10").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "product_id", "body", "created_at"}).
			AddRow(1, 1, 10, "Does it shrink?", time.Now()))
	mock.ExpectQuery("FROM answers WHERE question_id = \\$1").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "question_id", "user_id", "body", "created_at"}).
			AddRow(1, 1, 2, "No, it is preshrunk.", time.Now()))

	req := httptest.NewRequest("GET", "/products/10/questions", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var questions []models.Question
	if err := json.Unmarshal(w.Body.Bytes(), &questions); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(questions) != 1 || len(questions[0].Answers) != 1 {
		t.Errorf("Expected 1 question with 1 answer, got %d questions", len(questions))
	}
}

func TestQuestionHandler_CreateAnswer_QuestionMissing(t *testing.T) {
	handler, mock, router := setupQuestionTest(t)
	defer handler.db.Close()

	mock.ExpectQuery("SELECT id FROM questions WHERE id = \\$1").
		WithArgs(999).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	body, _ := json.Marshal(models.CreateAnswerRequest{UserID: 2, Body: "No."})
	req := httptest.NewRequest("POST", "/questions/999/answers", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestQuestionHandler_DeleteQuestion_RemovesAnswers(t *testing.T) {
	handler, mock, router := setupQuestionTest(t)
	defer handler.db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM answers WHERE question_id = \\$1").
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM questions WHERE id = \\$1").
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req := httptest.NewRequest("DELETE", "/questions/1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}
