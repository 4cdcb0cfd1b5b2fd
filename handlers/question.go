package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type QuestionHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewQuestionHandler(db *sql.DB, logger *zap.Logger) *QuestionHandler {
	return &QuestionHandler{
		db:     db,
		logger: logger,
	}
}

func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateQuestion")
	defer span.End()

	productID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req models.CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var question models.Question
	err = h.db.QueryRowContext(ctx,
		`INSERT INTO questions (user_id, product_id, body)
		 VALUES ($1, $2, $3) RETURNING id, user_id, product_id, body, created_at`,
		req.UserID, productID, req.Body,
	).Scan(&question.ID, &question.UserID, &question.ProductID, &question.Body, &question.CreatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create question", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Question created", zap.Int("question_id", question.ID))
	c.JSON(http.StatusCreated, question)
}

func (h *QuestionHandler) GetQuestions(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetQuestions")
	defer span.End()

	productID := c.Param("id")

	rows, err := h.db.QueryContext(ctx,
		"SELECT id, user_id, product_id, body, created_at FROM questions WHERE product_id = $1 ORDER BY created_at DESC",
		productID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch questions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	questions := []models.Question{}
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.UserID, &q.ProductID, &q.Body, &q.CreatedAt); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan question", zap.Error(err))
			continue
		}
		questions = append(questions, q)
	}

	// Attach answers per question; volumes are small enough that a query per
	// question is fine here.
	for i := range questions {
		answers, err := h.fetchAnswers(c, questions[i].ID)
		if err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to fetch answers", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		questions[i].Answers = answers
	}

	c.JSON(http.StatusOK, questions)
}

func (h *QuestionHandler) fetchAnswers(c *gin.Context, questionID int) ([]models.Answer, error) {
	rows, err := h.db.QueryContext(c.Request.Context(),
		"SELECT id, question_id, user_id, body, created_at FROM answers WHERE question_id = $1 ORDER BY created_at",
		questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []models.Answer
	for rows.Next() {
		var a models.Answer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.UserID, &a.Body, &a.CreatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (h *QuestionHandler) CreateAnswer(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateAnswer")
	defer span.End()

	questionID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid question ID"})
		return
	}

	var req models.CreateAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Answers belong to an existing question
	var exists int
	err = h.db.QueryRowContext(ctx, "SELECT id FROM questions WHERE id = $1", questionID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Question not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to check question", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var answer models.Answer
	err = h.db.QueryRowContext(ctx,
		`INSERT INTO answers (question_id, user_id, body)
		 VALUES ($1, $2, $3) RETURNING id, question_id, user_id, body, created_at`,
		questionID, req.UserID, req.Body,
	).Scan(&answer.ID, &answer.QuestionID, &answer.UserID, &answer.Body, &answer.CreatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create answer", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Answer created", zap.Int("answer_id", answer.ID))
	c.JSON(http.StatusCreated, answer)
}

func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "DeleteQuestion")
	defer span.End()

	questionID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid question ID"})
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM answers WHERE question_id = $1", questionID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to delete answers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM questions WHERE id = $1", questionID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to delete question", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Question not found"})
		return
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit question delete", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Question deleted", zap.Int("question_id", questionID))
	c.JSON(http.StatusOK, gin.H{"message": "Question deleted successfully"})
}
