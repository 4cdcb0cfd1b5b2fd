package handlers

import (
	"database/sql"
	"net/http"

	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type NewsletterHandler struct {
	db        *sql.DB
	publisher EventPublisher
	logger    *zap.Logger
}

func NewNewsletterHandler(db *sql.DB, publisher EventPublisher, logger *zap.Logger) *NewsletterHandler {
	return &NewsletterHandler{
		db:        db,
		publisher: publisher,
		logger:    logger,
	}
}

func (h *NewsletterHandler) Subscribe(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "NewsletterSubscribe")
	defer span.End()

	var req models.NewsletterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var sub models.NewsletterSubscription
	err := h.db.QueryRowContext(ctx,
		"INSERT INTO newsletter_subscriptions (email) VALUES ($1) RETURNING id, email, created_at",
		req.Email,
	).Scan(&sub.ID, &sub.Email, &sub.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already subscribed"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to subscribe", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	event := models.NewsletterEvent{
		Email:     sub.Email,
		EventType: "newsletter_subscribed",
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger.Error("Failed to publish newsletter event", zap.Error(err))
	}

	h.logger.Info("Newsletter subscription added", zap.String("email", sub.Email))
	c.JSON(http.StatusCreated, sub)
}

func (h *NewsletterHandler) Unsubscribe(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "NewsletterUnsubscribe")
	defer span.End()

	var req models.NewsletterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.db.ExecContext(ctx,
		"DELETE FROM newsletter_subscriptions WHERE email = $1", req.Email)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to unsubscribe", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Email not subscribed"})
		return
	}

	h.logger.Info("Newsletter subscription removed", zap.String("email", req.Email))
	c.JSON(http.StatusOK, gin.H{"message": "Unsubscribed successfully"})
}
