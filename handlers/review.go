package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"storefront-svc/cache"
	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type ReviewHandler struct {
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewReviewHandler(db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *ReviewHandler {
	return &ReviewHandler{
		db:          db,
		redisClient: redisClient,
		logger:      logger,
	}
}

// recomputeRating rewrites the product's denormalized rating from the review
// rows inside the caller's transaction, so the two can never drift.
func recomputeRating(ctx context.Context, tx *sql.Tx, productID int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products SET rating = (
			SELECT COALESCE(AVG(rating), 0) FROM reviews WHERE product_id = $1
		 ) WHERE id = $1`, productID)
	return err
}

func (h *ReviewHandler) CreateReview(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateReview")
	defer span.End()

	productID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req models.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("product.id", productID), attribute.Int("rating", req.Rating))

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	var review models.Review
	err = tx.QueryRowContext(ctx,
		`INSERT INTO reviews (user_id, product_id, rating, comment)
		 VALUES ($1, $2, $3, $4) RETURNING id, user_id, product_id, rating, comment, created_at`,
		req.UserID, productID, req.Rating, req.Comment,
	).Scan(&review.ID, &review.UserID, &review.ProductID, &review.Rating, &review.Comment, &review.CreatedAt)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := recomputeRating(ctx, tx, productID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to recompute rating", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	cache.DeleteProduct(ctx, h.redisClient, strconv.Itoa(productID))

	h.logger.Info("Review created", zap.Int("review_id", review.ID), zap.Int("product_id", productID))
	c.JSON(http.StatusCreated, review)
}

func (h *ReviewHandler) GetReviews(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetReviews")
	defer span.End()

	productID := c.Param("id")
	span.SetAttributes(attribute.String("product.id", productID))

	rows, err := h.db.QueryContext(ctx,
		"SELECT id, user_id, product_id, rating, comment, created_at FROM reviews WHERE product_id = $1 ORDER BY created_at DESC",
		productID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.UserID, &r.ProductID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan review", zap.Error(err))
			continue
		}
		reviews = append(reviews, r)
	}

	c.JSON(http.StatusOK, reviews)
}

func (h *ReviewHandler) DeleteReview(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "DeleteReview")
	defer span.End()

	reviewID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid review ID"})
		return
	}
	span.SetAttributes(attribute.Int("review.id", reviewID))

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	var productID int
	err = tx.QueryRowContext(ctx,
		"DELETE FROM reviews WHERE id = $1 RETURNING product_id", reviewID).Scan(&productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to delete review", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := recomputeRating(ctx, tx, productID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to recompute rating", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit review delete", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	cache.DeleteProduct(ctx, h.redisClient, strconv.Itoa(productID))

	h.logger.Info("Review deleted", zap.Int("review_id", reviewID), zap.Int("product_id", productID))
	c.JSON(http.StatusOK, gin.H{"message": "Review deleted successfully"})
}
