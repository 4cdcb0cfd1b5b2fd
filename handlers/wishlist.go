package handlers

import (
	"context"
	"database/sql"
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

type WishlistHandler struct {
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewWishlistHandler(db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *WishlistHandler {
	return &WishlistHandler{
		db:          db,
		redisClient: redisClient,
		logger:      logger,
	}
}

// recomputeWishlistCount rewrites the denormalized counter from the row count
// inside the caller's transaction; adds and removes can therefore never make
// it drift.
func recomputeWishlistCount(ctx context.Context, tx *sql.Tx, productID int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE products SET wishlist_count = (
			SELECT COUNT(*) FROM user_wishlist WHERE product_id = $1
		 ) WHERE id = $1`, productID)
	return err
}

// AddToWishlist is idempotent: adding the same product twice neither creates
// a second row nor double-increments the counter.
func (h *WishlistHandler) AddToWishlist(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "AddToWishlist")
	defer span.End()

	var req models.WishlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("user_id", req.UserID), attribute.Int("product.id", req.ProductID))

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_wishlist (user_id, product_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, product_id) DO NOTHING`,
		req.UserID, req.ProductID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to add wishlist entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := recomputeWishlistCount(ctx, tx, req.ProductID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to recompute wishlist count", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit wishlist add", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	cache.DeleteProduct(ctx, h.redisClient, strconv.Itoa(req.ProductID))

	h.logger.Info("Wishlist entry added", zap.Int("user_id", req.UserID), zap.Int("product_id", req.ProductID))
	c.JSON(http.StatusCreated, gin.H{"message": "Added to wishlist"})
}

func (h *WishlistHandler) RemoveFromWishlist(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "RemoveFromWishlist")
	defer span.End()

	var req models.WishlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"DELETE FROM user_wishlist WHERE user_id = $1 AND product_id = $2",
		req.UserID, req.ProductID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to remove wishlist entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Wishlist entry not found"})
		return
	}

	if err := recomputeWishlistCount(ctx, tx, req.ProductID); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to recompute wishlist count", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit wishlist remove", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	cache.DeleteProduct(ctx, h.redisClient, strconv.Itoa(req.ProductID))

	h.logger.Info("Wishlist entry removed", zap.Int("user_id", req.UserID), zap.Int("product_id", req.ProductID))
	c.JSON(http.StatusOK, gin.H{"message": "Removed from wishlist"})
}

func (h *WishlistHandler) GetWishlist(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetWishlist")
	defer span.End()

	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}
	span.SetAttributes(attribute.Int("user_id", userID))

	rows, err := h.db.QueryContext(ctx,
		`SELECT p.id, p.name, p.price, p.discount, p.description, p.category, p.image,
		        p.rating, p.stock, p.featured, p.wishlist_count, p.created_at, p.updated_at
		 FROM products p
		 JOIN user_wishlist w ON w.product_id = p.id
		 WHERE w.user_id = $1
		 ORDER BY w.created_at DESC`, userID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch wishlist", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := scanProduct(rows, &p); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan wishlist product", zap.Error(err))
			continue
		}
		products = append(products, p)
	}

	c.JSON(http.StatusOK, products)
}
