package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"storefront-svc/cache"
	"storefront-svc/middleware"
	"storefront-svc/models"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxPerPage = 100

// sortClauses maps the public sort keys to ORDER BY clauses. Unknown keys
// fall back to newest without an error.
var sortClauses = map[string]string{
	"price_asc":  "price ASC",
	"price_desc": "price DESC",
	"rating":     "rating DESC",
	"newest":     "created_at DESC",
}

type ProductHandler struct {
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

func NewProductHandler(db *sql.DB, redisClient *redis.Client, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		db:          db,
		redisClient: redisClient,
		logger:      logger,
	}
}

const productColumns = "id, name, price, discount, description, category, image, rating, stock, featured, wishlist_count, created_at, updated_at"

func scanProduct(row interface{ Scan(...any) error }, p *models.Product) error {
	return row.Scan(&p.ID, &p.Name, &p.Price, &p.Discount, &p.Description, &p.Category,
		&p.Image, &p.Rating, &p.Stock, &p.Featured, &p.WishlistCount, &p.CreatedAt, &p.UpdatedAt)
}

func (h *ProductHandler) GetProducts(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetProducts")
	defer span.End()

	var q models.ProductListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = 9
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}

	var conditions []string
	var args []interface{}

	if q.Category != "" {
		args = append(args, q.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if q.MinPrice != nil {
		args = append(args, *q.MinPrice)
		conditions = append(conditions, fmt.Sprintf("price >= $%d", len(args)))
	}
	if q.MaxPrice != nil {
		args = append(args, *q.MaxPrice)
		conditions = append(conditions, fmt.Sprintf("price <= $%d", len(args)))
	}
	if q.Featured != nil {
		args = append(args, *q.Featured)
		conditions = append(conditions, fmt.Sprintf("featured = $%d", len(args)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	// Total is the full filtered count, independent of the requested page.
	var total int
	countQuery := "SELECT COUNT(*) FROM products" + whereClause
	if err := h.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to count products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	orderBy, ok := sortClauses[q.Sort]
	if !ok {
		orderBy = sortClauses["newest"]
	}

	args = append(args, q.PerPage, (q.Page-1)*q.PerPage)
	listQuery := fmt.Sprintf("SELECT %s FROM products%s ORDER BY %s LIMIT $%d OFFSET $%d",
		productColumns, whereClause, orderBy, len(args)-1, len(args))

	rows, err := h.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch products", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := scanProduct(rows, &p); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to scan product", zap.Error(err))
			continue
		}
		products = append(products, p)
	}

	span.SetAttributes(
		attribute.Int("products.count", len(products)),
		attribute.Int("products.total", total),
	)
	c.JSON(http.StatusOK, models.ProductListResponse{
		Products: products,
		Total:    total,
		Page:     q.Page,
		PerPage:  q.PerPage,
	})
}

func (h *ProductHandler) GetProduct(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetProduct")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("product.id", id))

	// Try the cache first
	if cachedData, err := cache.GetProduct(ctx, h.redisClient, id); err == nil {
		var product models.Product
		if err := json.Unmarshal(cachedData, &product); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			middleware.RecordProductCache("hit")
			c.JSON(http.StatusOK, product)
			return
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))
	middleware.RecordProductCache("miss")

	var product models.Product
	err := scanProduct(h.db.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id), &product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to fetch product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// Sizes, colors and reviews are independent read-only lookups; fetch them
	// concurrently and wait for all three.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sizes, err := h.fetchStrings(gctx, "SELECT size FROM product_sizes WHERE product_id = $1", id)
		product.Sizes = sizes
		return err
	})
	g.Go(func() error {
		colors, err := h.fetchStrings(gctx, "SELECT color FROM product_colors WHERE product_id = $1", id)
		product.Colors = colors
		return err
	})
	g.Go(func() error {
		reviews, err := h.fetchReviews(gctx, id)
		product.Reviews = reviews
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to fetch product details", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := cache.SetProduct(ctx, h.redisClient, id, product); err != nil {
		h.logger.Warn("Failed to cache product", zap.String("product_id", id), zap.Error(err))
	}

	c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) fetchStrings(ctx context.Context, query, id string) ([]string, error) {
	rows, err := h.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func (h *ProductHandler) fetchReviews(ctx context.Context, id string) ([]models.Review, error) {
	rows, err := h.db.QueryContext(ctx,
		"SELECT id, user_id, product_id, rating, comment, created_at FROM reviews WHERE product_id = $1 ORDER BY created_at DESC", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.UserID, &r.ProductID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func (h *ProductHandler) CreateProduct(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateProduct")
	defer span.End()

	var req models.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	var product models.Product
	err = scanProduct(tx.QueryRowContext(ctx,
		`INSERT INTO products (name, price, discount, description, category, image, stock, featured)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+productColumns,
		req.Name, req.Price, req.Discount, req.Description, req.Category, req.Image, req.Stock, req.Featured,
	), &product)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to create product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	for _, size := range req.Sizes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO product_sizes (product_id, size) VALUES ($1, $2)", product.ID, size); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to insert product size", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}
	for _, color := range req.Colors {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO product_colors (product_id, color) VALUES ($1, $2)", product.ID, color); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to insert product color", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	product.Sizes = req.Sizes
	product.Colors = req.Colors

	span.SetAttributes(attribute.Int("product.id", product.ID))
	h.logger.Info("Product created", zap.Int("product_id", product.ID))
	c.JSON(http.StatusCreated, product)
}

func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "UpdateProduct")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("product.id", id))

	var req models.UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	// COALESCE keeps stored values for fields the caller omitted.
	var product models.Product
	err = scanProduct(tx.QueryRowContext(ctx,
		`UPDATE products SET
			name = COALESCE($1, name),
			price = COALESCE($2, price),
			discount = COALESCE($3, discount),
			description = COALESCE($4, description),
			category = COALESCE($5, category),
			image = COALESCE($6, image),
			stock = COALESCE($7, stock),
			featured = COALESCE($8, featured),
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = $9 RETURNING `+productColumns,
		req.Name, req.Price, req.Discount, req.Description, req.Category, req.Image, req.Stock, req.Featured, id,
	), &product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to update product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if req.Sizes != nil {
		if err := h.replaceStrings(ctx, tx, "product_sizes", "size", product.ID, *req.Sizes); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to replace product sizes", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}
	if req.Colors != nil {
		if err := h.replaceStrings(ctx, tx, "product_colors", "color", product.ID, *req.Colors); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to replace product colors", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit product update", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	cache.DeleteProduct(ctx, h.redisClient, id)

	h.logger.Info("Product updated", zap.String("product_id", id))
	c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) replaceStrings(ctx context.Context, tx *sql.Tx, table, column string, productID int, values []string) error {
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE product_id = $1", table), productID); err != nil {
		return err
	}
	for _, v := range values {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (product_id, %s) VALUES ($1, $2)", table, column), productID, v); err != nil {
			return err
		}
	}
	return nil
}

func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "DeleteProduct")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("product.id", id))

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to begin transaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer tx.Rollback()

	// Child rows first, then the product itself.
	for _, stmt := range []string{
		"DELETE FROM product_sizes WHERE product_id = $1",
		"DELETE FROM product_colors WHERE product_id = $1",
		"DELETE FROM reviews WHERE product_id = $1",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			span.RecordError(err)
			h.logger.Error("Failed to delete product children", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to delete product", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to commit product delete", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	cache.DeleteProduct(ctx, h.redisClient, id)

	h.logger.Info("Product deleted", zap.String("product_id", id))
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}
