package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-svc/cache"
	"storefront-svc/database"
	"storefront-svc/gateway"
	"storefront-svc/handlers"
	"storefront-svc/kafka"
	"storefront-svc/middleware"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis cache
	redisClient, err := cache.InitRedis(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()
	publisher := kafka.NewPublisher(producer, logger)

	// Initialize OpenTelemetry
	shutdownTracing, err := middleware.InitTracing("storefront")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("storefront"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())
	router.HandleMethodNotAllowed = true

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	// Auth endpoints
	authHandler := handlers.NewAuthHandler(db, logger)
	router.POST("/register", authHandler.Register)
	router.POST("/login", authHandler.Login)

	// Catalog endpoints
	productHandler := handlers.NewProductHandler(db, redisClient, logger)
	router.GET("/products", productHandler.GetProducts)
	router.GET("/products/:id", productHandler.GetProduct)

	// Reviews and questions
	reviewHandler := handlers.NewReviewHandler(db, redisClient, logger)
	router.GET("/products/:id/reviews", reviewHandler.GetReviews)
	questionHandler := handlers.NewQuestionHandler(db, logger)
	router.GET("/products/:id/questions", questionHandler.GetQuestions)

	// Categories
	categoryHandler := handlers.NewCategoryHandler(db, logger)
	router.GET("/categories", categoryHandler.GetCategories)

	// Newsletter
	newsletterHandler := handlers.NewNewsletterHandler(db, publisher, logger)
	router.POST("/newsletter/subscribe", newsletterHandler.Subscribe)
	router.DELETE("/newsletter/unsubscribe", newsletterHandler.Unsubscribe)

	// Payment gateway callback arrives unauthenticated from the gateway
	gatewayClient := gateway.NewClient(logger)
	paymentHandler := handlers.NewPaymentHandler(db, gatewayClient, publisher, logger)
	router.GET("/payment/callback", paymentHandler.Callback)

	// Authenticated endpoints
	orderHandler := handlers.NewOrderHandler(db, publisher, redisClient, logger)
	wishlistHandler := handlers.NewWishlistHandler(db, redisClient, logger)
	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware())
	{
		protected.GET("/profile", authHandler.GetProfile)
		protected.PUT("/profile", authHandler.UpdateProfile)

		protected.POST("/orders", orderHandler.CreateOrder)
		protected.GET("/orders/:id", orderHandler.GetOrder)
		protected.POST("/orders/:id/cancel", orderHandler.CancelOrder)
		protected.GET("/users/:id/orders", orderHandler.GetUserOrders)

		protected.POST("/payment/request", paymentHandler.RequestPayment)

		protected.POST("/products/:id/reviews", reviewHandler.CreateReview)
		protected.DELETE("/reviews/:id", reviewHandler.DeleteReview)

		protected.POST("/products/:id/questions", questionHandler.CreateQuestion)
		protected.POST("/questions/:id/answers", questionHandler.CreateAnswer)
		protected.DELETE("/questions/:id", questionHandler.DeleteQuestion)

		protected.POST("/wishlist", wishlistHandler.AddToWishlist)
		protected.DELETE("/wishlist", wishlistHandler.RemoveFromWishlist)
		protected.GET("/users/:id/wishlist", wishlistHandler.GetWishlist)
	}

	// Admin endpoints
	admin := router.Group("/")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminMiddleware())
	{
		admin.POST("/products", productHandler.CreateProduct)
		admin.PUT("/products/:id", productHandler.UpdateProduct)
		admin.DELETE("/products/:id", productHandler.DeleteProduct)

		admin.PUT("/orders/:id/status", orderHandler.UpdateOrderStatus)

		admin.POST("/categories", categoryHandler.CreateCategory)
		admin.DELETE("/categories/:id", categoryHandler.DeleteCategory)
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Storefront service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
