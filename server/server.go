package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/example/storefront/pkg/cart"
	"github.com/example/storefront/pkg/checkout"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/payment"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/webhook"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// OrderReader is the order repository surface the HTTP layer needs.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	List(ctx context.Context, filters repository.ListFilters) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error)
}

// SessionRetriever fetches the provider's view of a checkout session.
type SessionRetriever interface {
	GetCheckoutSession(ctx context.Context, sessionID string) (*payment.CheckoutSession, error)
}

// CheckoutInitiator starts a hosted checkout session for a draft order.
type CheckoutInitiator interface {
	InitiateSession(ctx context.Context, draft checkout.DraftOrder) (*checkout.Session, error)
}

// WebhookProcessor handles one raw webhook delivery.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, sigHeader string) (webhook.Result, error)
}

// AuditStore records and reads the mongo audit trail. The admin console
// reads it; manual status changes write to it.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, log *repository.AuditLog) error
	GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*repository.AuditLog, error)
}

type Server struct {
	config    *config.Config
	logger    *zap.Logger
	router    *gin.Engine
	checkout  CheckoutInitiator
	processor WebhookProcessor
	orders    OrderReader
	payments  SessionRetriever
	audit     AuditStore
	cart      *cart.Store
}

func New(cfg *config.Config, logger *zap.Logger, co CheckoutInitiator, wp WebhookProcessor, orders OrderReader, payments SessionRetriever, audit AuditStore, cartStore *cart.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	return &Server{
		config:    cfg,
		logger:    logger,
		router:    router,
		checkout:  co,
		processor: wp,
		orders:    orders,
		payments:  payments,
		audit:     audit,
		cart:      cartStore,
	}
}

func (s *Server) SetupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Checkout flow
	s.router.POST("/checkout-sessions", s.createCheckoutSession)
	s.router.POST("/webhooks/payment", s.handlePaymentWebhook)
	s.router.GET("/payment-verification", s.verifyPayment)

	// Orders: admin console and success page both read here
	orders := s.router.Group("/orders")
	{
		orders.GET("", s.listOrders)
		orders.GET("/:id", s.getOrder)
		orders.PATCH("/:id", s.updateOrderStatus)
		orders.GET("/:id/audit", s.getOrderAudit)
	}

	// Cart
	cartGroup := s.router.Group("/cart")
	{
		cartGroup.GET("", s.getCart)
		cartGroup.POST("/items", s.addCartItem)
		cartGroup.DELETE("/items/:id", s.removeCartItem)
		cartGroup.DELETE("", s.clearCart)
	}

	// Swagger
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("Storefront server starting", zap.String("address", addr))
	return s.router.Run(addr)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
