package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/example/storefront/pkg/cart"
	"github.com/example/storefront/pkg/checkout"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/payment"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/webhook"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const signatureHeader = "Stripe-Signature"

func (s *Server) createCheckoutSession(c *gin.Context) {
	var draft checkout.DraftOrder
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := s.checkout.InitiateSession(c.Request.Context(), draft)
	if err != nil {
		var validationErrs checkout.ValidationErrors
		if errors.As(err, &validationErrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": validationErrs,
			})
			return
		}
		var apiErr *payment.APIError
		if errors.As(err, &apiErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": apiErr.Message})
			return
		}
		s.logger.Error("Checkout session creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, session)
}

// handlePaymentWebhook hands the raw body to the processor: signature
// verification runs over the exact bytes the provider signed, so nothing may
// touch the body before the processor does.
func (s *Server) handlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	result, err := s.processor.Process(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	switch result {
	case webhook.ResultBadRequest:
		c.JSON(http.StatusBadRequest, gin.H{"error": errMessage(err, "invalid webhook delivery")})
	case webhook.ResultRetryable:
		c.JSON(http.StatusInternalServerError, gin.H{"error": errMessage(err, "webhook processing failed")})
	default:
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func (s *Server) verifyPayment(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session_id"})
		return
	}

	session, err := s.payments.GetCheckoutSession(c.Request.Context(), sessionID)
	if err != nil {
		var apiErr *payment.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		s.logger.Error("Failed to retrieve checkout session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify payment"})
		return
	}

	if !session.Paid() {
		c.JSON(http.StatusOK, gin.H{
			"success":        false,
			"payment_status": session.PaymentStatus,
		})
		return
	}

	order, err := s.orders.GetBySessionID(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Paid but the webhook has not landed yet. The poller treats
			// this as "try again", not as a failure.
			c.JSON(http.StatusOK, gin.H{"success": false, "processing": true})
			return
		}
		s.logger.Error("Failed to look up order by session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify payment"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (s *Server) listOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, err := s.orders.List(c.Request.Context(), repository.ListFilters{
		OrderStatus:   models.OrderStatus(c.Query("order_status")),
		PaymentStatus: models.PaymentStatus(c.Query("payment_status")),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		s.logger.Error("Failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch orders"})
		return
	}

	c.JSON(http.StatusOK, orders)
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.orders.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		s.logger.Error("Failed to get order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
		return
	}

	c.JSON(http.StatusOK, order)
}

func (s *Server) updateOrderStatus(c *gin.Context) {
	var req struct {
		OrderStatus models.OrderStatus `json:"order_status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderStatus == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing order_status"})
		return
	}
	if !models.ValidOrderStatus(req.OrderStatus) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown order_status"})
		return
	}

	current, err := s.orders.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		s.logger.Error("Failed to get order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update order"})
		return
	}
	previous := current.OrderStatus

	order, err := s.orders.UpdateStatus(c.Request.Context(), c.Param("id"), req.OrderStatus)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		s.logger.Error("Failed to update order status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update order"})
		return
	}

	// Manual status changes go to the audit trail; a failed write is logged
	// and never fails the update.
	if err := s.audit.CreateAuditLog(c.Request.Context(), &repository.AuditLog{
		Action:   repository.AuditStatusChanged,
		EntityID: order.ID,
		Data: bson.M{
			"from": string(previous),
			"to":   string(order.OrderStatus),
		},
	}); err != nil {
		s.logger.Warn("Failed to write audit log",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, order)
}

func (s *Server) getOrderAudit(c *gin.Context) {
	logs, err := s.audit.GetAuditLogs(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		s.logger.Error("Failed to fetch audit trail", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch audit trail"})
		return
	}

	c.JSON(http.StatusOK, logs)
}

// Cart handlers. The cart session rides a header minted by the frontend and
// kept in its local storage.

const cartSessionHeader = "X-Cart-Session"

func (s *Server) cartSession(c *gin.Context) (string, bool) {
	sessionID := c.GetHeader(cartSessionHeader)
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + cartSessionHeader + " header"})
		return "", false
	}
	return sessionID, true
}

func (s *Server) getCart(c *gin.Context) {
	sessionID, ok := s.cartSession(c)
	if !ok {
		return
	}

	items := s.cart.Items(c.Request.Context(), sessionID)
	if items == nil {
		items = []cart.Item{}
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": s.cart.Total(c.Request.Context(), sessionID),
	})
}

func (s *Server) addCartItem(c *gin.Context) {
	sessionID, ok := s.cartSession(c)
	if !ok {
		return
	}

	var item cart.Item
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if item.Name == "" || item.Price < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item requires a name and a non-negative price"})
		return
	}

	added, err := s.cart.Add(c.Request.Context(), sessionID, item)
	if err != nil {
		s.logger.Error("Failed to add cart item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update cart"})
		return
	}

	c.JSON(http.StatusCreated, added)
}

func (s *Server) removeCartItem(c *gin.Context) {
	sessionID, ok := s.cartSession(c)
	if !ok {
		return
	}

	if err := s.cart.Remove(c.Request.Context(), sessionID, c.Param("id")); err != nil {
		s.logger.Error("Failed to remove cart item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) clearCart(c *gin.Context) {
	sessionID, ok := s.cartSession(c)
	if !ok {
		return
	}

	if err := s.cart.Clear(c.Request.Context(), sessionID); err != nil {
		s.logger.Error("Failed to clear cart", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func errMessage(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
