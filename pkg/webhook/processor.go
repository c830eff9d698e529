package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/storefront/pkg/checkout"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/payment"
	"github.com/example/storefront/pkg/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Result tells the HTTP layer how to answer the provider. The provider
// retries any non-2xx delivery, so the distinction between Acked and
// Retryable is load-bearing: acking a delivery we could not handle loses it
// forever, failing one we did handle just wastes a redelivery.
type Result int

const (
	// ResultAcked: the delivery is handled (or intentionally dropped);
	// respond 2xx so the provider stops redelivering.
	ResultAcked Result = iota
	// ResultBadRequest: the delivery is not authentic or not parseable;
	// respond 400. Retries are not expected to help but are harmless.
	ResultBadRequest
	// ResultRetryable: a transient failure before the order committed;
	// respond 500 so the provider redelivers. Safe because the idempotency
	// guard makes re-processing a no-op once the insert lands.
	ResultRetryable
)

// OrderStore is the slice of the order repository the processor writes
// through.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order, items []models.OrderItem) error
}

// Auditor records lifecycle events to the audit trail. Best-effort: audit
// failures are logged and never affect the webhook response.
type Auditor interface {
	CreateAuditLog(ctx context.Context, log *repository.AuditLog) error
}

// ConfirmationDispatcher sends the confirmation email for a just-created
// order. Fire-and-forget; it must never block or fail the webhook.
type ConfirmationDispatcher interface {
	DispatchConfirmation(order *models.Order)
}

// Processor drives the order lifecycle from asynchronous payment-provider
// deliveries. It is the only writer that moves payment_status off pending
// and the only automatic writer of order_status = processing.
type Processor struct {
	webhookSecret string
	store         OrderStore
	audit         Auditor
	notify        ConfirmationDispatcher
	logger        *zap.Logger
}

func NewProcessor(webhookSecret string, store OrderStore, audit Auditor, notify ConfirmationDispatcher, logger *zap.Logger) *Processor {
	return &Processor{
		webhookSecret: webhookSecret,
		store:         store,
		audit:         audit,
		notify:        notify,
		logger:        logger,
	}
}

// Process handles one webhook delivery. Delivery is at-least-once and
// unordered; every path through here must stay safe under duplicates and
// replays.
func (p *Processor) Process(ctx context.Context, payload []byte, sigHeader string) (Result, error) {
	event, err := payment.ConstructEvent(payload, sigHeader, p.webhookSecret)
	if err != nil {
		if errors.Is(err, payment.ErrMissingSignature) ||
			errors.Is(err, payment.ErrInvalidSignature) ||
			errors.Is(err, payment.ErrStaleSignature) {
			// Security boundary, not a business error. Nothing in the body
			// was trusted or parsed.
			p.logger.Warn("Webhook signature verification failed",
				zap.Error(err),
				zap.Int("payload_bytes", len(payload)))
			return ResultBadRequest, err
		}
		p.logger.Warn("Webhook event unparseable", zap.Error(err))
		return ResultBadRequest, err
	}

	switch event.Type {
	case payment.EventCheckoutSessionCompleted:
		if !event.Session.Paid() {
			// The session finished but money has not moved yet (async
			// payment methods). A later delivery will carry paid status.
			p.logger.Info("Checkout completed but not paid, skipping",
				zap.String("session_id", event.Session.ID),
				zap.String("payment_status", event.Session.PaymentStatus))
			return ResultAcked, nil
		}
		return p.finalizeOrder(ctx, event.Session)

	case payment.EventCheckoutSessionExpired:
		// Deferred creation: nothing was persisted at checkout time, so an
		// abandoned session needs no cleanup.
		p.logger.Info("Checkout session expired",
			zap.String("session_id", event.Session.ID))
		p.writeAudit(ctx, repository.AuditSessionExpired, event.Session.ID, bson.M{})
		return ResultAcked, nil

	default:
		// Understood-but-unhandled events must still ack: the provider
		// treats non-2xx as "retry".
		p.logger.Info("Ignoring webhook event",
			zap.String("event_type", event.Type),
			zap.String("event_id", event.ID))
		return ResultAcked, nil
	}
}

// finalizeOrder is the single write path for new orders. The unique
// constraint on payment_session_id is what makes N deliveries of the same
// paid session produce exactly one order.
func (p *Processor) finalizeOrder(ctx context.Context, session *payment.CheckoutSession) (Result, error) {
	order, items, err := orderFromMetadata(session)
	if err != nil {
		// Terminal for this delivery: redelivery would carry the same
		// corrupt metadata, so acking and alerting is all that can be done.
		p.logger.Error("Webhook metadata unusable, dropping delivery",
			zap.String("session_id", session.ID),
			zap.Error(err))
		p.writeAudit(ctx, repository.AuditMetadataCorrupt, session.ID, bson.M{
			"error":    err.Error(),
			"metadata": session.Metadata,
		})
		return ResultAcked, nil
	}

	err = p.store.Create(ctx, order, items)
	switch {
	case errors.Is(err, repository.ErrDuplicateSession):
		p.logger.Info("Duplicate webhook delivery, order already exists",
			zap.String("session_id", session.ID),
			zap.String("order_number", order.OrderNumber))
		p.writeAudit(ctx, repository.AuditDuplicateWebhook, session.ID, bson.M{
			"order_number": order.OrderNumber,
		})
		return ResultAcked, nil

	case errors.Is(err, repository.ErrItemsPartial):
		// The order row committed, so the delivery counts as handled: the
		// money moved and the order is trackable. Missing line items are a
		// data-quality problem, not a rollback trigger.
		p.logger.Error("Order created but line items failed",
			zap.String("order_id", order.ID),
			zap.String("session_id", session.ID),
			zap.Error(err))

	case err != nil:
		// Nothing committed; let the provider redeliver.
		p.logger.Error("Failed to create order from webhook",
			zap.String("session_id", session.ID),
			zap.Error(err))
		return ResultRetryable, err
	}

	p.logger.Info("Order finalized",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("session_id", session.ID),
		zap.Float64("total", order.Total))
	p.writeAudit(ctx, repository.AuditOrderCreated, order.ID, bson.M{
		"order_number": order.OrderNumber,
		"session_id":   session.ID,
		"total":        order.Total,
	})

	// Best-effort side effect, outside the consistency boundary. The
	// delivery is acked no matter what happens to the email. The line items
	// come from metadata, so the confirmation is complete even when the
	// item insert only partially succeeded.
	if p.notify != nil {
		order.Items = items
		p.notify.DispatchConfirmation(order)
	}

	return ResultAcked, nil
}

// orderFromMetadata reconstructs the order the checkout initiator serialized
// into the session metadata. Under deferred creation this metadata is the
// only record of the purchase until the insert below succeeds.
func orderFromMetadata(session *payment.CheckoutSession) (*models.Order, []models.OrderItem, error) {
	meta := session.Metadata
	if len(meta) == 0 {
		return nil, nil, fmt.Errorf("session has no metadata")
	}

	orderNumber := meta[checkout.MetaOrderNumber]
	if orderNumber == "" {
		return nil, nil, fmt.Errorf("metadata missing %s", checkout.MetaOrderNumber)
	}
	email := meta[checkout.MetaCustomerEmail]
	if email == "" {
		email = session.CustomerEmail
	}
	if email == "" {
		return nil, nil, fmt.Errorf("metadata missing %s", checkout.MetaCustomerEmail)
	}

	var address checkout.ShippingAddress
	if err := json.Unmarshal([]byte(meta[checkout.MetaShippingAddress]), &address); err != nil {
		return nil, nil, fmt.Errorf("bad %s: %w", checkout.MetaShippingAddress, err)
	}
	var cartItems []checkout.CartItem
	if err := json.Unmarshal([]byte(meta[checkout.MetaItems]), &cartItems); err != nil {
		return nil, nil, fmt.Errorf("bad %s: %w", checkout.MetaItems, err)
	}
	if len(cartItems) == 0 {
		return nil, nil, fmt.Errorf("metadata %s is empty", checkout.MetaItems)
	}
	var totals checkout.Totals
	if err := json.Unmarshal([]byte(meta[checkout.MetaTotals]), &totals); err != nil {
		return nil, nil, fmt.Errorf("bad %s: %w", checkout.MetaTotals, err)
	}

	order := &models.Order{
		OrderNumber:      orderNumber,
		PaymentSessionID: session.ID,
		CustomerName:     meta[checkout.MetaCustomerName],
		CustomerEmail:    email,
		CustomerPhone:    meta[checkout.MetaCustomerPhone],
		ShippingAddress:  address.Address,
		ShippingCity:     address.City,
		ShippingState:    address.State,
		ShippingZip:      address.ZipCode,
		Subtotal:         totals.Subtotal,
		ShippingCost:     totals.ShippingCost,
		Tax:              totals.Tax,
		Total:            totals.Total,
		PaymentStatus:    models.PaymentCompleted,
		OrderStatus:      models.OrderProcessing,
	}

	items := make([]models.OrderItem, len(cartItems))
	for i, item := range cartItems {
		items[i] = models.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.Name,
			Color:       item.Color,
			Size:        item.Size,
			Price:       item.Price,
			Quantity:    1,
			ImageURL:    item.Image,
		}
	}

	return order, items, nil
}

func (p *Processor) writeAudit(ctx context.Context, action, entityID string, data bson.M) {
	if p.audit == nil {
		return
	}
	if err := p.audit.CreateAuditLog(ctx, &repository.AuditLog{
		Action:   action,
		EntityID: entityID,
		Data:     data,
	}); err != nil {
		p.logger.Warn("Failed to write audit log",
			zap.String("action", action),
			zap.Error(err))
	}
}
