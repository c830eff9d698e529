package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/payment"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// CartItem is one client-held cart entry as submitted at checkout. Quantity
// is implicitly 1 per entry.
type CartItem struct {
	ProductID int64   `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Color     string  `json:"color"`
	Size      string  `json:"size"`
	Image     string  `json:"image"`
}

type Totals struct {
	Subtotal     float64 `json:"subtotal"`
	ShippingCost float64 `json:"shipping_cost"`
	Tax          float64 `json:"tax"`
	Total        float64 `json:"total"`
}

type ShippingAddress struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
}

// DraftOrder is the checkout request before any payment session exists.
// Nothing here is persisted; the draft rides to the provider as session
// metadata and comes back on the webhook.
type DraftOrder struct {
	CustomerName    string          `json:"customer_name"`
	CustomerEmail   string          `json:"customer_email"`
	CustomerPhone   string          `json:"customer_phone"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Items           []CartItem      `json:"items"`
	Totals          Totals          `json:"totals"`
}

// Session is what the storefront hands back to the browser: where to go and
// which order number to remember.
type Session struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
	OrderNumber string `json:"order_number"`
}

// FieldError is a single validation failure, surfaced to the caller with the
// offending field name. Validation failures are never logged as incidents.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	messages := make([]string, len(v))
	for i, fe := range v {
		messages[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(messages, "; ")
}

// SessionCreator is the slice of the payment client the initiator needs.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, params payment.CheckoutSessionParams) (*payment.CheckoutSession, error)
}

type Service struct {
	payments SessionCreator
	store    config.StoreConfig
	logger   *zap.Logger
}

func NewService(payments SessionCreator, store config.StoreConfig, logger *zap.Logger) *Service {
	return &Service{
		payments: payments,
		store:    store,
		logger:   logger,
	}
}

// InitiateSession validates the draft, mints the order number, and creates
// the provider-hosted checkout session. Nothing is persisted here: under
// deferred creation the webhook is the first and only writer of orders, so a
// provider failure leaves no partial state behind.
func (s *Service) InitiateSession(ctx context.Context, draft DraftOrder) (*Session, error) {
	if errs := s.validate(draft); len(errs) > 0 {
		return nil, errs
	}

	orderNumber := GenerateOrderNumber()

	lineItems := s.buildLineItems(draft)
	metadata, err := buildMetadata(orderNumber, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize order metadata: %w", err)
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payment.CheckoutSessionParams{
		LineItems:     lineItems,
		CustomerEmail: draft.CustomerEmail,
		SuccessURL:    s.store.PublicBaseURL + "/order-success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.store.PublicBaseURL + "/checkout",
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Checkout session initiated",
		zap.String("session_id", session.ID),
		zap.String("order_number", orderNumber),
		zap.Int("items", len(draft.Items)))

	return &Session{
		SessionID:   session.ID,
		RedirectURL: session.URL,
		OrderNumber: orderNumber,
	}, nil
}

func (s *Service) validate(draft DraftOrder) ValidationErrors {
	var errs ValidationErrors
	add := func(field, message string) {
		errs = append(errs, FieldError{Field: field, Message: message})
	}

	if len(draft.Items) == 0 {
		add("items", "cart is empty")
	}
	if strings.TrimSpace(draft.CustomerName) == "" {
		add("customer_name", "name is required")
	}
	if strings.TrimSpace(draft.CustomerEmail) == "" {
		add("customer_email", "email is required")
	} else if !emailPattern.MatchString(draft.CustomerEmail) {
		add("customer_email", "email is invalid")
	}
	if strings.TrimSpace(draft.CustomerPhone) == "" {
		add("customer_phone", "phone is required")
	}
	if strings.TrimSpace(draft.ShippingAddress.Address) == "" {
		add("shipping_address.address", "address is required")
	}
	if strings.TrimSpace(draft.ShippingAddress.City) == "" {
		add("shipping_address.city", "city is required")
	}
	if strings.TrimSpace(draft.ShippingAddress.State) == "" {
		add("shipping_address.state", "state is required")
	}
	if strings.TrimSpace(draft.ShippingAddress.ZipCode) == "" {
		add("shipping_address.zip_code", "zip code is required")
	}
	if len(errs) > 0 {
		return errs
	}

	// Client-computed totals are re-validated before use. Prices themselves
	// are still client-supplied; there is no catalog of record to re-price
	// against, and that trust boundary stays open on purpose.
	expected := s.ComputeTotals(draft.Items)
	if !amountsEqual(draft.Totals.Subtotal, expected.Subtotal) {
		add("totals.subtotal", fmt.Sprintf("expected %.2f", expected.Subtotal))
	}
	if !amountsEqual(draft.Totals.ShippingCost, expected.ShippingCost) {
		add("totals.shipping_cost", fmt.Sprintf("expected %.2f", expected.ShippingCost))
	}
	if !amountsEqual(draft.Totals.Tax, expected.Tax) {
		add("totals.tax", fmt.Sprintf("expected %.2f", expected.Tax))
	}
	if !amountsEqual(draft.Totals.Total, expected.Total) {
		add("totals.total", fmt.Sprintf("expected %.2f", expected.Total))
	}

	return errs
}

// ComputeTotals derives the server-side view of the money: flat shipping
// fee, flat tax rate on the subtotal, total as the sum of the three.
func (s *Service) ComputeTotals(items []CartItem) Totals {
	var subtotal float64
	for _, item := range items {
		subtotal += item.Price
	}
	subtotal = round2(subtotal)
	tax := round2(subtotal * s.store.TaxRate)
	return Totals{
		Subtotal:     subtotal,
		ShippingCost: s.store.ShippingFee,
		Tax:          tax,
		Total:        round2(subtotal + s.store.ShippingFee + tax),
	}
}

// buildLineItems produces one provider price line per cart item plus one for
// shipping and one for tax, so the provider's own total matches the local
// total exactly.
func (s *Service) buildLineItems(draft DraftOrder) []payment.LineItem {
	lineItems := make([]payment.LineItem, 0, len(draft.Items)+2)
	for _, item := range draft.Items {
		lineItems = append(lineItems, payment.LineItem{
			Name:        item.Name,
			Description: fmt.Sprintf("Color: %s, Size: %s", item.Color, item.Size),
			ImageURL:    s.absoluteImageURL(item.Image),
			UnitAmount:  toCents(item.Price),
			Currency:    s.store.Currency,
			Quantity:    1,
		})
	}

	totals := s.ComputeTotals(draft.Items)
	lineItems = append(lineItems,
		payment.LineItem{
			Name:        "Shipping",
			Description: "Standard shipping",
			UnitAmount:  toCents(totals.ShippingCost),
			Currency:    s.store.Currency,
			Quantity:    1,
		},
		payment.LineItem{
			Name:        "Tax",
			Description: "Sales tax",
			UnitAmount:  toCents(totals.Tax),
			Currency:    s.store.Currency,
			Quantity:    1,
		},
	)
	return lineItems
}

// absoluteImageURL resolves catalog-relative image paths against the public
// base URL; the provider only accepts absolute http(s) image URLs.
func (s *Service) absoluteImageURL(image string) string {
	if image == "" {
		return ""
	}
	if strings.HasPrefix(image, "/") {
		image = s.store.PublicBaseURL + image
	}
	if strings.HasPrefix(image, "https://") || strings.HasPrefix(image, "http://") {
		return image
	}
	return ""
}

// Metadata keys attached to the payment session. The webhook processor
// reconstructs the entire order from these; no other channel exists.
const (
	MetaOrderNumber     = "order_number"
	MetaCustomerName    = "customer_name"
	MetaCustomerEmail   = "customer_email"
	MetaCustomerPhone   = "customer_phone"
	MetaShippingAddress = "shipping_address"
	MetaItems           = "items"
	MetaTotals          = "totals"
)

func buildMetadata(orderNumber string, draft DraftOrder) (map[string]string, error) {
	address, err := json.Marshal(draft.ShippingAddress)
	if err != nil {
		return nil, err
	}
	items, err := json.Marshal(draft.Items)
	if err != nil {
		return nil, err
	}
	totals, err := json.Marshal(draft.Totals)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		MetaOrderNumber:     orderNumber,
		MetaCustomerName:    draft.CustomerName,
		MetaCustomerEmail:   draft.CustomerEmail,
		MetaCustomerPhone:   draft.CustomerPhone,
		MetaShippingAddress: string(address),
		MetaItems:           string(items),
		MetaTotals:          string(totals),
	}, nil
}

// GenerateOrderNumber mints the customer-facing tracking identifier: a
// time-based prefix for rough ordering plus a random suffix for collision
// resistance. It is never looked up by database id; it rides the payment
// session as opaque metadata.
func GenerateOrderNumber() string {
	timestamp := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%s", timestamp, suffix)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func amountsEqual(a, b float64) bool {
	// Tolerance of one minor currency unit.
	return math.Abs(a-b) < 0.01+1e-9
}
