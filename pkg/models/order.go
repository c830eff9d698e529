package models

import (
	"time"
)

// PaymentStatus reflects the payment provider's view of money movement.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// OrderStatus reflects fulfillment state. Processing is the only status the
// webhook processor sets automatically; shipped, delivered and cancelled are
// operator-driven.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// ValidOrderStatus reports whether s is one of the known fulfillment states.
// There is no transition-legality check: operators may set any status after
// any status to correct mistakes.
func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// Order is one purchase attempt. Under deferred creation an Order row only
// exists once the payment provider has confirmed payment, so the webhook
// processor is the single writer of new rows. The unique index on
// PaymentSessionID is the idempotency guard for at-least-once webhook
// delivery.
type Order struct {
	ID               string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderNumber      string        `gorm:"type:varchar(32);not null;uniqueIndex" json:"order_number"`
	PaymentSessionID string        `gorm:"type:varchar(191);not null;uniqueIndex:ux_orders_payment_session" json:"payment_session_id"`
	CustomerName     string        `gorm:"type:varchar(120);not null" json:"customer_name"`
	CustomerEmail    string        `gorm:"type:varchar(190);not null" json:"customer_email"`
	CustomerPhone    string        `gorm:"type:varchar(40);not null" json:"customer_phone"`
	ShippingAddress  string        `gorm:"type:varchar(255);not null" json:"shipping_address"`
	ShippingCity     string        `gorm:"type:varchar(120);not null" json:"shipping_city"`
	ShippingState    string        `gorm:"type:varchar(120);not null" json:"shipping_state"`
	ShippingZip      string        `gorm:"type:varchar(20);not null" json:"shipping_zip"`
	Subtotal         float64       `gorm:"type:decimal(10,2);not null" json:"subtotal"`
	ShippingCost     float64       `gorm:"type:decimal(10,2);not null" json:"shipping_cost"`
	Tax              float64       `gorm:"type:decimal(10,2);not null" json:"tax"`
	Total            float64       `gorm:"type:decimal(10,2);not null" json:"total"`
	PaymentStatus    PaymentStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"payment_status"`
	OrderStatus      OrderStatus   `gorm:"type:varchar(20);not null;default:'pending';index" json:"order_status"`
	Items            []OrderItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem is one purchased line: a single unit of one product variant.
// Immutable after creation; deleted with its owning order.
type OrderItem struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     string    `gorm:"type:varchar(36);not null;index" json:"order_id"`
	ProductID   int64     `gorm:"not null;default:0" json:"product_id"`
	ProductName string    `gorm:"type:varchar(190);not null" json:"product_name"`
	Color       string    `gorm:"type:varchar(60)" json:"color"`
	Size        string    `gorm:"type:varchar(60)" json:"size"`
	Price       float64   `gorm:"type:decimal(10,2);not null" json:"price"`
	Quantity    int       `gorm:"not null;default:1" json:"quantity"`
	ImageURL    string    `gorm:"type:varchar(255)" json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (OrderItem) TableName() string {
	return "order_items"
}
