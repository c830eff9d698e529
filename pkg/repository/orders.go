package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned by lookups that match no order.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateSession is returned by Create when an order already carries
	// the payment session id. The webhook processor treats it as "already
	// handled", never as a failure.
	ErrDuplicateSession = errors.New("order already exists for payment session")
	// ErrItemsPartial is returned when the order row committed but one or
	// more line items did not. The order stands; the money already moved.
	ErrItemsPartial = errors.New("order created but line items failed to persist")
)

// ListFilters narrows List results. Zero values mean "no filter".
type ListFilters struct {
	OrderStatus   models.OrderStatus
	PaymentStatus models.PaymentStatus
	Limit         int
	Offset        int
}

// NewDB opens the MySQL connection and migrates the order tables.
// TranslateError makes the driver surface duplicate-key violations as
// gorm.ErrDuplicatedKey, which Create relies on.
func NewDB(cfg *config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.AutoMigrate(&models.Order{}, &models.OrderItem{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return db, nil
}

type OrderRepository struct {
	db     *gorm.DB
	cache  *RedisRepository
	logger *zap.Logger
}

// NewOrderRepository creates the order store. cache may be nil; caching is
// best-effort and never affects correctness.
func NewOrderRepository(db *gorm.DB, cache *RedisRepository, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, cache: cache, logger: logger}
}

// Create inserts an order and then its line items. The order insert is the
// idempotency guard: the unique index on payment_session_id makes
// check-and-create a single atomic operation at the storage layer, so
// concurrent duplicate webhook deliveries cannot double-create. A
// read-then-write check here would race.
//
// Line items are inserted after the order commits and are deliberately not
// part of the same transaction: if they fail the order must still exist and
// remain trackable (ErrItemsPartial).
func (r *OrderRepository) Create(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := r.db.WithContext(ctx).Omit("Items").Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// order_number is unique too, so confirm the conflict really is
			// the session guard before reporting "already handled"; a misread
			// here would silently drop a paid order.
			if _, lookupErr := r.getOne(ctx, "payment_session_id = ?", order.PaymentSessionID); lookupErr == nil {
				return ErrDuplicateSession
			}
			return fmt.Errorf("failed to insert order: conflict on another unique index: %w", err)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
	}
	if len(items) > 0 {
		if err := r.db.WithContext(ctx).Create(&items).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrItemsPartial, err)
		}
	}
	order.Items = items

	if r.cache != nil {
		r.cache.CacheOrder(ctx, order)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetBySessionID is the lookup the success-page poller hammers while waiting
// for the webhook, so it reads through the redis cache first.
func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if r.cache != nil {
		order, err := r.cache.GetCachedOrder(ctx, sessionID)
		if err == nil {
			return order, nil
		}
		if !IsMiss(err) && r.logger != nil {
			r.logger.Warn("Order cache read failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}

	order, err := r.getOne(ctx, "payment_session_id = ?", sessionID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.CacheOrder(ctx, order)
	}
	return order, nil
}

func (r *OrderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return r.getOne(ctx, "order_number = ?", orderNumber)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Preload("Items").Where(query, arg).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// List returns orders newest-first with their items, filtered and paginated
// for the admin console.
func (r *OrderRepository) List(ctx context.Context, filters ListFilters) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Preload("Items").Order("created_at DESC")

	if filters.OrderStatus != "" {
		query = query.Where("order_status = ?", filters.OrderStatus)
	}
	if filters.PaymentStatus != "" {
		query = query.Where("payment_status = ?", filters.PaymentStatus)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query = query.Limit(limit).Offset(filters.Offset)

	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus sets order_status and bumps updated_at, nothing else.
// Payment status is owned by the webhook processor and never touched here.
// There is no transition-legality check: any status may follow any status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	result := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(map[string]interface{}{
		"order_status": status,
		"updated_at":   time.Now(),
	})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update order status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	order, err := r.getOne(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.InvalidateOrder(ctx, order.PaymentSessionID)
	}
	return order, nil
}
