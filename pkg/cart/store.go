package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// cartTTL keeps a cart alive across reloads and sessions without keeping
// abandoned carts forever.
const cartTTL = 30 * 24 * time.Hour

// Item is one cart entry. ID is a cart-local identifier minted at add time
// and used only for removal; it is not a stable identity beyond this cart.
type Item struct {
	ID        string  `json:"id"`
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Color     string  `json:"color"`
	Size      string  `json:"size"`
	Image     string  `json:"image"`
}

// kv is the slice of the redis repository the cart needs.
type kv interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Store keeps one ordered item collection per client session, serialized as
// a whole on every mutation. Unreadable or malformed stored data is treated
// as an empty cart: the storefront must keep working even when the cart
// does not.
type Store struct {
	kv     kv
	logger *zap.Logger
}

func NewStore(kv kv, logger *zap.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// Items returns the cart contents in insertion order. Fails open to empty.
func (s *Store) Items(ctx context.Context, sessionID string) []Item {
	data, err := s.kv.Get(ctx, cartKey(sessionID))
	if err != nil {
		return nil
	}

	var items []Item
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		s.logger.Warn("Discarding malformed cart data",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil
	}
	return items
}

// Add appends the item with a freshly minted cart-local id and returns it.
func (s *Store) Add(ctx context.Context, sessionID string, item Item) (Item, error) {
	item.ID = uuid.New().String()
	items := append(s.Items(ctx, sessionID), item)
	if err := s.save(ctx, sessionID, items); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Remove deletes the entry with the given cart-local id. Removing an id
// that is not present is a no-op.
func (s *Store) Remove(ctx context.Context, sessionID, itemID string) error {
	items := s.Items(ctx, sessionID)
	kept := items[:0]
	for _, item := range items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	return s.save(ctx, sessionID, kept)
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	return s.kv.Del(ctx, cartKey(sessionID))
}

// Total sums item prices; quantity is implicitly 1 per entry.
func (s *Store) Total(ctx context.Context, sessionID string) float64 {
	var total float64
	for _, item := range s.Items(ctx, sessionID) {
		total += item.Price
	}
	return total
}

func (s *Store) save(ctx context.Context, sessionID string, items []Item) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, cartKey(sessionID), string(data), cartTTL); err != nil {
		return fmt.Errorf("failed to persist cart: %w", err)
	}
	return nil
}
