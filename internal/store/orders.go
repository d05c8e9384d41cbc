package store

import (
	"context"
	"database/sql"
	"fmt"

	"sambatan-service/internal/models"
)

// CreateOrder persists a new order row
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, buyer_id, seller_id, pool_id, total_amount,
			status, payment_status, shipping_deadline)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.BuyerID, order.SellerID, order.PoolID,
		order.TotalAmount, order.Status, order.PaymentStatus, order.ShippingDeadline)
	return err
}

// SaveOrder writes the mutable fields of an order after a transition. The
// identity, items and total never change after creation.
func (s *Store) SaveOrder(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders SET
			status = $1,
			payment_status = $2,
			confirmation_deadline = $3,
			auto_complete_at = $4,
			carrier = $5,
			tracking_number = $6,
			shipped_at = $7,
			dispute_reason = $8,
			cancel_reason = $9,
			updated_at = NOW()
		WHERE id = $10`

	_, err := s.db.ExecContext(ctx, query,
		order.Status, order.PaymentStatus,
		order.ConfirmationDeadline, order.AutoCompleteAt,
		order.Carrier, order.TrackingNumber, order.ShippedAt,
		order.DisputeReason, order.CancelReason, order.ID)
	return err
}

// GetOrderByID retrieves an order row
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT id, buyer_id, seller_id, COALESCE(pool_id, '') AS pool_id, total_amount, status, payment_status, shipping_deadline, confirmation_deadline, auto_complete_at, COALESCE(carrier, '') AS carrier, COALESCE(tracking_number, '') AS tracking_number, shipped_at, COALESCE(dispute_reason, '') AS dispute_reason, COALESCE(cancel_reason, '') AS cancel_reason, created_at, updated_at FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetLiveOrders retrieves non-terminal orders for hydration at startup
func (s *Store) GetLiveOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		`SELECT id, buyer_id, seller_id, COALESCE(pool_id, '') AS pool_id, total_amount, status, payment_status, shipping_deadline, confirmation_deadline, auto_complete_at, COALESCE(carrier, '') AS carrier, COALESCE(tracking_number, '') AS tracking_number, shipped_at, COALESCE(dispute_reason, '') AS dispute_reason, COALESCE(cancel_reason, '') AS cancel_reason, created_at, updated_at
		 FROM orders WHERE status NOT IN ($1, $2) ORDER BY created_at`,
		models.OrderStatusCompleted, models.OrderStatusCancelled)
	return orders, err
}

// GetOrdersByBuyerID retrieves orders for a buyer
func (s *Store) GetOrdersByBuyerID(ctx context.Context, buyerID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		`SELECT id, buyer_id, seller_id, COALESCE(pool_id, '') AS pool_id, total_amount, status, payment_status, shipping_deadline, confirmation_deadline, auto_complete_at, COALESCE(carrier, '') AS carrier, COALESCE(tracking_number, '') AS tracking_number, shipped_at, COALESCE(dispute_reason, '') AS dispute_reason, COALESCE(cancel_reason, '') AS cancel_reason, created_at, updated_at
		 FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
	return orders, err
}

// CreateOrderItem persists an order line
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (id, order_id, offering_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.OrderID, item.OfferingID, item.Quantity, item.UnitPrice)
	return err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}
