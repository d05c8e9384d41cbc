package models

import "time"

// Offering is the catalog read model for a product offering that can run a
// group-buy. The catalog itself is owned externally; this service only reads it.
type Offering struct {
	ID              string  `db:"id" json:"id"`
	SellerID        string  `db:"seller_id" json:"seller_id"`
	Name            string  `db:"name" json:"name"`
	UnitPrice       int64   `db:"unit_price" json:"unit_price"`
	SambatanPrice   int64   `db:"sambatan_price" json:"sambatan_price"`
	MinPerBuyer     int     `db:"min_per_buyer" json:"min_per_buyer"`
	MaxPerBuyer     int     `db:"max_per_buyer" json:"max_per_buyer"`
	SellerSLAHours  int     `db:"seller_sla_hours" json:"seller_sla_hours"`
	MinViableFrac   float64 `db:"min_viable_frac" json:"min_viable_frac"`
	SambatanEnabled bool    `db:"sambatan_enabled" json:"sambatan_enabled"`
}

// Pool is the persisted record of a group-buy run. The authoritative live
// state is the in-memory engine; rows exist for durability and hydration.
type Pool struct {
	ID            string    `db:"id" json:"id"`
	OfferingID    string    `db:"offering_id" json:"offering_id"`
	SellerID      string    `db:"seller_id" json:"seller_id"`
	Target        int       `db:"target_participants" json:"target_participants"`
	MinPerBuyer   int       `db:"min_per_buyer" json:"min_per_buyer"`
	MaxPerBuyer   int       `db:"max_per_buyer" json:"max_per_buyer"`
	UnitPrice     int64     `db:"unit_price" json:"unit_price"`
	MinViableFrac float64   `db:"min_viable_frac" json:"min_viable_frac"`
	Deadline      time.Time `db:"deadline" json:"deadline"`
	State         string    `db:"state" json:"state"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Reservation is a buyer's committed slot count within a pool.
type Reservation struct {
	ID        string    `db:"id" json:"id"`
	PoolID    string    `db:"pool_id" json:"pool_id"`
	BuyerID   string    `db:"buyer_id" json:"buyer_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Pool states
const (
	PoolStateOpen           = "OPEN"
	PoolStateFilled         = "FILLED"
	PoolStateExpiredSuccess = "EXPIRED_SUCCESS"
	PoolStateExpiredFailed  = "EXPIRED_FAILED"
	PoolStateCancelled      = "CANCELLED"
)

// Order is a single buyer's order, either materialized from a pool or created
// directly. PoolID is empty for direct purchases.
type Order struct {
	ID                   string     `db:"id" json:"id"`
	BuyerID              string     `db:"buyer_id" json:"buyer_id"`
	SellerID             string     `db:"seller_id" json:"seller_id"`
	PoolID               string     `db:"pool_id" json:"pool_id,omitempty"`
	TotalAmount          int64      `db:"total_amount" json:"total_amount"`
	Status               string     `db:"status" json:"status"`
	PaymentStatus        string     `db:"payment_status" json:"payment_status"`
	ShippingDeadline     time.Time  `db:"shipping_deadline" json:"shipping_deadline"`
	ConfirmationDeadline *time.Time `db:"confirmation_deadline" json:"confirmation_deadline,omitempty"`
	AutoCompleteAt       *time.Time `db:"auto_complete_at" json:"auto_complete_at,omitempty"`
	Carrier              string     `db:"carrier" json:"carrier,omitempty"`
	TrackingNumber       string     `db:"tracking_number" json:"tracking_number,omitempty"`
	ShippedAt            *time.Time `db:"shipped_at" json:"shipped_at,omitempty"`
	DisputeReason        string     `db:"dispute_reason" json:"dispute_reason,omitempty"`
	CancelReason         string     `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line in an order, immutable after creation.
type OrderItem struct {
	ID         string `db:"id" json:"id"`
	OrderID    string `db:"order_id" json:"order_id"`
	OfferingID string `db:"offering_id" json:"offering_id"`
	Quantity   int    `db:"quantity" json:"quantity"`
	UnitPrice  int64  `db:"unit_price" json:"unit_price"`
}

// Order statuses
const (
	OrderStatusCreated              = "CREATED"
	OrderStatusAccepted             = "ACCEPTED"
	OrderStatusShipped              = "SHIPPED"
	OrderStatusAwaitingConfirmation = "AWAITING_CONFIRMATION"
	OrderStatusCompleted            = "COMPLETED"
	OrderStatusDisputed             = "DISPUTED"
	OrderStatusCancelled            = "CANCELLED"
)

// Payment statuses tracked on the order
const (
	PaymentStatusPending  = "PENDING"
	PaymentStatusCaptured = "CAPTURED"
	PaymentStatusFailed   = "FAILED"
)

// PoolFinalization records that a pool was finalized, for at-least-once dedup.
type PoolFinalization struct {
	PoolID      string    `db:"pool_id"`
	Kind        string    `db:"kind"`
	FinalizedAt time.Time `db:"finalized_at"`
}

// ProcessedEvent for inbound event idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
