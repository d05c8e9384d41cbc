package models

import "time"

// Event types
const (
	EventTypePoolFilled          = "POOL_FILLED"
	EventTypePoolExpired         = "POOL_EXPIRED"
	EventTypePoolCancelled       = "POOL_CANCELLED"
	EventTypePoolFinalized       = "POOL_FINALIZED"
	EventTypeOrderCreated        = "ORDER_CREATED"
	EventTypeOrderShipped        = "ORDER_SHIPPED"
	EventTypeOrderDisputed       = "ORDER_DISPUTED"
	EventTypeOrderCompleted      = "ORDER_COMPLETED"
	EventTypeOrderCancelled      = "ORDER_CANCELLED"
	EventTypePaymentCaptureReq   = "PAYMENT_CAPTURE_REQUESTED"
	EventTypeRefundRequested     = "REFUND_REQUESTED"
	EventTypePaymentCaptured     = "PAYMENT_CAPTURED"
	EventTypePaymentFailed       = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PoolFilledEvent published when the last slot of a pool is taken
type PoolFilledEvent struct {
	BaseEvent
	PoolID       string `json:"pool_id"`
	OfferingID   string `json:"offering_id"`
	Participants int    `json:"participants"`
}

// PoolExpiredEvent published when the deadline sweep closes a pool.
// Outcome is EXPIRED_SUCCESS or EXPIRED_FAILED.
type PoolExpiredEvent struct {
	BaseEvent
	PoolID       string `json:"pool_id"`
	OfferingID   string `json:"offering_id"`
	Outcome      string `json:"outcome"`
	Participants int    `json:"participants"`
}

// PoolCancelledEvent published when a seller or admin cancels a pool
type PoolCancelledEvent struct {
	BaseEvent
	PoolID string `json:"pool_id"`
	Reason string `json:"reason"`
}

// PoolFinalizedEvent published once fulfillment has materialized a pool's
// outcome. FailedBuyers lists participants whose order creation failed and
// were routed to refund instead.
type PoolFinalizedEvent struct {
	BaseEvent
	PoolID       string   `json:"pool_id"`
	Kind         string   `json:"kind"`
	OrderIDs     []string `json:"order_ids"`
	FailedBuyers []string `json:"failed_buyers,omitempty"`
}

// OrderCreatedEvent published when an order is materialized
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	PoolID      string `json:"pool_id,omitempty"`
	TotalAmount int64  `json:"total_amount"`
}

// OrderShippedEvent published on entering SHIPPED, for carrier tracking UI
// and buyer notification
type OrderShippedEvent struct {
	BaseEvent
	OrderID        string    `json:"order_id"`
	BuyerID        string    `json:"buyer_id"`
	Carrier        string    `json:"carrier"`
	TrackingNumber string    `json:"tracking_number"`
	ShippedAt      time.Time `json:"shipped_at"`
}

// OrderDisputedEvent published on entering DISPUTED, for the mediation queue
type OrderDisputedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id"`
	Reason  string `json:"reason"`
}

// OrderCompletedEvent published on entering COMPLETED, for review eligibility
// and analytics
type OrderCompletedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id"`
}

// OrderCancelledEvent published on entering CANCELLED
type OrderCancelledEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// PaymentCaptureRequestedEvent asks the external payment system to capture
// an order's total
type PaymentCaptureRequestedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id"`
	Amount  int64  `json:"amount"`
}

// RefundRequestedEvent asks the external payment system to refund a buyer's
// committed amount for a failed or cancelled pool, or a cancelled order
type RefundRequestedEvent struct {
	BaseEvent
	BuyerID string `json:"buyer_id"`
	PoolID  string `json:"pool_id,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Amount  int64  `json:"amount"`
}

// PaymentCapturedEvent delivered by the payment system when capture succeeds
type PaymentCapturedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	TxID    string `json:"tx_id"`
	Amount  int64  `json:"amount"`
}

// PaymentFailedEvent delivered by the payment system when capture fails
type PaymentFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}
