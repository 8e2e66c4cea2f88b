package domain

// Order statuses. pending_confirmation holds card orders until the
// authorization is captured; pending is the fulfilment queue.
const (
	OrderStatusPendingConfirmation = "pending_confirmation"
	OrderStatusPending             = "pending"
	OrderStatusAuthorized          = "authorized"
	OrderStatusShipped             = "shipped"
	OrderStatusDelivered           = "delivered"
	OrderStatusCancelled           = "cancelled"
)

// Payment statuses tracked in parallel with the order status.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusPaid       = "paid"
	PaymentStatusCancelled  = "cancelled"
	PaymentStatusRefunded   = "refunded"
	PaymentStatusFailed     = "failed"
)

// Payment methods accepted at checkout.
const (
	PaymentMethodCard = "card"
	PaymentMethodCOD  = "cod"
)
