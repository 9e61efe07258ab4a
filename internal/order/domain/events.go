package domain

import (
	"time"
)

// 事件主题
const (
	TopicOrderPaid = "groupbuy.order.paid"
)

// OrderPaidEvent 订单支付完成事件
type OrderPaidEvent struct {
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	LotID          string    `json:"lot_id"`
	Round          int64     `json:"round"`
	Quantity       int64     `json:"quantity"`
	Amount         string    `json:"amount"`
	PaymentEntryID string    `json:"payment_entry_id"`
	OccurredOn     time.Time `json:"occurred_on"`
}
