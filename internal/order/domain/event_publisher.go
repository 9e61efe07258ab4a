package domain

import "context"

// EventPublisher 订单事件发布者接口
type EventPublisher interface {
	// PublishOrderPaid 发布订单支付完成事件
	PublishOrderPaid(ctx context.Context, event *OrderPaidEvent) error
}
