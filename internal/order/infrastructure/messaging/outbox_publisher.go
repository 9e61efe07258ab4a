// Package messaging 基于 Outbox 模式的订单事件发布实现。
// 事件先随业务事务落库，再由 outbox 处理器异步推送到 Kafka。
package messaging

import (
	"context"

	"gorm.io/gorm"

	"github.com/wyfcoding/groupbuy/internal/order/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
)

// OutboxEventPublisher 实现 domain.EventPublisher 接口，使用 Outbox 模式。
type OutboxEventPublisher struct {
	db      *gorm.DB
	manager *outbox.Manager
}

// NewOutboxEventPublisher 创建订单事件发布器
func NewOutboxEventPublisher(db *gorm.DB, manager *outbox.Manager) *OutboxEventPublisher {
	return &OutboxEventPublisher{db: db, manager: manager}
}

// PublishOrderPaid 发布订单支付完成事件。
// 调用方在事务内时事件与业务写同事务提交。
func (p *OutboxEventPublisher) PublishOrderPaid(ctx context.Context, event *domain.OrderPaidEvent) error {
	return p.manager.PublishInTx(ctx, p.txOrDB(ctx), domain.TopicOrderPaid, event.OrderID, event)
}

func (p *OutboxEventPublisher) txOrDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return p.db
}
