// Package messaging 基于 Outbox 模式的团事件发布实现。
package messaging

import (
	"context"

	"gorm.io/gorm"

	"github.com/wyfcoding/groupbuy/internal/group/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/messagequeue/outbox"
)

// OutboxEventPublisher 实现 domain.EventPublisher 接口，使用 Outbox 模式。
type OutboxEventPublisher struct {
	db      *gorm.DB
	manager *outbox.Manager
}

// NewOutboxEventPublisher 创建团事件发布器
func NewOutboxEventPublisher(db *gorm.DB, manager *outbox.Manager) *OutboxEventPublisher {
	return &OutboxEventPublisher{db: db, manager: manager}
}

// PublishGroupSettled 发布结算完成事件
func (p *OutboxEventPublisher) PublishGroupSettled(ctx context.Context, event *domain.GroupSettledEvent) error {
	return p.manager.PublishInTx(ctx, p.txOrDB(ctx), domain.TopicGroupSettled, event.GroupID, event)
}

// PublishGroupRefunded 发布退款完成事件
func (p *OutboxEventPublisher) PublishGroupRefunded(ctx context.Context, event *domain.GroupRefundedEvent) error {
	return p.manager.PublishInTx(ctx, p.txOrDB(ctx), domain.TopicGroupRefunded, event.GroupID, event)
}

func (p *OutboxEventPublisher) txOrDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok {
		return tx
	}
	return p.db
}
