package domain

import (
	"context"
	"time"
)

// 事件主题
const (
	TopicGroupSettled  = "groupbuy.group.settled"
	TopicGroupRefunded = "groupbuy.group.refunded"
)

// GroupSettledEvent 结算完成事件
type GroupSettledEvent struct {
	GroupID     string    `json:"group_id"`
	LotID       string    `json:"lot_id"`
	Round       int64     `json:"round"`
	SellerID    string    `json:"seller_id"`
	GrossAmount string    `json:"gross_amount"`
	MemberCount int       `json:"member_count"`
	SettledAt   time.Time `json:"settled_at"`
}

// GroupRefundedEvent 退款完成事件
type GroupRefundedEvent struct {
	GroupID     string    `json:"group_id"`
	LotID       string    `json:"lot_id"`
	Round       int64     `json:"round"`
	MemberCount int       `json:"member_count"`
	RefundedAt  time.Time `json:"refunded_at"`
}

// EventPublisher 团生命周期事件发布接口，由基础设施层实现。
type EventPublisher interface {
	// PublishGroupSettled 发布结算完成事件
	PublishGroupSettled(ctx context.Context, event *GroupSettledEvent) error
	// PublishGroupRefunded 发布退款完成事件
	PublishGroupRefunded(ctx context.Context, event *GroupRefundedEvent) error
}
