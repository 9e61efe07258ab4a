package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/groupbuy/internal/group/domain"
)

// EventRecorder 进程内事件发布器，记录发布过的事件供测试断言。
type EventRecorder struct {
	mu       sync.Mutex
	Settled  []*domain.GroupSettledEvent
	Refunded []*domain.GroupRefundedEvent
}

// NewEventRecorder 创建进程内事件发布器
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// PublishGroupSettled 实现 domain.EventPublisher.PublishGroupSettled
func (r *EventRecorder) PublishGroupSettled(_ context.Context, event *domain.GroupSettledEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Settled = append(r.Settled, event)
	return nil
}

// PublishGroupRefunded 实现 domain.EventPublisher.PublishGroupRefunded
func (r *EventRecorder) PublishGroupRefunded(_ context.Context, event *domain.GroupRefundedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Refunded = append(r.Refunded, event)
	return nil
}

// SettledEvents 返回已发布的结算事件快照
func (r *EventRecorder) SettledEvents() []*domain.GroupSettledEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.GroupSettledEvent, len(r.Settled))
	copy(out, r.Settled)
	return out
}

// RefundedEvents 返回已发布的退款事件快照
func (r *EventRecorder) RefundedEvents() []*domain.GroupRefundedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.GroupRefundedEvent, len(r.Refunded))
	copy(out, r.Refunded)
	return out
}
