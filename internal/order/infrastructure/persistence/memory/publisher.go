package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/groupbuy/internal/order/domain"
)

// EventRecorder 进程内事件发布器，记录发布过的事件供测试断言。
type EventRecorder struct {
	mu   sync.Mutex
	Paid []*domain.OrderPaidEvent
}

// NewEventRecorder 创建进程内事件发布器
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// PublishOrderPaid 实现 domain.EventPublisher.PublishOrderPaid
func (r *EventRecorder) PublishOrderPaid(_ context.Context, event *domain.OrderPaidEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Paid = append(r.Paid, event)
	return nil
}

// PaidEvents 返回已发布的支付事件快照
func (r *EventRecorder) PaidEvents() []*domain.OrderPaidEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.OrderPaidEvent, len(r.Paid))
	copy(out, r.Paid)
	return out
}
